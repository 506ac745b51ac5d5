package reward

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepCreditAPI/internal/apperr"
)

func intPtr(n int) *int { return &n }

func timePtr(t time.Time) *time.Time { return &t }

func TestInWindow(t *testing.T) {
	now := time.Now()

	t.Run("active with no window", func(t *testing.T) {
		r := &Reward{IsActive: true}
		assert.NoError(t, r.InWindow(now))
	})

	t.Run("inactive looks like not found", func(t *testing.T) {
		r := &Reward{IsActive: false}
		err := r.InWindow(now)
		require.Error(t, err)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("not started yet looks like not found", func(t *testing.T) {
		r := &Reward{IsActive: true, StartDate: timePtr(now.Add(time.Hour))}
		err := r.InWindow(now)
		require.Error(t, err)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	})

	t.Run("past end date is expired", func(t *testing.T) {
		r := &Reward{IsActive: true, EndDate: timePtr(now.Add(-time.Hour))}
		err := r.InWindow(now)
		require.Error(t, err)
		assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))
	})

	t.Run("inside window", func(t *testing.T) {
		r := &Reward{
			IsActive:  true,
			StartDate: timePtr(now.Add(-time.Hour)),
			EndDate:   timePtr(now.Add(time.Hour)),
		}
		assert.NoError(t, r.InWindow(now))
	})
}

func TestCheckStock(t *testing.T) {
	t.Run("unlimited never runs out", func(t *testing.T) {
		r := &Reward{}
		assert.NoError(t, r.CheckStock(1000000))
	})

	t.Run("below quantity", func(t *testing.T) {
		r := &Reward{Quantity: intPtr(10)}
		assert.NoError(t, r.CheckStock(9))
	})

	t.Run("at quantity is out of stock", func(t *testing.T) {
		r := &Reward{Quantity: intPtr(10)}
		err := r.CheckStock(10)
		require.Error(t, err)
		assert.Equal(t, apperr.KindOutOfStock, apperr.KindOf(err))
	})

	t.Run("zero quantity is always out of stock", func(t *testing.T) {
		r := &Reward{Quantity: intPtr(0)}
		err := r.CheckStock(0)
		require.Error(t, err)
		assert.Equal(t, apperr.KindOutOfStock, apperr.KindOf(err))
	})
}

func TestCheckUserLimit(t *testing.T) {
	t.Run("no limit", func(t *testing.T) {
		r := &Reward{}
		assert.NoError(t, r.CheckUserLimit(100))
	})

	t.Run("below limit", func(t *testing.T) {
		r := &Reward{UserLimit: intPtr(3)}
		assert.NoError(t, r.CheckUserLimit(2))
	})

	t.Run("at limit", func(t *testing.T) {
		r := &Reward{UserLimit: intPtr(3)}
		err := r.CheckUserLimit(3)
		require.Error(t, err)
		assert.Equal(t, apperr.KindUserLimit, apperr.KindOf(err))
	})
}

func TestRemainingInventory(t *testing.T) {
	t.Run("nil for unlimited", func(t *testing.T) {
		r := &Reward{}
		assert.Nil(t, r.RemainingInventory(5))
	})

	t.Run("counts down", func(t *testing.T) {
		r := &Reward{Quantity: intPtr(10)}
		left := r.RemainingInventory(4)
		require.NotNil(t, left)
		assert.Equal(t, 6, *left)
	})

	t.Run("clamps at zero", func(t *testing.T) {
		r := &Reward{Quantity: intPtr(10)}
		left := r.RemainingInventory(15)
		require.NotNil(t, left)
		assert.Equal(t, 0, *left)
	})
}

func TestRedemptionStatusCountsAgainstInventory(t *testing.T) {
	assert.True(t, StatusPending.CountsAgainstInventory())
	assert.True(t, StatusProcessing.CountsAgainstInventory())
	assert.True(t, StatusFulfilled.CountsAgainstInventory())
	assert.False(t, StatusCancelled.CountsAgainstInventory())
	assert.False(t, StatusExpired.CountsAgainstInventory())
}

func TestCreateRewardRequestValidate(t *testing.T) {
	valid := func() *CreateRewardRequest {
		return &CreateRewardRequest{
			Name:        "Coffee Voucher",
			Description: "A free coffee",
			Type:        TypeDigitalCoupon,
			Cost:        100,
		}
	}

	assert.NoError(t, valid().Validate())

	t.Run("missing name", func(t *testing.T) {
		req := valid()
		req.Name = ""
		assert.Error(t, req.Validate())
	})

	t.Run("non-positive cost", func(t *testing.T) {
		req := valid()
		req.Cost = 0
		assert.Error(t, req.Validate())
	})

	t.Run("unknown type", func(t *testing.T) {
		req := valid()
		req.Type = "mystery_box"
		assert.Error(t, req.Validate())
	})

	t.Run("negative quantity", func(t *testing.T) {
		req := valid()
		req.Quantity = intPtr(-1)
		assert.Error(t, req.Validate())
	})

	t.Run("zero user limit", func(t *testing.T) {
		req := valid()
		req.UserLimit = intPtr(0)
		assert.Error(t, req.Validate())
	})
}

package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepCreditAPI/internal/apperr"
	"stepCreditAPI/internal/reward"
	"stepCreditAPI/tests/helpers"
)

// Eight users race for a single unit of stock: exactly one wins, the rest see
// out-of-stock, and exactly one redemption row exists afterwards.
func TestRedeem_ConcurrentStockRace(t *testing.T) {
	creditService, rewardService, cleanup := newRewardStack(t)
	defer cleanup()

	ctx := context.Background()

	created := seedReward(t, rewardService, &reward.CreateRewardRequest{
		Name:        "Test Last Unit",
		Description: "Only one exists",
		Type:        reward.TypeExperience,
		Cost:        10,
		Quantity:    intPtr(1),
	})

	const workers = 8
	base := helpers.TestUserID()
	users := make([]string, workers)
	for i := range users {
		users[i] = fmt.Sprintf("%s_%d", base, i)
		_, err := creditService.Credit(ctx, users[i], 100, "earned", "daily_steps", "test credits", nil, uuid.Nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := rewardService.Redeem(ctx, userID, created.ID)
			errs <- err
		}(users[i])
	}
	wg.Wait()
	close(errs)

	var succeeded, outOfStock int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.KindOf(err) == apperr.KindOutOfStock:
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, outOfStock)
}

// One user fires concurrent redemptions at a one-per-user reward with no
// inventory cap. The per-user serialization must make exactly one win; the
// rest fail the limit check, and only one debit lands on the ledger.
func TestRedeem_ConcurrentSameUserLimit(t *testing.T) {
	creditService, rewardService, cleanup := newRewardStack(t)
	defer cleanup()

	ctx := context.Background()
	userID := helpers.TestUserID()

	created := seedReward(t, rewardService, &reward.CreateRewardRequest{
		Name:        "Test Once Per User",
		Description: "Unlimited stock, one per user",
		Type:        reward.TypeDigitalCoupon,
		Cost:        50,
		UserLimit:   intPtr(1),
		DigitalCode: true,
	})

	_, err := creditService.Credit(ctx, userID, 500, "earned", "daily_steps", "test credits", nil, uuid.Nil)
	require.NoError(t, err)

	const workers = 6
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rewardService.Redeem(ctx, userID, created.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, limited int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.KindOf(err) == apperr.KindUserLimit:
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, limited)

	history, err := rewardService.ListRedemptions(ctx, userID, "", 50, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1, "only one redemption may exist against a limit of 1")

	balance, err := creditService.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 450, balance.AvailableCredits, "only one debit may land")
	assert.Equal(t, balance.LifetimeEarned-balance.LifetimeSpent, balance.AvailableCredits)
}

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepCreditAPI/handlers"
	"stepCreditAPI/internal/apperr"
	"stepCreditAPI/internal/cache"
	"stepCreditAPI/internal/notification"
	"stepCreditAPI/internal/reward"
	"stepCreditAPI/middleware"
	"stepCreditAPI/services"
	"stepCreditAPI/tests/helpers"
)

func newRewardStack(t *testing.T) (*services.CreditService, *services.RewardService, func()) {
	pool := helpers.SetupTestDB(t)

	creditService := services.NewCreditService(pool)
	rewardService := services.NewRewardService(pool, creditService, cache.New("", ""))

	return creditService, rewardService, func() { helpers.CleanupTestDB(t, pool) }
}

func intPtr(n int) *int { return &n }

func seedReward(t *testing.T, rewardService *services.RewardService, req *reward.CreateRewardRequest) *reward.Reward {
	t.Helper()
	created, err := rewardService.CreateReward(context.Background(), req)
	require.NoError(t, err)
	return created
}

func TestRedemptionFlow(t *testing.T) {
	creditService, rewardService, cleanup := newRewardStack(t)
	defer cleanup()

	userID := helpers.TestUserID()
	ctx := context.Background()

	created := seedReward(t, rewardService, &reward.CreateRewardRequest{
		Name:        "Test Coffee Voucher",
		Description: "A free coffee",
		Type:        reward.TypeDigitalCoupon,
		Cost:        100,
		Category:    "food",
		DigitalCode: true,
	})

	// Without credits the redemption fails atomically: no debit, no redemption.
	_, err := rewardService.Redeem(ctx, userID, created.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientCredits, apperr.KindOf(err))

	history, err := rewardService.ListRedemptions(ctx, userID, "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, history, "failed redemption must not be recorded")

	// Fund the account and redeem for real.
	_, err = creditService.Credit(ctx, userID, 250, "earned", "daily_steps", "test credits", nil, uuid.Nil)
	require.NoError(t, err)

	resp, err := rewardService.Redeem(ctx, userID, created.ID)
	require.NoError(t, err)

	assert.Equal(t, reward.StatusFulfilled, resp.Redemption.Status, "digital rewards fulfill immediately")
	assert.True(t, strings.HasPrefix(resp.FulfillmentCode, "SC"))
	assert.Equal(t, "Test Coffee Voucher", resp.Reward.Name)

	balance, err := creditService.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 150, balance.AvailableCredits)
	assert.Equal(t, 100, balance.LifetimeSpent)

	history, err = rewardService.ListRedemptions(ctx, userID, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].RewardID)
}

func TestRedemption_UserLimit(t *testing.T) {
	creditService, rewardService, cleanup := newRewardStack(t)
	defer cleanup()

	userID := helpers.TestUserID()
	ctx := context.Background()

	created := seedReward(t, rewardService, &reward.CreateRewardRequest{
		Name:        "Test Limited Gear",
		Description: "One per user",
		Type:        reward.TypePhysicalItem,
		Cost:        50,
		UserLimit:   intPtr(1),
	})

	_, err := creditService.Credit(ctx, userID, 500, "earned", "daily_steps", "test credits", nil, uuid.Nil)
	require.NoError(t, err)

	_, err = rewardService.Redeem(ctx, userID, created.ID)
	require.NoError(t, err)

	_, err = rewardService.Redeem(ctx, userID, created.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUserLimit, apperr.KindOf(err))
	assert.Equal(t, http.StatusConflict, apperr.StatusCode(err))

	// The failed attempt spent nothing.
	balance, err := creditService.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 450, balance.AvailableCredits)
}

func TestRedemption_OutOfStock(t *testing.T) {
	creditService, rewardService, cleanup := newRewardStack(t)
	defer cleanup()

	ctx := context.Background()

	created := seedReward(t, rewardService, &reward.CreateRewardRequest{
		Name:        "Test Scarce Item",
		Description: "Only one exists",
		Type:        reward.TypeExperience,
		Cost:        10,
		Quantity:    intPtr(1),
	})

	first := helpers.TestUserID()
	second := first + "_b"
	for _, u := range []string{first, second} {
		_, err := creditService.Credit(ctx, u, 100, "earned", "daily_steps", "test credits", nil, uuid.Nil)
		require.NoError(t, err)
	}

	_, err := rewardService.Redeem(ctx, first, created.ID)
	require.NoError(t, err)

	_, err = rewardService.Redeem(ctx, second, created.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindOutOfStock, apperr.KindOf(err))
	assert.Equal(t, http.StatusGone, apperr.StatusCode(err))
}

func TestRedemption_ExpiredWindow(t *testing.T) {
	creditService, rewardService, cleanup := newRewardStack(t)
	defer cleanup()

	userID := helpers.TestUserID()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	created := seedReward(t, rewardService, &reward.CreateRewardRequest{
		Name:        "Test Expired Promo",
		Description: "Too late",
		Type:        reward.TypeDigitalCoupon,
		Cost:        10,
		EndDate:     &past,
	})

	_, err := creditService.Credit(ctx, userID, 100, "earned", "daily_steps", "test credits", nil, uuid.Nil)
	require.NoError(t, err)

	_, err = rewardService.Redeem(ctx, userID, created.ID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindExpired, apperr.KindOf(err))
}

func TestRedemption_UnknownReward(t *testing.T) {
	_, rewardService, cleanup := newRewardStack(t)
	defer cleanup()

	_, err := rewardService.Redeem(context.Background(), helpers.TestUserID(), uuid.NewString())
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// The handler surfaces the error taxonomy as status codes and stable codes.
func TestRedeemHandler_StatusMapping(t *testing.T) {
	_, rewardService, cleanup := newRewardStack(t)
	defer cleanup()

	rewardHandler := handlers.NewRewardHandler(rewardService)
	userID := helpers.TestUserID()

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/rewards/{id}/redeem", rewardHandler.Redeem).Methods("POST")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rewards/"+uuid.NewString()+"/redeem", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "NOT_FOUND")
}

func TestExpireStaleRedemptions(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	creditService := services.NewCreditService(pool)
	rewardService := services.NewRewardService(pool, creditService, cache.New("", ""))
	notificationService := services.NewNotificationService(pool)
	rewardService.SetNotifier(notificationService)

	userID := helpers.TestUserID()
	ctx := context.Background()

	created := seedReward(t, rewardService, &reward.CreateRewardRequest{
		Name:        "Test Physical Item",
		Description: "Ships eventually",
		Type:        reward.TypePhysicalItem,
		Cost:        20,
	})

	_, err := creditService.Credit(ctx, userID, 100, "earned", "daily_steps", "test credits", nil, uuid.Nil)
	require.NoError(t, err)

	resp, err := rewardService.Redeem(ctx, userID, created.ID)
	require.NoError(t, err)
	require.Equal(t, reward.StatusPending, resp.Redemption.Status)

	// Nothing is old enough yet.
	expired, err := rewardService.ExpireStaleRedemptions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, expired)

	// With a zero cutoff the pending redemption expires. No refund is issued.
	expired, err = rewardService.ExpireStaleRedemptions(ctx, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, expired, int64(1))

	history, err := rewardService.ListRedemptions(ctx, userID, reward.StatusExpired, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	balance, err := creditService.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 80, balance.AvailableCredits)

	// The sweep tells the user their redemption lapsed.
	list, err := notificationService.List(ctx, userID, 10, 0, false)
	require.NoError(t, err)
	require.NotEmpty(t, list.Notifications)
	assert.Equal(t, notification.TypeRedemptionExpired, list.Notifications[0].Type)
}

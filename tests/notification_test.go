package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepCreditAPI/internal/notification"
	"stepCreditAPI/services"
	"stepCreditAPI/tests/helpers"
)

// fakePush records pushes instead of calling FCM.
type fakePush struct {
	mu    sync.Mutex
	sent  int
	title string
}

func (f *fakePush) SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	f.title = title
	return nil
}

func TestNotificationFlow(t *testing.T) {
	db := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, db)

	svc := services.NewNotificationService(db)
	push := &fakePush{}
	svc.SetPushProvider(push)

	userID := helpers.TestUserID()
	ctx := context.Background()

	require.NoError(t, svc.RegisterDevice(ctx, userID, &notification.RegisterDeviceRequest{
		Token:    "fcm-token-123",
		Platform: "android",
	}))

	svc.Notify(ctx, userID, notification.TypeAchievementUnlocked,
		"Achievement unlocked!", "Goal Crusher: walk 10000 steps in one day",
		map[string]any{"achievement_id": "goal_crusher"})

	// The push fan-out runs in the background.
	time.Sleep(500 * time.Millisecond)

	push.mu.Lock()
	assert.Equal(t, 1, push.sent)
	assert.Equal(t, "Achievement unlocked!", push.title)
	push.mu.Unlock()

	list, err := svc.List(ctx, userID, 10, 0, false)
	require.NoError(t, err)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, 1, list.UnreadCount)
	assert.Equal(t, notification.TypeAchievementUnlocked, list.Notifications[0].Type)

	require.NoError(t, svc.MarkAsRead(ctx, userID, list.Notifications[0].ID))

	count, err := svc.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Marking twice is a not-found, the read_at timestamp is final.
	assert.Error(t, svc.MarkAsRead(ctx, userID, list.Notifications[0].ID))
}

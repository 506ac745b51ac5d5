package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepCreditAPI/internal/steps"
	"stepCreditAPI/services"
	"stepCreditAPI/tests/helpers"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestSubmitSteps_ResubmissionKeepsMax(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	creditService := services.NewCreditService(pool)
	achievementService := services.NewAchievementService(pool, creditService)
	stepService := services.NewStepService(pool, creditService, achievementService)

	userID := helpers.TestUserID()
	ctx := context.Background()
	today := time.Now().UTC()

	first, err := stepService.SubmitSteps(ctx, userID, &steps.SubmitRequest{Steps: 4000, Date: timePtr(today)})
	require.NoError(t, err)
	assert.Equal(t, 4000, first.Steps)

	// A lower resync never regresses the day.
	second, err := stepService.SubmitSteps(ctx, userID, &steps.SubmitRequest{Steps: 2500, Date: timePtr(today)})
	require.NoError(t, err)
	assert.Equal(t, 4000, second.Steps)

	third, err := stepService.SubmitSteps(ctx, userID, &steps.SubmitRequest{Steps: 7000, Date: timePtr(today)})
	require.NoError(t, err)
	assert.Equal(t, 7000, third.Steps)
}

func TestSubmitStepsBulk(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	creditService := services.NewCreditService(pool)
	achievementService := services.NewAchievementService(pool, creditService)
	stepService := services.NewStepService(pool, creditService, achievementService)

	userID := helpers.TestUserID()
	ctx := context.Background()
	today := time.Now().UTC()

	req := &steps.BulkSubmitRequest{Records: []steps.SubmitRequest{
		{Steps: 3000, Date: timePtr(today.AddDate(0, 0, -2))},
		{Steps: 5000, Date: timePtr(today.AddDate(0, 0, -1))},
		{Steps: 8000, Date: timePtr(today)},
	}}

	records, err := stepService.SubmitStepsBulk(ctx, userID, req)
	require.NoError(t, err)
	require.Len(t, records, 3)

	weekly, err := stepService.GetWeekly(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 16000, weekly.Steps)
	assert.Len(t, weekly.Days, 3)
}

func TestSubmitStepsBulk_Validation(t *testing.T) {
	pool := helpers.SetupTestDB(t)
	defer helpers.CleanupTestDB(t, pool)

	creditService := services.NewCreditService(pool)
	achievementService := services.NewAchievementService(pool, creditService)
	stepService := services.NewStepService(pool, creditService, achievementService)

	userID := helpers.TestUserID()
	ctx := context.Background()

	// Empty payloads and records without a date are rejected.
	_, err := stepService.SubmitStepsBulk(ctx, userID, &steps.BulkSubmitRequest{})
	assert.Error(t, err)

	_, err = stepService.SubmitStepsBulk(ctx, userID, &steps.BulkSubmitRequest{
		Records: []steps.SubmitRequest{{Steps: 1000}},
	})
	assert.Error(t, err)
}

func TestGetDaily(t *testing.T) {
	pool := helpers.SetupTestDB(t)

	creditService := services.NewCreditService(pool)
	achievementService := services.NewAchievementService(pool, creditService)
	stepService := services.NewStepService(pool, creditService, achievementService)

	userID := helpers.TestUserID()
	ctx := context.Background()

	// A day with no record reads back as zero activity.
	record, err := stepService.GetDaily(ctx, userID, time.Now())
	require.NoError(t, err)
	assert.Zero(t, record.Steps)
	assert.Equal(t, userID, record.UserID)

	// A broken connection is an error, never silently zero steps.
	pool.Close()
	_, err = stepService.GetDaily(ctx, userID, time.Now())
	assert.Error(t, err)
}

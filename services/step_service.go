package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepCreditAPI/internal/achievement"
	"stepCreditAPI/internal/credit"
	"stepCreditAPI/internal/notification"
	"stepCreditAPI/internal/steps"
	"stepCreditAPI/utils"
)

// StepService records daily step submissions and runs the conversion pipeline
// that turns a day's steps into ledger credits and achievement progress.
type StepService struct {
	db           *pgxpool.Pool
	credits      *CreditService
	achievements *AchievementService
	notifier     *NotificationService
}

func NewStepService(db *pgxpool.Pool, credits *CreditService, achievements *AchievementService) *StepService {
	return &StepService{db: db, credits: credits, achievements: achievements}
}

func (s *StepService) SetNotifier(n *NotificationService) {
	s.notifier = n
}

type ConvertStepsResponse struct {
	CreditsEarned         int                       `json:"credits_earned"`
	BaseCredits           int                       `json:"base_credits"`
	BonusCredits          int                       `json:"bonus_credits"`
	Balance               *credit.Account           `json:"balance"`
	CompletedAchievements []*achievement.Definition `json:"completed_achievements"`
}

// SubmitSteps upserts the day's record. Devices resync throughout the day, so
// a resubmission keeps the larger step count rather than overwriting.
func (s *StepService) SubmitSteps(ctx context.Context, userID string, req *steps.SubmitRequest) (*steps.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.upsertRecord(ctx, s.db, userID, req)
}

// SubmitStepsBulk resyncs several days in one transaction, for devices coming
// back online after tracking offline.
func (s *StepService) SubmitStepsBulk(ctx context.Context, userID string, req *steps.BulkSubmitRequest) ([]*steps.Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	records := make([]*steps.Record, 0, len(req.Records))
	for i := range req.Records {
		record, err := s.upsertRecord(ctx, tx, userID, &req.Records[i])
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return records, nil
}

// rowQuerier lets the upsert run on the pool or inside a transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *StepService) upsertRecord(ctx context.Context, q rowQuerier, userID string, req *steps.SubmitRequest) (*steps.Record, error) {
	date := time.Now()
	if req.Date != nil {
		date = *req.Date
	}
	date = date.UTC().Truncate(24 * time.Hour)

	distance := utils.EstimateDistanceKm(req.Steps)
	if req.Distance != nil {
		distance = *req.Distance
	}
	calories := utils.EstimateCalories(req.Steps)
	if req.Calories != nil {
		calories = *req.Calories
	}

	record := &steps.Record{}
	err := q.QueryRow(ctx, `
		INSERT INTO step_records (id, user_id, steps, date, distance_km, calories, active_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id, date) DO UPDATE SET
			steps          = GREATEST(step_records.steps, EXCLUDED.steps),
			distance_km    = GREATEST(step_records.distance_km, EXCLUDED.distance_km),
			calories       = GREATEST(step_records.calories, EXCLUDED.calories),
			active_minutes = GREATEST(step_records.active_minutes, EXCLUDED.active_minutes),
			updated_at     = NOW()
		RETURNING id, user_id, steps, date, distance_km, calories, active_minutes, created_at, updated_at
	`, uuid.New(), userID, req.Steps, date, distance, calories, req.ActiveMinutes).Scan(
		&record.ID, &record.UserID, &record.Steps, &record.Date,
		&record.DistanceKm, &record.Calories, &record.ActiveMinutes,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save step record: %w", err)
	}
	return record, nil
}

// ConvertSteps is the credit conversion pipeline: compute the breakdown,
// append the base and bonus ledger entries in one transaction, then evaluate
// achievements. A client-supplied entry id makes retries idempotent.
func (s *StepService) ConvertSteps(ctx context.Context, userID string, req *credit.ConvertStepsRequest) (*ConvertStepsResponse, error) {
	breakdown, err := utils.ComputeCredits(req.Steps)
	if err != nil {
		return nil, err
	}

	date := time.Now()
	if req.Date != nil {
		date = *req.Date
	}
	metadata := map[string]any{"steps": req.Steps, "date": date.Format("2006-01-02")}

	baseID := uuid.Nil
	bonusID := uuid.Nil
	if req.EntryID != nil {
		// Derive a distinct but equally deterministic id for the bonus entry.
		baseID = *req.EntryID
		bonusID = uuid.NewSHA1(baseID, []byte("daily_goal_bonus"))
	}

	resp := &ConvertStepsResponse{
		BaseCredits:           breakdown.Base,
		BonusCredits:          breakdown.Bonus,
		CreditsEarned:         breakdown.Total,
		CompletedAchievements: []*achievement.Definition{},
	}

	if breakdown.Total > 0 {
		tx, err := s.db.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		account, err := s.credits.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}

		if breakdown.Base > 0 {
			account, err = s.credits.creditInTx(ctx, tx, userID, breakdown.Base, credit.KindEarned, "daily_steps",
				fmt.Sprintf("Earned %d credits for %d steps", breakdown.Base, req.Steps), metadata, baseID)
			if err != nil {
				return nil, err
			}
		}
		if breakdown.Bonus > 0 {
			account, err = s.credits.creditInTx(ctx, tx, userID, breakdown.Bonus, credit.KindBonus, "daily_goal",
				fmt.Sprintf("Milestone bonus for %d+ steps", req.Steps), metadata, bonusID)
			if err != nil {
				return nil, err
			}
		}

		if err = tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		resp.Balance = account
	} else {
		account, err := s.credits.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		resp.Balance = account
	}

	completed, err := s.achievements.Evaluate(ctx, userID, req.Steps)
	if err != nil {
		return nil, err
	}
	if completed != nil {
		resp.CompletedAchievements = completed
	}

	// Achievement awards change the balance; re-read so the response is current.
	if len(completed) > 0 {
		account, err := s.credits.GetBalance(ctx, userID)
		if err != nil {
			return nil, err
		}
		resp.Balance = account

		if s.notifier != nil {
			for _, def := range completed {
				s.notifier.Notify(ctx, userID, notification.TypeAchievementUnlocked,
					"Achievement unlocked!", fmt.Sprintf("%s: %s", def.Name, def.Description),
					map[string]any{"achievement_id": def.ID, "reward_credits": def.RewardCredits})
			}
		}
	}

	return resp, nil
}

func (s *StepService) GetDaily(ctx context.Context, userID string, date time.Time) (*steps.Record, error) {
	date = date.UTC().Truncate(24 * time.Hour)

	record := &steps.Record{}
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, steps, date, distance_km, calories, active_minutes, created_at, updated_at
		FROM step_records
		WHERE user_id = $1 AND date = $2
	`, userID, date).Scan(
		&record.ID, &record.UserID, &record.Steps, &record.Date,
		&record.DistanceKm, &record.Calories, &record.ActiveMinutes,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No record yet means zero activity, not an error.
			return &steps.Record{UserID: userID, Date: date}, nil
		}
		return nil, fmt.Errorf("failed to get daily steps: %w", err)
	}
	return record, nil
}

// GetWeekly returns the last 7 days with a rolled-up total.
func (s *StepService) GetWeekly(ctx context.Context, userID string) (*steps.WeeklySummary, error) {
	weekStart := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -6)

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, steps, date, distance_km, calories, active_minutes, created_at, updated_at
		FROM step_records
		WHERE user_id = $1 AND date >= $2
		ORDER BY date ASC
	`, userID, weekStart)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch weekly steps: %w", err)
	}
	defer rows.Close()

	summary := &steps.WeeklySummary{WeekStart: weekStart, Days: []*steps.Record{}}
	for rows.Next() {
		record := &steps.Record{}
		err := rows.Scan(
			&record.ID, &record.UserID, &record.Steps, &record.Date,
			&record.DistanceKm, &record.Calories, &record.ActiveMinutes,
			&record.CreatedAt, &record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}
		summary.Days = append(summary.Days, record)
		summary.Steps += record.Steps
		summary.Distance += record.DistanceKm
		summary.Calories += record.Calories
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read weekly steps: %w", err)
	}
	return summary, nil
}

func (s *StepService) GetStats(ctx context.Context, userID string) (*steps.Stats, error) {
	stats := &steps.Stats{}
	err := s.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(steps), 0),
			COALESCE(SUM(distance_km), 0),
			COALESCE(SUM(calories), 0),
			COALESCE(AVG(steps), 0),
			COALESCE(MAX(steps), 0),
			COUNT(*)
		FROM step_records
		WHERE user_id = $1
	`, userID).Scan(
		&stats.TotalSteps,
		&stats.TotalDistance,
		&stats.TotalCalories,
		&stats.AvgSteps,
		&stats.MaxSteps,
		&stats.ActiveDays,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch step stats: %w", err)
	}
	return stats, nil
}

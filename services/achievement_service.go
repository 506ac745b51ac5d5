package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepCreditAPI/internal/achievement"
)

// AchievementService drives the per-user achievement state machine:
// not started -> in progress -> completed (terminal). Completion and the
// bonus credit award commit in one transaction so a lost award can never
// leave an achievement silently "completed".
type AchievementService struct {
	db      *pgxpool.Pool
	credits *CreditService
}

func NewAchievementService(db *pgxpool.Pool, credits *CreditService) *AchievementService {
	return &AchievementService{db: db, credits: credits}
}

// Evaluate updates progress for every active achievement against a day's step
// count and returns the definitions completed by this evaluation. Re-running
// with the same steps is idempotent: completed achievements never re-award.
func (s *AchievementService) Evaluate(ctx context.Context, userID string, steps int) ([]*achievement.Definition, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, name, description, criteria_type, threshold_steps, reward_credits, is_active, created_at
		FROM achievements
		WHERE is_active = TRUE
		ORDER BY threshold_steps ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch achievements: %w", err)
	}

	var defs []*achievement.Definition
	for rows.Next() {
		def := &achievement.Definition{}
		err := rows.Scan(
			&def.ID,
			&def.Name,
			&def.Description,
			&def.CriteriaType,
			&def.ThresholdSteps,
			&def.RewardCredits,
			&def.IsActive,
			&def.CreatedAt,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		defs = append(defs, def)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read achievements: %w", err)
	}

	var completed []*achievement.Definition
	for _, def := range defs {
		if def.CriteriaType != achievement.CriteriaDailySteps {
			continue
		}

		percent := def.PercentFor(steps)

		// Progress reflects the best single day seen so far, so it never
		// regresses when a later day has fewer steps.
		var storedPercent float64
		var isCompleted bool
		err := tx.QueryRow(ctx, `
			INSERT INTO user_achievements (user_id, achievement_id, progress_percent)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, achievement_id) DO UPDATE
			SET progress_percent = GREATEST(user_achievements.progress_percent, EXCLUDED.progress_percent)
			RETURNING progress_percent, is_completed
		`, userID, def.ID, percent).Scan(&storedPercent, &isCompleted)
		if err != nil {
			return nil, fmt.Errorf("failed to upsert achievement progress: %w", err)
		}

		if isCompleted || storedPercent < 100 {
			continue
		}

		// Guard against a concurrent evaluation completing the same pair.
		tag, err := tx.Exec(ctx, `
			UPDATE user_achievements
			SET is_completed = TRUE, completed_at = $3
			WHERE user_id = $1 AND achievement_id = $2 AND is_completed = FALSE
		`, userID, def.ID, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to mark achievement completed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}

		if def.RewardCredits > 0 {
			_, err = s.credits.creditInTx(ctx, tx, userID, def.RewardCredits, "bonus", "achievement",
				fmt.Sprintf("Achievement reward: %s", def.Name),
				map[string]any{"achievement_id": def.ID},
				uuid.Nil)
			if err != nil {
				// Rolls back the completion too; the next evaluation retries both.
				return nil, fmt.Errorf("failed to award achievement credits: %w", err)
			}
		}

		completed = append(completed, def)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return completed, nil
}

// GetAchievements returns every active definition with the user's progress.
func (s *AchievementService) GetAchievements(ctx context.Context, userID string) ([]*achievement.WithProgress, error) {
	query := `
		SELECT
			a.id, a.name, a.description, a.criteria_type, a.threshold_steps,
			a.reward_credits, a.is_active, a.created_at,
			COALESCE(ua.progress_percent, 0),
			COALESCE(ua.is_completed, FALSE),
			ua.completed_at
		FROM achievements a
		LEFT JOIN user_achievements ua ON a.id = ua.achievement_id AND ua.user_id = $1
		WHERE a.is_active = TRUE
		ORDER BY a.threshold_steps ASC
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch achievements: %w", err)
	}
	defer rows.Close()

	achievements := []*achievement.WithProgress{}
	for rows.Next() {
		ach := &achievement.WithProgress{}
		err := rows.Scan(
			&ach.ID,
			&ach.Name,
			&ach.Description,
			&ach.CriteriaType,
			&ach.ThresholdSteps,
			&ach.RewardCredits,
			&ach.IsActive,
			&ach.CreatedAt,
			&ach.ProgressPercent,
			&ach.IsCompleted,
			&ach.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		achievements = append(achievements, ach)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read achievements: %w", err)
	}

	return achievements, nil
}

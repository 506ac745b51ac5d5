package achievement

import (
	"time"
)

type CriteriaType string

const (
	CriteriaDailySteps CriteriaType = "steps_milestone"
)

// Definition is seeded once and read-only at runtime.
type Definition struct {
	ID             string       `json:"id" db:"id"`
	Name           string       `json:"name" db:"name"`
	Description    string       `json:"description" db:"description"`
	CriteriaType   CriteriaType `json:"criteria_type" db:"criteria_type"`
	ThresholdSteps int          `json:"threshold_steps" db:"threshold_steps"`
	RewardCredits  int          `json:"reward_credits" db:"reward_credits"`
	IsActive       bool         `json:"is_active" db:"is_active"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// Progress is one row per (user, achievement). IsCompleted flips false to true
// exactly once; ProgressPercent tracks the best single day seen so far.
type Progress struct {
	UserID          string     `json:"user_id" db:"user_id"`
	AchievementID   string     `json:"achievement_id" db:"achievement_id"`
	ProgressPercent float64    `json:"progress" db:"progress_percent"`
	IsCompleted     bool       `json:"is_completed" db:"is_completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

type WithProgress struct {
	Definition
	ProgressPercent float64    `json:"progress"`
	IsCompleted     bool       `json:"is_completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// PercentFor maps a day's step count onto this definition, capped at 100.
func (d *Definition) PercentFor(steps int) float64 {
	if d.ThresholdSteps <= 0 {
		return 0
	}
	p := float64(steps) / float64(d.ThresholdSteps) * 100
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

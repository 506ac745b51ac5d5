package steps

import (
	"time"

	"github.com/google/uuid"

	"stepCreditAPI/internal/apperr"
)

// MaxDailySteps mirrors the submission cap enforced by the mobile client.
const MaxDailySteps = 100000

type Record struct {
	ID            uuid.UUID `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Steps         int       `json:"steps" db:"steps"`
	Date          time.Time `json:"date" db:"date"`
	DistanceKm    float64   `json:"distance" db:"distance_km"`
	Calories      int       `json:"calories" db:"calories"`
	ActiveMinutes int       `json:"active_minutes" db:"active_minutes"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

type SubmitRequest struct {
	Steps         int        `json:"steps"`
	Date          *time.Time `json:"date,omitempty"`
	Distance      *float64   `json:"distance,omitempty"`
	Calories      *int       `json:"calories,omitempty"`
	ActiveMinutes int        `json:"active_minutes,omitempty"`
}

func (r *SubmitRequest) Validate() error {
	if r.Steps < 0 {
		return apperr.Validation("steps cannot be negative, got %d", r.Steps)
	}
	if r.Steps > MaxDailySteps {
		return apperr.Validation("steps cannot exceed %d per day", MaxDailySteps)
	}
	if r.Distance != nil && *r.Distance < 0 {
		return apperr.Validation("distance cannot be negative")
	}
	if r.Calories != nil && *r.Calories < 0 {
		return apperr.Validation("calories cannot be negative")
	}
	if r.ActiveMinutes < 0 || r.ActiveMinutes > 1440 {
		return apperr.Validation("active minutes must be between 0 and 1440")
	}
	return nil
}

// BulkSubmitRequest is the multi-day resync payload. Every record carries its
// own date; the per-day max-wins upsert rules apply to each.
type BulkSubmitRequest struct {
	Records []SubmitRequest `json:"records"`
}

func (r *BulkSubmitRequest) Validate() error {
	if len(r.Records) == 0 {
		return apperr.Validation("at least one record is required")
	}
	if len(r.Records) > 31 {
		return apperr.Validation("at most 31 records per request, got %d", len(r.Records))
	}
	for i := range r.Records {
		if r.Records[i].Date == nil {
			return apperr.Validation("record %d is missing a date", i)
		}
		if err := r.Records[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

type Stats struct {
	TotalSteps    int     `json:"total_steps"`
	TotalDistance float64 `json:"total_distance"`
	TotalCalories int     `json:"total_calories"`
	AvgSteps      float64 `json:"avg_steps"`
	MaxSteps      int     `json:"max_steps"`
	ActiveDays    int     `json:"active_days"`
}

type WeeklySummary struct {
	WeekStart time.Time `json:"week_start"`
	Steps     int       `json:"steps"`
	Distance  float64   `json:"distance"`
	Calories  int       `json:"calories"`
	Days      []*Record `json:"days"`
}

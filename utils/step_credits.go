package utils

import (
	"math"

	"stepCreditAPI/internal/apperr"
)

// Conversion constants shared by every caller that turns steps into credits.
// One policy only: base credits have no minimum-steps gate, bonuses reward
// crossing a milestone and do not stack (highest tier wins).
const (
	StepsPerCredit    = 100
	DailyGoalSteps    = 10000
	DailyGoalBonus    = 50
	HalfwayGoalSteps  = 5000
	HalfwayGoalBonus  = 25
	StarterGoalSteps  = 1000
	StarterGoalBonus  = 10
)

type CreditBreakdown struct {
	Base  int `json:"base_credits"`
	Bonus int `json:"bonus_credits"`
	Total int `json:"total_credits"`
}

func ComputeCredits(steps int) (CreditBreakdown, error) {
	if steps < 0 {
		return CreditBreakdown{}, apperr.Validation("steps cannot be negative, got %d", steps)
	}

	base := steps / StepsPerCredit

	var bonus int
	switch {
	case steps >= DailyGoalSteps:
		bonus = DailyGoalBonus
	case steps >= HalfwayGoalSteps:
		bonus = HalfwayGoalBonus
	case steps >= StarterGoalSteps:
		bonus = StarterGoalBonus
	}

	return CreditBreakdown{Base: base, Bonus: bonus, Total: base + bonus}, nil
}

// EstimateDistanceKm assumes an average step length of 70 cm.
func EstimateDistanceKm(steps int) float64 {
	const avgStepLengthCm = 70.0
	return float64(steps) * avgStepLengthCm / 100000.0
}

// EstimateCalories uses a flat 0.04 kcal per step for an average person.
func EstimateCalories(steps int) int {
	const caloriesPerStep = 0.04
	return int(math.Round(float64(steps) * caloriesPerStep))
}

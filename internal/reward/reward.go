package reward

import (
	"time"

	"github.com/google/uuid"

	"stepCreditAPI/internal/apperr"
)

type Type string

const (
	TypeDigitalCoupon   Type = "digital_coupon"
	TypePhysicalItem    Type = "physical_item"
	TypeExperience      Type = "experience"
	TypeCharityDonation Type = "charity_donation"
	TypePremiumFeature  Type = "premium_feature"
	TypeVirtualItem     Type = "virtual_item"
)

type RedemptionStatus string

const (
	StatusPending    RedemptionStatus = "pending"
	StatusProcessing RedemptionStatus = "processing"
	StatusFulfilled  RedemptionStatus = "fulfilled"
	StatusCancelled  RedemptionStatus = "cancelled"
	StatusExpired    RedemptionStatus = "expired"
)

// CountsAgainstInventory reports whether a redemption in this status still
// holds a unit of finite stock (cancelled and expired release it).
func (s RedemptionStatus) CountsAgainstInventory() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusFulfilled
}

type Reward struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Description  string     `json:"description" db:"description"`
	Type         Type       `json:"type" db:"reward_type"`
	Cost         int        `json:"cost" db:"cost"`
	Category     string     `json:"category" db:"category"`
	StartDate    *time.Time `json:"start_date,omitempty" db:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty" db:"end_date"`
	Quantity     *int       `json:"quantity,omitempty" db:"quantity"`
	UserLimit    *int       `json:"user_limit,omitempty" db:"user_limit"`
	DigitalCode  bool       `json:"digital_code" db:"digital_code"`
	Instructions string     `json:"instructions,omitempty" db:"instructions"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

type Redemption struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	UserID          string           `json:"user_id" db:"user_id"`
	RewardID        string           `json:"reward_id" db:"reward_id"`
	Cost            int              `json:"cost" db:"cost"`
	Status          RedemptionStatus `json:"status" db:"status"`
	FulfillmentCode *string          `json:"fulfillment_code,omitempty" db:"fulfillment_code"`
	RedeemedAt      time.Time        `json:"redeemed_at" db:"redeemed_at"`
	FulfilledAt     *time.Time       `json:"fulfilled_at,omitempty" db:"fulfilled_at"`
}

// CatalogItem is what the catalog listing returns; Remaining is nil for
// rewards without finite inventory.
type CatalogItem struct {
	Reward
	Remaining *int `json:"remaining_inventory,omitempty"`
}

type RedemptionWithReward struct {
	Redemption
	Reward *Summary `json:"reward,omitempty"`
}

type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Type        Type   `json:"type"`
}

type RedeemRequest struct {
	RewardID string `json:"reward_id"`
}

type RedeemResponse struct {
	Redemption      *Redemption `json:"redemption"`
	Reward          *Summary    `json:"reward"`
	FulfillmentCode string      `json:"fulfillment_code,omitempty"`
	Instructions    string      `json:"instructions,omitempty"`
}

type CreateRewardRequest struct {
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Type         Type       `json:"type"`
	Cost         int        `json:"cost"`
	Category     string     `json:"category"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Quantity     *int       `json:"quantity,omitempty"`
	UserLimit    *int       `json:"user_limit,omitempty"`
	DigitalCode  bool       `json:"digital_code"`
	Instructions string     `json:"instructions,omitempty"`
}

func (r *CreateRewardRequest) Validate() error {
	if r.Name == "" || r.Description == "" {
		return apperr.Validation("name and description are required")
	}
	if r.Cost <= 0 {
		return apperr.Validation("cost must be positive, got %d", r.Cost)
	}
	switch r.Type {
	case TypeDigitalCoupon, TypePhysicalItem, TypeExperience, TypeCharityDonation, TypePremiumFeature, TypeVirtualItem:
	default:
		return apperr.Validation("unknown reward type %q", r.Type)
	}
	if r.Quantity != nil && *r.Quantity < 0 {
		return apperr.Validation("quantity cannot be negative")
	}
	if r.UserLimit != nil && *r.UserLimit < 1 {
		return apperr.Validation("user limit must be at least 1")
	}
	return nil
}

// InWindow checks the time-bounded availability of the reward. These checks
// run in the documented order so a caller always sees the most specific error.
func (r *Reward) InWindow(now time.Time) error {
	if !r.IsActive {
		return apperr.NotFound("reward not found or no longer available")
	}
	if r.StartDate != nil && now.Before(*r.StartDate) {
		return apperr.NotFound("reward not found or no longer available")
	}
	if r.EndDate != nil && now.After(*r.EndDate) {
		return apperr.New(apperr.KindExpired, "this reward has expired")
	}
	return nil
}

// CheckStock compares finite inventory against redemptions that still hold a
// unit. Rewards with no quantity never run out.
func (r *Reward) CheckStock(redeemedCount int) error {
	if r.Quantity == nil {
		return nil
	}
	if redeemedCount >= *r.Quantity {
		return apperr.New(apperr.KindOutOfStock, "this reward is currently out of stock")
	}
	return nil
}

// CheckUserLimit enforces the per-user redemption cap when one is set.
func (r *Reward) CheckUserLimit(userRedeemedCount int) error {
	if r.UserLimit == nil {
		return nil
	}
	if userRedeemedCount >= *r.UserLimit {
		return apperr.New(apperr.KindUserLimit, "you have reached the limit for this reward")
	}
	return nil
}

// RemainingInventory is what the catalog displays; nil means unlimited.
func (r *Reward) RemainingInventory(redeemedCount int) *int {
	if r.Quantity == nil {
		return nil
	}
	left := *r.Quantity - redeemedCount
	if left < 0 {
		left = 0
	}
	return &left
}

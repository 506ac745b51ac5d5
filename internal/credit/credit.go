package credit

import (
	"time"

	"github.com/google/uuid"

	"stepCreditAPI/internal/apperr"
)

type EntryKind string

const (
	KindEarned  EntryKind = "earned"
	KindSpent   EntryKind = "spent"
	KindBonus   EntryKind = "bonus"
	KindPenalty EntryKind = "penalty"
)

// Increases reports whether entries of this kind raise the available balance.
func (k EntryKind) Increases() bool {
	return k == KindEarned || k == KindBonus
}

func (k EntryKind) Valid() bool {
	switch k {
	case KindEarned, KindSpent, KindBonus, KindPenalty:
		return true
	}
	return false
}

type Account struct {
	UserID           string    `json:"user_id" db:"user_id"`
	AvailableCredits int       `json:"available_credits" db:"available_credits"`
	LifetimeEarned   int       `json:"lifetime_earned" db:"lifetime_earned"`
	LifetimeSpent    int       `json:"lifetime_spent" db:"lifetime_spent"`
	LastUpdated      time.Time `json:"last_updated" db:"last_updated"`
}

// Entry is one immutable row of the append-only ledger.
type Entry struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	UserID      string         `json:"user_id" db:"user_id"`
	Kind        EntryKind      `json:"type" db:"kind"`
	Amount      int            `json:"amount" db:"amount"`
	Source      string         `json:"source" db:"source"`
	Description string         `json:"description" db:"description"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

type ConvertStepsRequest struct {
	Steps   int        `json:"steps"`
	Date    *time.Time `json:"date,omitempty"`
	EntryID *uuid.UUID `json:"entry_id,omitempty"`
}

type SpendRequest struct {
	Amount      int    `json:"amount"`
	Description string `json:"description"`
	RewardID    string `json:"reward_id,omitempty"`
}

type TransactionListResponse struct {
	Transactions []*Entry `json:"transactions"`
	Total        int      `json:"total"`
	Limit        int      `json:"limit"`
	Offset       int      `json:"offset"`
	HasNextPage  bool     `json:"has_next_page"`
}

// Apply returns the account after one ledger entry, or an error when the
// entry would break the availableCredits >= 0 invariant. It never mutates
// the receiver, which keeps the failed-debit path side-effect free.
func (a Account) Apply(kind EntryKind, amount int) (Account, error) {
	if amount <= 0 {
		return a, apperr.Validation("entry amount must be positive, got %d", amount)
	}
	if kind.Increases() {
		a.LifetimeEarned += amount
		a.AvailableCredits += amount
	} else {
		if a.AvailableCredits < amount {
			return a, apperr.New(apperr.KindInsufficientCredits, "insufficient credits for this transaction")
		}
		a.LifetimeSpent += amount
		a.AvailableCredits -= amount
	}
	a.LastUpdated = time.Now()
	return a, nil
}

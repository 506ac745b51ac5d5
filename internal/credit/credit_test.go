package credit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepCreditAPI/internal/apperr"
)

func TestAccountApply_Credit(t *testing.T) {
	a := Account{UserID: "user_1"}

	updated, err := a.Apply(KindEarned, 100)
	require.NoError(t, err)

	assert.Equal(t, 100, updated.AvailableCredits)
	assert.Equal(t, 100, updated.LifetimeEarned)
	assert.Equal(t, 0, updated.LifetimeSpent)
}

func TestAccountApply_Debit(t *testing.T) {
	a := Account{UserID: "user_1", AvailableCredits: 150, LifetimeEarned: 150}

	updated, err := a.Apply(KindSpent, 100)
	require.NoError(t, err)

	assert.Equal(t, 50, updated.AvailableCredits)
	assert.Equal(t, 150, updated.LifetimeEarned)
	assert.Equal(t, 100, updated.LifetimeSpent)
}

func TestAccountApply_InsufficientCredits(t *testing.T) {
	a := Account{UserID: "user_1", AvailableCredits: 50, LifetimeEarned: 50}

	updated, err := a.Apply(KindSpent, 100)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientCredits, apperr.KindOf(err))

	// Failed debits leave the account untouched.
	assert.Equal(t, a, updated)
}

func TestAccountApply_ExactBalance(t *testing.T) {
	a := Account{UserID: "user_1", AvailableCredits: 100, LifetimeEarned: 100}

	updated, err := a.Apply(KindSpent, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.AvailableCredits)
}

func TestAccountApply_RejectsNonPositiveAmounts(t *testing.T) {
	a := Account{UserID: "user_1", AvailableCredits: 100}

	for _, amount := range []int{0, -5} {
		_, err := a.Apply(KindEarned, amount)
		require.Error(t, err)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}
}

// availableCredits must always equal lifetimeEarned - lifetimeSpent across any
// sequence of entries.
func TestAccountApply_InvariantHolds(t *testing.T) {
	a := Account{UserID: "user_1"}

	ops := []struct {
		kind   EntryKind
		amount int
	}{
		{KindEarned, 100},
		{KindBonus, 50},
		{KindSpent, 30},
		{KindEarned, 75},
		{KindPenalty, 20},
	}

	var err error
	for _, op := range ops {
		a, err = a.Apply(op.kind, op.amount)
		require.NoError(t, err)
		assert.Equal(t, a.LifetimeEarned-a.LifetimeSpent, a.AvailableCredits)
	}

	assert.Equal(t, 225, a.LifetimeEarned)
	assert.Equal(t, 50, a.LifetimeSpent)
	assert.Equal(t, 175, a.AvailableCredits)
}

func TestEntryKind(t *testing.T) {
	assert.True(t, KindEarned.Increases())
	assert.True(t, KindBonus.Increases())
	assert.False(t, KindSpent.Increases())
	assert.False(t, KindPenalty.Increases())

	assert.True(t, KindEarned.Valid())
	assert.False(t, EntryKind("refund").Valid())
}

func TestAccountApply_ErrorsMatchByKind(t *testing.T) {
	a := Account{UserID: "user_1"}
	_, err := a.Apply(KindSpent, 10)
	assert.True(t, errors.Is(err, apperr.New(apperr.KindInsufficientCredits, "")))
}

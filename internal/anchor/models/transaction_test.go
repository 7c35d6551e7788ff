package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbis/internal/ledger"
	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
)

func newTestTransaction(t *testing.T) *LedgerTransaction {
	t.Helper()
	return NewLedgerTransaction(id.NewIdentityID(), ledger.KindIdentityRegistration, ledger.SubmitResult{
		TxHash: "0xabc",
		Status: ledger.StatusPending,
	}, time.Now())
}

func TestNewLedgerTransaction_DefaultsToPending(t *testing.T) {
	tx := NewLedgerTransaction(id.NewIdentityID(), ledger.KindIdentityRegistration, ledger.SubmitResult{TxHash: "0xabc"}, time.Now())
	assert.Equal(t, ledger.StatusPending, tx.Status)
	assert.False(t, tx.IsFinal())
}

func TestApplyOutcome_FinalizesOnce(t *testing.T) {
	tx := newTestTransaction(t)

	require.NoError(t, tx.ApplyOutcome(ledger.StatusSuccess, 42, time.Now()))
	assert.True(t, tx.IsFinal())
	require.NotNil(t, tx.BlockNumber)
	assert.Equal(t, uint64(42), *tx.BlockNumber)
}

func TestApplyOutcome_SameOutcomeIsNoOp(t *testing.T) {
	tx := newTestTransaction(t)
	require.NoError(t, tx.ApplyOutcome(ledger.StatusSuccess, 42, time.Now()))

	// A racing second finalizer lands after the first.
	require.NoError(t, tx.ApplyOutcome(ledger.StatusSuccess, 99, time.Now()))
	assert.Equal(t, uint64(42), *tx.BlockNumber, "first outcome wins")
}

func TestApplyOutcome_ConflictingOutcomeIsInvariantViolation(t *testing.T) {
	tx := newTestTransaction(t)
	require.NoError(t, tx.ApplyOutcome(ledger.StatusFailed, 42, time.Now()))

	err := tx.ApplyOutcome(ledger.StatusSuccess, 43, time.Now())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	assert.Equal(t, ledger.StatusFailed, tx.Status)
}

func TestApplyOutcome_RejectsNonTerminalStatus(t *testing.T) {
	tx := newTestTransaction(t)
	err := tx.ApplyOutcome(ledger.StatusPending, 1, time.Now())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

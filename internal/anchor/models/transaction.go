// Package models holds the anchoring engine's persistent types.
package models

import (
	"time"

	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"

	"dbis/internal/ledger"
)

// LedgerTransaction tracks one submission to the ledger from the moment the
// gateway accepts it. Its status mirrors the ledger's verdict, not the
// identity's anchoring state; the two are reconciled by the engine.
//
// Success and failed are terminal. A transition out of a terminal status is
// refused, which is what makes racing finalizers (receipt poll vs sweeper vs
// reconciler) safe: the second writer becomes a no-op.
type LedgerTransaction struct {
	Hash        string        `json:"hash"`
	IdentityID  id.IdentityID `json:"identity_id"`
	Kind        ledger.Kind   `json:"kind"`
	Status      ledger.Status `json:"status"`
	BlockNumber *uint64       `json:"block_number,omitempty"`
	// Raw retains the gateway's response body verbatim for audit.
	Raw       []byte    `json:"raw,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLedgerTransaction records a freshly accepted submission.
func NewLedgerTransaction(identityID id.IdentityID, kind ledger.Kind, result ledger.SubmitResult, now time.Time) *LedgerTransaction {
	status := result.Status
	if status == "" {
		status = ledger.StatusPending
	}
	return &LedgerTransaction{
		Hash:        result.TxHash,
		IdentityID:  identityID,
		Kind:        kind,
		Status:      status,
		BlockNumber: result.BlockNumber,
		Raw:         result.Raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsFinal reports whether the transaction has reached a terminal status.
func (t *LedgerTransaction) IsFinal() bool {
	return t.Status == ledger.StatusSuccess || t.Status == ledger.StatusFailed
}

// ApplyOutcome moves the transaction to a terminal status with its block
// number. Re-applying the same outcome is an idempotent no-op; applying a
// different outcome to a finalized transaction is an invariant violation,
// because the ledger never changes its verdict.
func (t *LedgerTransaction) ApplyOutcome(status ledger.Status, blockNumber uint64, now time.Time) error {
	if status != ledger.StatusSuccess && status != ledger.StatusFailed {
		return dErrors.Newf(dErrors.CodeInvalidInput, "outcome must be terminal, got %q", status)
	}
	if t.IsFinal() {
		if t.Status == status {
			return nil
		}
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"transaction %s already finalized as %q, refusing %q", t.Hash, t.Status, status)
	}
	t.Status = status
	t.BlockNumber = &blockNumber
	t.UpdatedAt = now
	return nil
}

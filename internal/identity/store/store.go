// Package store declares the persistence ports for the identity domain.
// Implementations come in pairs: in-memory for unit tests and wiring without
// a database, PostgreSQL for production. Stores return sentinel errors;
// services translate them into coded domain errors.
package store

import (
	"context"
	"time"

	"dbis/internal/identity/models"
	id "dbis/pkg/domain"
)

// IdentityStore persists identity aggregates.
type IdentityStore interface {
	// Create inserts a new identity. Returns sentinel.ErrConflict when the
	// user already has an identity or the ledger address is taken.
	Create(ctx context.Context, identity *models.Identity) error

	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	FindByUserID(ctx context.Context, userID id.UserID) (*models.Identity, error)

	// Update persists the full aggregate state. Returns sentinel.ErrNotFound
	// for an unknown identity.
	Update(ctx context.Context, identity *models.Identity) error

	// Execute loads the identity, applies fn under the store's write lock (a
	// row lock for PostgreSQL) and persists the result if fn succeeds. The
	// anchoring engine uses this for its read-check-write transitions so two
	// racing writers serialize instead of clobbering each other.
	Execute(ctx context.Context, identityID id.IdentityID, fn func(*models.Identity) error) (*models.Identity, error)

	// ListSubmittedDue returns identities still in the submitted state whose
	// pending deadline is at or before now, oldest deadline first.
	ListSubmittedDue(ctx context.Context, now time.Time, limit int) ([]*models.Identity, error)
}

// CommitmentStore persists digest commitments. Rows are append-only; at most
// one row per (identity, type) is active.
type CommitmentStore interface {
	// Activate inserts the commitment and deactivates any prior active row of
	// the same type for the same identity, atomically.
	Activate(ctx context.Context, commitment *models.Commitment) error

	// ActiveFor returns the active commitment of the given type, or
	// sentinel.ErrNotFound if none is active.
	ActiveFor(ctx context.Context, identityID id.IdentityID, kind models.CommitmentType) (*models.Commitment, error)

	ListFor(ctx context.Context, identityID id.IdentityID) ([]*models.Commitment, error)

	// BindTxHash stamps the ledger transaction that carried this commitment.
	BindTxHash(ctx context.Context, commitmentID id.CommitmentID, txHash string) error
}

// RecordStore persists professional records. Records are immutable.
type RecordStore interface {
	Create(ctx context.Context, record *models.ProfessionalRecord) error
	ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]*models.ProfessionalRecord, error)
}

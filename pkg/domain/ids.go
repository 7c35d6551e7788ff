// Package domain holds identifier and value types shared across modules.
package domain

import (
	"github.com/google/uuid"

	dErrors "dbis/pkg/domain-errors"
)

// Typed UUID wrappers. Construct via the Parse helpers at trust boundaries so
// the invariant "IDs are valid, non-nil UUIDs" holds everywhere downstream.
type (
	// UserID identifies an account on the API surface.
	UserID uuid.UUID

	// IdentityID identifies a registered biometric identity.
	IdentityID uuid.UUID

	// RecordID identifies a professional record.
	RecordID uuid.UUID

	// CommitmentID identifies a stored commitment row.
	CommitmentID uuid.UUID
)

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id IdentityID) String() string   { return uuid.UUID(id).String() }
func (id RecordID) String() string     { return uuid.UUID(id).String() }
func (id CommitmentID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id IdentityID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id CommitmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewUserID returns a fresh random user ID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewIdentityID returns a fresh random identity ID.
func NewIdentityID() IdentityID { return IdentityID(uuid.New()) }

// NewRecordID returns a fresh random record ID.
func NewRecordID() RecordID { return RecordID(uuid.New()) }

// NewCommitmentID returns a fresh random commitment ID.
func NewCommitmentID() CommitmentID { return CommitmentID(uuid.New()) }

// ParseUserID constructs a UserID from external input.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

// ParseIdentityID constructs an IdentityID from external input.
func ParseIdentityID(s string) (IdentityID, error) {
	u, err := parseUUID(s)
	return IdentityID(u), err
}

// ParseRecordID constructs a RecordID from external input.
func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID(s)
	return RecordID(u), err
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

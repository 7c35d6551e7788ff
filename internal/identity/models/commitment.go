package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	id "dbis/pkg/domain"
)

// CommitmentType distinguishes what a stored digest commits to.
type CommitmentType string

const (
	CommitmentBiometric    CommitmentType = "biometric"
	CommitmentProfessional CommitmentType = "professional_record"
)

// Commitment is one stored digest row. Rows are never mutated in place:
// activating a new commitment deactivates the prior one, which is retained
// for audit. At most one row per (identity, type) is active at any time.
type Commitment struct {
	ID         id.CommitmentID `json:"id"`
	IdentityID id.IdentityID   `json:"identity_id"`
	Type       CommitmentType  `json:"type"`
	Digest     string          `json:"digest"`
	Active     bool            `json:"active"`
	TxHash     string          `json:"tx_hash,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Hash returns the digest as a typed ledger hash.
func (c *Commitment) Hash() common.Hash {
	return common.HexToHash(c.Digest)
}

// NewCommitment constructs an active commitment for an identity.
func NewCommitment(identityID id.IdentityID, kind CommitmentType, digest string, now time.Time) *Commitment {
	return &Commitment{
		ID:         id.NewCommitmentID(),
		IdentityID: identityID,
		Type:       kind,
		Digest:     digest,
		Active:     true,
		CreatedAt:  now,
	}
}

package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
)

// VerificationStatus is the review state of a registered identity.
type VerificationStatus string

const (
	VerificationPendingReview VerificationStatus = "pending_review"
	VerificationVerified      VerificationStatus = "verified"
	VerificationRejected      VerificationStatus = "rejected"
)

// AnchoringStatus is the ledger-anchoring state of an identity.
//
// Transitions: not_anchored → submitted → {confirmed, expired}. An expired
// identity may be re-submitted. Confirmed is terminal and never reverts: a
// ledger-confirmed fact is append-only truth, and every code path that would
// downgrade it must refuse.
type AnchoringStatus string

const (
	AnchoringNotAnchored AnchoringStatus = "not_anchored"
	AnchoringSubmitted   AnchoringStatus = "submitted"
	AnchoringConfirmed   AnchoringStatus = "confirmed"
	AnchoringExpired     AnchoringStatus = "expired"
)

// Identity is the aggregate root for one registered subject.
//
// Invariants:
//   - LedgerAddress is a valid hex address, stable for the identity's lifetime
//   - Anchoring fields are mutated only by the orchestrator, reconciler, and
//     expiry sweeper
//   - AnchorDeadline is non-nil exactly while AnchoringStatus is submitted
//   - An identity may only be submitted for anchoring while verified
type Identity struct {
	ID                 id.IdentityID      `json:"id"`
	UserID             id.UserID          `json:"user_id"`
	LedgerAddress      string             `json:"ledger_address"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	AnchoringStatus    AnchoringStatus    `json:"anchoring_status"`
	AnchorDeadline     *time.Time         `json:"anchor_deadline,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// NewIdentity constructs a freshly registered identity awaiting review.
func NewIdentity(identityID id.IdentityID, userID id.UserID, ledgerAddress string, now time.Time) (*Identity, error) {
	if !common.IsHexAddress(ledgerAddress) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ledger address must be a valid hex address")
	}
	return &Identity{
		ID:                 identityID,
		UserID:             userID,
		LedgerAddress:      common.HexToAddress(ledgerAddress).Hex(),
		VerificationStatus: VerificationPendingReview,
		AnchoringStatus:    AnchoringNotAnchored,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Address returns the ledger address as a typed value.
func (i *Identity) Address() common.Address {
	return common.HexToAddress(i.LedgerAddress)
}

func (i *Identity) IsVerified() bool {
	return i.VerificationStatus == VerificationVerified
}

// ApplyReview records the outcome of an admin verification review.
func (i *Identity) ApplyReview(outcome VerificationStatus, now time.Time) error {
	if outcome != VerificationVerified && outcome != VerificationRejected {
		return dErrors.New(dErrors.CodeInvalidInput, "review outcome must be verified or rejected")
	}
	if i.VerificationStatus != VerificationPendingReview {
		return dErrors.New(dErrors.CodeConflict, "identity has already been reviewed")
	}
	i.VerificationStatus = outcome
	i.UpdatedAt = now
	return nil
}

// CanSubmitAnchor checks eligibility for a new anchoring submission. Expired
// identities are eligible again; this is the single restart in the state
// machine.
func (i *Identity) CanSubmitAnchor() error {
	if !i.IsVerified() {
		return dErrors.New(dErrors.CodeNotEligible, "identity must be verified before anchoring")
	}
	switch i.AnchoringStatus {
	case AnchoringNotAnchored, AnchoringExpired:
		return nil
	case AnchoringSubmitted:
		return dErrors.New(dErrors.CodeNotEligible, "anchoring already submitted and pending")
	case AnchoringConfirmed:
		return dErrors.New(dErrors.CodeAlreadyAnchored, "identity is already anchored")
	default:
		return dErrors.Newf(dErrors.CodeInvariantViolation, "unknown anchoring status %q", i.AnchoringStatus)
	}
}

// ApplyAnchorSubmission moves the identity to submitted with a pending
// deadline. Call CanSubmitAnchor first.
func (i *Identity) ApplyAnchorSubmission(deadline, now time.Time) {
	i.AnchoringStatus = AnchoringSubmitted
	i.AnchorDeadline = &deadline
	i.UpdatedAt = now
}

// ApplyAnchorConfirmation moves the identity to confirmed. Valid from any
// non-confirmed state: submitted (the normal path), expired (late confirmation
// wins over local expiry), and not_anchored (self-heal when the ledger already
// holds the registration). Idempotent when already confirmed.
func (i *Identity) ApplyAnchorConfirmation(now time.Time) {
	if i.AnchoringStatus == AnchoringConfirmed {
		return
	}
	i.AnchoringStatus = AnchoringConfirmed
	i.AnchorDeadline = nil
	i.UpdatedAt = now
}

// CanExpireAnchor checks that the pending window has elapsed. Expiry is only
// valid from submitted; confirmed never expires.
func (i *Identity) CanExpireAnchor(now time.Time) error {
	if i.AnchoringStatus != AnchoringSubmitted {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot expire identity in status %q", i.AnchoringStatus)
	}
	if i.AnchorDeadline == nil || now.Before(*i.AnchorDeadline) {
		return dErrors.New(dErrors.CodeInvalidInput, "pending window has not elapsed")
	}
	return nil
}

// ApplyAnchorExpiry moves the identity to expired. Call CanExpireAnchor first.
func (i *Identity) ApplyAnchorExpiry(now time.Time) {
	i.AnchoringStatus = AnchoringExpired
	i.AnchorDeadline = nil
	i.UpdatedAt = now
}

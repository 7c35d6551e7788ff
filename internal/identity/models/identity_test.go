package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
)

const testAddress = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

func newVerifiedIdentity(t *testing.T) *Identity {
	t.Helper()
	ident, err := NewIdentity(id.NewIdentityID(), id.NewUserID(), testAddress, time.Now())
	require.NoError(t, err)
	require.NoError(t, ident.ApplyReview(VerificationVerified, time.Now()))
	return ident
}

func TestNewIdentity_RejectsBadAddress(t *testing.T) {
	_, err := NewIdentity(id.NewIdentityID(), id.NewUserID(), "not-an-address", time.Now())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestNewIdentity_NormalizesAddress(t *testing.T) {
	ident, err := NewIdentity(id.NewIdentityID(), id.NewUserID(), "0x71c7656ec7ab88b098defb751b7401b5f6d8976f", time.Now())
	require.NoError(t, err)
	assert.Equal(t, testAddress, ident.LedgerAddress)
}

func TestReview_OnlyOnce(t *testing.T) {
	ident, err := NewIdentity(id.NewIdentityID(), id.NewUserID(), testAddress, time.Now())
	require.NoError(t, err)

	require.NoError(t, ident.ApplyReview(VerificationVerified, time.Now()))

	err = ident.ApplyReview(VerificationRejected, time.Now())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	assert.Equal(t, VerificationVerified, ident.VerificationStatus)
}

func TestAnchoring_HappyPath(t *testing.T) {
	ident := newVerifiedIdentity(t)
	now := time.Now()
	deadline := now.Add(24 * time.Hour)

	require.NoError(t, ident.CanSubmitAnchor())
	ident.ApplyAnchorSubmission(deadline, now)
	assert.Equal(t, AnchoringSubmitted, ident.AnchoringStatus)
	require.NotNil(t, ident.AnchorDeadline)
	assert.True(t, ident.AnchorDeadline.Equal(deadline))

	ident.ApplyAnchorConfirmation(now.Add(time.Minute))
	assert.Equal(t, AnchoringConfirmed, ident.AnchoringStatus)
	assert.Nil(t, ident.AnchorDeadline)
}

func TestAnchoring_NotEligibleUnlessVerified(t *testing.T) {
	ident, err := NewIdentity(id.NewIdentityID(), id.NewUserID(), testAddress, time.Now())
	require.NoError(t, err)

	err = ident.CanSubmitAnchor()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotEligible))
}

func TestAnchoring_SubmittedBlocksResubmission(t *testing.T) {
	ident := newVerifiedIdentity(t)
	now := time.Now()
	ident.ApplyAnchorSubmission(now.Add(time.Hour), now)

	err := ident.CanSubmitAnchor()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotEligible))
}

func TestAnchoring_ConfirmedIsTerminal(t *testing.T) {
	ident := newVerifiedIdentity(t)
	now := time.Now()
	ident.ApplyAnchorSubmission(now.Add(time.Hour), now)
	ident.ApplyAnchorConfirmation(now)

	err := ident.CanSubmitAnchor()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyAnchored))

	err = ident.CanExpireAnchor(now.Add(48 * time.Hour))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	// Re-confirmation is an idempotent no-op.
	ident.ApplyAnchorConfirmation(now.Add(time.Hour))
	assert.Equal(t, AnchoringConfirmed, ident.AnchoringStatus)
}

func TestAnchoring_ExpiryRequiresElapsedDeadline(t *testing.T) {
	ident := newVerifiedIdentity(t)
	now := time.Now()
	ident.ApplyAnchorSubmission(now.Add(time.Hour), now)

	require.Error(t, ident.CanExpireAnchor(now.Add(30*time.Minute)))
	require.NoError(t, ident.CanExpireAnchor(now.Add(2*time.Hour)))

	ident.ApplyAnchorExpiry(now.Add(2 * time.Hour))
	assert.Equal(t, AnchoringExpired, ident.AnchoringStatus)
	assert.Nil(t, ident.AnchorDeadline)
}

func TestAnchoring_ExpiredMayResubmitAndLateConfirm(t *testing.T) {
	ident := newVerifiedIdentity(t)
	now := time.Now()
	ident.ApplyAnchorSubmission(now.Add(time.Hour), now)
	ident.ApplyAnchorExpiry(now.Add(2 * time.Hour))

	// Restart is allowed from expired.
	require.NoError(t, ident.CanSubmitAnchor())

	// A late ledger confirmation also wins over local expiry.
	ident.ApplyAnchorConfirmation(now.Add(3 * time.Hour))
	assert.Equal(t, AnchoringConfirmed, ident.AnchoringStatus)
}

// TestAnchoring_RandomSequencesNeverLeaveConfirmed exercises the transition
// property: once confirmed, no sequence of operations changes the status.
func TestAnchoring_RandomSequencesNeverLeaveConfirmed(t *testing.T) {
	ops := []func(*Identity, time.Time){
		func(i *Identity, now time.Time) {
			if i.CanSubmitAnchor() == nil {
				i.ApplyAnchorSubmission(now.Add(time.Hour), now)
			}
		},
		func(i *Identity, now time.Time) { i.ApplyAnchorConfirmation(now) },
		func(i *Identity, now time.Time) {
			if i.CanExpireAnchor(now) == nil {
				i.ApplyAnchorExpiry(now)
			}
		},
	}

	for seed := 0; seed < 50; seed++ {
		ident := newVerifiedIdentity(t)
		now := time.Now()
		confirmed := false
		for step := 0; step < 20; step++ {
			op := ops[(seed*7+step*13)%len(ops)]
			now = now.Add(2 * time.Hour)
			op(ident, now)
			if ident.AnchoringStatus == AnchoringConfirmed {
				confirmed = true
			}
			if confirmed {
				assert.Equal(t, AnchoringConfirmed, ident.AnchoringStatus,
					"seed %d step %d left confirmed state", seed, step)
			}
		}
	}
}

package service

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	anchormodels "dbis/internal/anchor/models"
	"dbis/internal/audit"
	"dbis/internal/commitment"
	"dbis/internal/identity/models"
	"dbis/internal/ledger"
	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
	"dbis/pkg/platform/sentinel"
)

// AnchorProfessionalRecords derives the digest over the identity's current
// record set and submits it to the ledger. The record set itself never leaves
// the service; only the digest is anchored.
//
// Requires a confirmed identity: record commitments reference the identity's
// on-ledger registration.
func (s *Service) AnchorProfessionalRecords(ctx context.Context, identityID id.IdentityID) (*Receipt, error) {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, wrapStoreErr(err, "identity")
	}
	if identity.AnchoringStatus != models.AnchoringConfirmed {
		return nil, dErrors.New(dErrors.CodeNotEligible, "identity must be anchored before its records")
	}

	rows, err := s.records.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, wrapStoreErr(err, "records")
	}
	records := make([]models.ProfessionalRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, *row)
	}

	digest, err := commitment.ProfessionalDigest(records)
	if err != nil {
		return nil, err
	}

	// Re-anchoring an unchanged record set is a no-op.
	if active, err := s.commitments.ActiveFor(ctx, identityID, models.CommitmentProfessional); err == nil && active.Digest == digest {
		receipt := s.receiptFor(ctx, identity, true)
		receipt.TxHash = active.TxHash
		return receipt, nil
	}

	result, err := s.ledger.Submit(ctx, ledger.SubmitPayload{
		Kind:    ledger.KindProfessionalRecord,
		Address: identity.Address(),
		Digest:  common.HexToHash(digest),
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrRejected):
			s.countSubmission("rejected")
			return nil, dErrors.Wrap(err, dErrors.CodeLedgerRejected, "ledger rejected the record digest")
		case errors.Is(err, ledger.ErrUnavailable):
			s.countSubmission("unavailable")
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger is unavailable")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger submission failed")
		}
	}

	// Tracker row, commitment activation and audit row commit as one unit so
	// a crash cannot leave a recorded submission without its commitment.
	now := s.clock()
	tx := anchormodels.NewLedgerTransaction(identityID, ledger.KindProfessionalRecord, result, now)
	row := models.NewCommitment(identityID, models.CommitmentProfessional, digest, now)
	row.TxHash = tx.Hash

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.tracker.Record(ctx, tx); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return wrapStoreErr(err, "transaction")
		}
		if err := s.commitments.Activate(ctx, row); err != nil {
			return wrapStoreErr(err, "commitment")
		}
		s.emit(ctx, audit.Event{
			IdentityID: identityID.String(),
			Action:     audit.ActionRecordsAnchored,
			TxHash:     tx.Hash,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.countSubmission("accepted")

	receipt := s.receiptFor(ctx, identity, false)
	receipt.TxHash = tx.Hash
	receipt.BlockNumber = tx.BlockNumber
	return receipt, nil
}

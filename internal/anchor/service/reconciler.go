package service

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	anchormodels "dbis/internal/anchor/models"
	"dbis/internal/audit"
	"dbis/internal/identity/models"
	"dbis/internal/ledger"
	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
	"dbis/pkg/platform/sentinel"
)

// ReconcileReport describes what reconciliation found and did.
type ReconcileReport struct {
	Identity *models.Identity     `json:"identity"`
	Remote   ledger.IdentityState `json:"remote"`
	// Corrected is true when local state was moved to match the ledger.
	Corrected bool `json:"corrected"`
}

// Reconcile compares the local anchoring state with the ledger and corrects
// the local side. The ledger always wins, with one exception that is not a
// correction at all: a locally confirmed identity missing from the ledger is
// unexplainable by any crash window this engine has (confirmation only ever
// follows an observed ledger fact), so it raises a data integrity alarm
// instead of quietly downgrading.
func (s *Service) Reconcile(ctx context.Context, identityID id.IdentityID) (*ReconcileReport, error) {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, wrapStoreErr(err, "identity")
	}

	var (
		latestTx *anchormodels.LedgerTransaction
		state    ledger.IdentityState
	)

	// The tracker lookup and the ledger read are independent; fetch both
	// concurrently.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tx, err := s.tracker.LatestFor(gctx, identityID, string(ledger.KindIdentityRegistration))
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return wrapStoreErr(err, "transactions")
		}
		latestTx = tx
		return nil
	})
	g.Go(func() error {
		remote, err := s.ledger.ReadState(gctx, identity.Address())
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger state read failed")
		}
		state = remote
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &ReconcileReport{Identity: identity, Remote: state}

	if state.Registered {
		s.finalizePending(ctx, latestTx, ledger.StatusSuccess)

		if identity.AnchoringStatus != models.AnchoringConfirmed {
			confirmed, err := s.confirmIdentity(ctx, identityID, "reconciler")
			if err != nil {
				return nil, err
			}
			report.Identity = confirmed
			report.Corrected = true
			if s.metrics != nil {
				s.metrics.Corrections.Inc()
			}
			s.emit(ctx, audit.Event{
				IdentityID: identityID.String(),
				Action:     audit.ActionAnchorCorrected,
				Detail:     "confirmed from ledger state",
			})
		}
		return report, nil
	}

	if identity.AnchoringStatus == models.AnchoringConfirmed {
		s.logger.Error("data integrity alarm: confirmed identity missing from ledger",
			"identity_id", identityID, "ledger_address", identity.LedgerAddress)
		if s.metrics != nil {
			s.metrics.IntegrityAlarms.Inc()
		}
		s.emit(ctx, audit.Event{
			IdentityID: identityID.String(),
			Action:     audit.ActionIntegrityAlarm,
			Detail:     "confirmed locally but not registered on ledger",
		})
		return report, dErrors.New(dErrors.CodeIntegrity,
			"identity is confirmed locally but absent from the ledger")
	}

	// Not registered, not confirmed: if the pending submission demonstrably
	// failed, finalize its record. The identity itself stays submitted; the
	// sweeper owns the expiry decision.
	if latestTx != nil && !latestTx.IsFinal() {
		receipt, err := s.ledger.TransactionReceipt(ctx, latestTx.Hash)
		if err == nil && receipt != nil && !receipt.Success {
			s.applyOutcome(ctx, latestTx.Hash, ledger.StatusFailed, receipt.BlockNumber)
		}
	}
	return report, nil
}

// confirmIdentity moves an identity to confirmed, idempotently.
func (s *Service) confirmIdentity(ctx context.Context, identityID id.IdentityID, via string) (*models.Identity, error) {
	now := s.clock()
	confirmed, err := s.identities.Execute(ctx, identityID, func(i *models.Identity) error {
		i.ApplyAnchorConfirmation(now)
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, "identity")
	}
	s.logger.Info("identity anchoring confirmed", "identity_id", identityID, "via", via)
	if s.metrics != nil {
		s.metrics.Confirmations.Inc()
	}
	s.emit(ctx, audit.Event{
		IdentityID: identityID.String(),
		Action:     audit.ActionAnchorConfirmed,
		Detail:     via,
	})
	return confirmed, nil
}

// finalizePending finalizes a still-pending transaction with the given
// outcome, looking up the receipt for the block number.
func (s *Service) finalizePending(ctx context.Context, tx *anchormodels.LedgerTransaction, status ledger.Status) {
	if tx == nil || tx.IsFinal() {
		return
	}
	var blockNumber uint64
	if receipt, err := s.ledger.TransactionReceipt(ctx, tx.Hash); err == nil && receipt != nil {
		blockNumber = receipt.BlockNumber
	}
	s.applyOutcome(ctx, tx.Hash, status, blockNumber)
}

func (s *Service) applyOutcome(ctx context.Context, hash string, status ledger.Status, blockNumber uint64) {
	now := s.clock()
	_, err := s.tracker.Finalize(ctx, hash, func(tx *anchormodels.LedgerTransaction) error {
		return tx.ApplyOutcome(status, blockNumber, now)
	})
	if err != nil && !dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		s.logger.Warn("failed to finalize ledger transaction", "tx_hash", hash, "status", status, "error", err)
		return
	}
	if err != nil {
		// A racing finalizer reached a different verdict first. The tracker
		// row keeps the first one; log loudly and move on.
		s.logger.Error("conflicting transaction outcome dropped", "tx_hash", hash, "attempted", status)
	}
}

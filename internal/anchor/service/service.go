// Package service implements the identity anchoring and reconciliation
// engine: submission orchestration, receipt-driven confirmation, pending
// window expiry and local-versus-ledger reconciliation.
//
// The ledger is the source of truth for anchoring facts. Every corrective
// path in this package moves local state toward the ledger, never the other
// way around.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dbis/internal/anchor/metrics"
	anchormodels "dbis/internal/anchor/models"
	"dbis/internal/audit"
	"dbis/internal/identity/models"
	"dbis/internal/ledger"
	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
	"dbis/pkg/platform/sentinel"
	platformtx "dbis/pkg/platform/tx"
)

// IdentityStore is the slice of the identity store the engine needs.
type IdentityStore interface {
	FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	Execute(ctx context.Context, identityID id.IdentityID, fn func(*models.Identity) error) (*models.Identity, error)
	ListSubmittedDue(ctx context.Context, now time.Time, limit int) ([]*models.Identity, error)
}

// CommitmentStore is the slice of the commitment store the engine needs.
type CommitmentStore interface {
	ActiveFor(ctx context.Context, identityID id.IdentityID, kind models.CommitmentType) (*models.Commitment, error)
	Activate(ctx context.Context, commitment *models.Commitment) error
	BindTxHash(ctx context.Context, commitmentID id.CommitmentID, txHash string) error
}

// RecordStore lists the records whose digest gets anchored.
type RecordStore interface {
	ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]*models.ProfessionalRecord, error)
}

// Tracker persists ledger transaction records.
type Tracker interface {
	Record(ctx context.Context, tx *anchormodels.LedgerTransaction) error
	Finalize(ctx context.Context, hash string, fn func(*anchormodels.LedgerTransaction) error) (*anchormodels.LedgerTransaction, error)
	LatestFor(ctx context.Context, identityID id.IdentityID, kind string) (*anchormodels.LedgerTransaction, error)
	ListFor(ctx context.Context, identityID id.IdentityID, limit, offset int) ([]*anchormodels.LedgerTransaction, error)
}

// TxRunner scopes a unit of work. Postgres wiring passes tx.Runner so the
// bookkeeping that follows a ledger submission commits or rolls back as one;
// memory wiring uses the passthrough.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditPublisher records domain actions for the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service is the anchoring engine.
type Service struct {
	identities  IdentityStore
	commitments CommitmentStore
	records     RecordStore
	tracker     Tracker
	ledger      ledger.Client
	runner      TxRunner

	pendingWindow time.Duration

	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditPublisher
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

// WithTxRunner sets the unit-of-work runner for post-submission bookkeeping.
func WithTxRunner(runner TxRunner) Option {
	return func(s *Service) {
		if runner != nil {
			s.runner = runner
		}
	}
}

// WithClock sets the time source for deadline arithmetic. Tests use this to
// step through the pending window without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs the engine. pendingWindow bounds how long a submission may
// stay unconfirmed.
func New(identities IdentityStore, commitments CommitmentStore, records RecordStore, tracker Tracker, client ledger.Client, pendingWindow time.Duration, opts ...Option) *Service {
	s := &Service{
		identities:    identities,
		commitments:   commitments,
		records:       records,
		tracker:       tracker,
		ledger:        client,
		runner:        platformtx.PassthroughRunner{},
		pendingWindow: pendingWindow,
		clock:         time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Receipt is what anchoring operations return to the API surface.
type Receipt struct {
	IdentityID      id.IdentityID          `json:"identity_id"`
	AnchoringStatus models.AnchoringStatus `json:"anchoring_status"`
	AnchorDeadline  *time.Time             `json:"anchor_deadline,omitempty"`
	TxHash          string                 `json:"tx_hash,omitempty"`
	BlockNumber     *uint64                `json:"block_number,omitempty"`
	// AlreadyAnchored marks the idempotent short-circuit: the request changed
	// nothing because the identity was anchored (or in flight) before it.
	AlreadyAnchored bool `json:"already_anchored,omitempty"`
}

// RequestAnchor submits the identity's active biometric commitment to the
// ledger.
//
// The eligibility check runs twice: once against local state, then against
// the ledger itself, because the ledger may already hold a registration the
// local row never heard about (a crashed confirmation, an out-of-band write).
// In that case local state self-heals to confirmed and no submission is made.
//
// A repeat request while a submission is pending or after confirmation is an
// idempotent no-op returning the current status; it never produces a second
// ledger transaction.
func (s *Service) RequestAnchor(ctx context.Context, identityID id.IdentityID) (*Receipt, error) {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, wrapStoreErr(err, "identity")
	}

	switch identity.AnchoringStatus {
	case models.AnchoringSubmitted, models.AnchoringConfirmed:
		return s.receiptFor(ctx, identity, true), nil
	}
	if err := identity.CanSubmitAnchor(); err != nil {
		return nil, err
	}

	commitment, err := s.commitments.ActiveFor(ctx, identityID, models.CommitmentBiometric)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotEligible, "identity has no active biometric commitment")
		}
		return nil, wrapStoreErr(err, "commitment")
	}

	// Remote double-check before submitting anything.
	state, err := s.ledger.ReadState(ctx, identity.Address())
	if err != nil {
		s.countSubmission("unavailable")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger state check failed")
	}
	if state.Registered {
		healed, err := s.selfHeal(ctx, identity)
		if err != nil {
			return nil, err
		}
		return s.receiptFor(ctx, healed, true), nil
	}

	// The submission itself runs outside any database transaction: a ledger
	// call must never hold a row lock, and a crash after this point is what
	// the reconciler exists for.
	result, err := s.ledger.Submit(ctx, ledger.SubmitPayload{
		Kind:    ledger.KindIdentityRegistration,
		Address: identity.Address(),
		Digest:  commitment.Hash(),
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrRejected):
			s.countSubmission("rejected")
			return nil, dErrors.Wrap(err, dErrors.CodeLedgerRejected, "ledger rejected the registration")
		case errors.Is(err, ledger.ErrUnavailable):
			s.countSubmission("unavailable")
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger is unavailable")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger submission failed")
		}
	}

	// Everything that records the submission locally commits as one unit: the
	// tracker row must never outlive the status change it witnesses, or a
	// retry after a crash would put a second registration on the ledger.
	now := s.clock()
	deadline := now.Add(s.pendingWindow)
	tx := anchormodels.NewLedgerTransaction(identityID, ledger.KindIdentityRegistration, result, now)

	var (
		updated *models.Identity
		raced   bool
	)
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.tracker.Record(ctx, tx); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return wrapStoreErr(err, "transaction")
		}
		if err := s.commitments.BindTxHash(ctx, commitment.ID, tx.Hash); err != nil {
			// A superseded commitment loses the bind; the submission stands.
			s.logger.Warn("failed to bind commitment tx hash", "commitment_id", commitment.ID, "error", err)
		}

		current, err := s.identities.Execute(ctx, identityID, func(i *models.Identity) error {
			if err := i.CanSubmitAnchor(); err != nil {
				return err
			}
			i.ApplyAnchorSubmission(deadline, now)
			return nil
		})
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeAlreadyAnchored) || dErrors.HasCode(err, dErrors.CodeNotEligible) {
				// A racing writer moved the identity first. Its status change
				// and this transaction row commit together; reconciliation
				// picks up whichever submission lands on the ledger.
				raced = true
				return nil
			}
			return wrapStoreErr(err, "identity")
		}
		updated = current

		s.emit(ctx, audit.Event{
			IdentityID: identityID.String(),
			Action:     audit.ActionAnchorSubmitted,
			TxHash:     tx.Hash,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if raced {
		s.logger.Warn("anchoring race detected after submission", "identity_id", identityID, "tx_hash", tx.Hash)
		current, findErr := s.identities.FindByID(ctx, identityID)
		if findErr != nil {
			return nil, wrapStoreErr(findErr, "identity")
		}
		return s.receiptFor(ctx, current, true), nil
	}

	s.countSubmission("accepted")

	return &Receipt{
		IdentityID:      identityID,
		AnchoringStatus: updated.AnchoringStatus,
		AnchorDeadline:  updated.AnchorDeadline,
		TxHash:          tx.Hash,
		BlockNumber:     tx.BlockNumber,
	}, nil
}

// Status reports the local anchoring view. It never calls the ledger; status
// queries must answer immediately even while the ledger is down.
func (s *Service) Status(ctx context.Context, identityID id.IdentityID) (*Receipt, error) {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, wrapStoreErr(err, "identity")
	}
	return s.receiptFor(ctx, identity, false), nil
}

const (
	defaultTransactionsPageSize = 20
	maxTransactionsPageSize     = 100
)

// Transactions lists a page of the identity's ledger transaction history,
// newest first. Page numbers start at 1; out-of-range sizes fall back to the
// default and are capped.
func (s *Service) Transactions(ctx context.Context, identityID id.IdentityID, page, pageSize int) ([]*anchormodels.LedgerTransaction, error) {
	if _, err := s.identities.FindByID(ctx, identityID); err != nil {
		return nil, wrapStoreErr(err, "identity")
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultTransactionsPageSize
	}
	if pageSize > maxTransactionsPageSize {
		pageSize = maxTransactionsPageSize
	}

	txs, err := s.tracker.ListFor(ctx, identityID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, wrapStoreErr(err, "transactions")
	}
	return txs, nil
}

// selfHeal confirms an identity the ledger already holds. Remote wins.
func (s *Service) selfHeal(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	now := s.clock()
	healed, err := s.identities.Execute(ctx, identity.ID, func(i *models.Identity) error {
		i.ApplyAnchorConfirmation(now)
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(err, "identity")
	}

	s.logger.Info("self-healed anchoring state from ledger", "identity_id", identity.ID)
	if s.metrics != nil {
		s.metrics.Corrections.Inc()
	}
	s.emit(ctx, audit.Event{
		IdentityID: identity.ID.String(),
		Action:     audit.ActionAnchorCorrected,
		Detail:     "ledger already holds registration",
	})
	return healed, nil
}

func (s *Service) receiptFor(ctx context.Context, identity *models.Identity, alreadyAnchored bool) *Receipt {
	receipt := &Receipt{
		IdentityID:      identity.ID,
		AnchoringStatus: identity.AnchoringStatus,
		AnchorDeadline:  identity.AnchorDeadline,
		AlreadyAnchored: alreadyAnchored,
	}
	tx, err := s.tracker.LatestFor(ctx, identity.ID, string(ledger.KindIdentityRegistration))
	if err == nil {
		receipt.TxHash = tx.Hash
		receipt.BlockNumber = tx.BlockNumber
	}
	return receipt
}

func (s *Service) countSubmission(outcome string) {
	if s.metrics != nil {
		s.metrics.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", event.Action, "error", err)
	}
}

func wrapStoreErr(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, what+" not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
}

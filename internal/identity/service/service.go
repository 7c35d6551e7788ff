// Package service implements identity lifecycle operations: registration,
// verification review, biometric commitment and professional records. Raw
// biometric descriptors are hashed at this boundary and never persisted.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dbis/internal/audit"
	"dbis/internal/commitment"
	"dbis/internal/identity/models"
	"dbis/internal/identity/store"
	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
	"dbis/pkg/platform/sentinel"
)

// AuditPublisher records domain actions for the audit trail.
type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service orchestrates identity management.
type Service struct {
	identities  store.IdentityStore
	commitments store.CommitmentStore
	records     store.RecordStore

	clock  func() time.Time
	logger *slog.Logger
	audit  AuditPublisher
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs a Service.
func New(identities store.IdentityStore, commitments store.CommitmentStore, records store.RecordStore, opts ...Option) *Service {
	s := &Service{
		identities:  identities,
		commitments: commitments,
		records:     records,
		clock:       time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the identity for a user. One identity per user, one per
// ledger address.
func (s *Service) Register(ctx context.Context, userID id.UserID, ledgerAddress string) (*models.Identity, error) {
	identity, err := models.NewIdentity(id.NewIdentityID(), userID, ledgerAddress, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "user already has an identity or the address is taken")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
	}

	s.emit(ctx, audit.Event{
		IdentityID: identity.ID.String(),
		UserID:     userID.String(),
		Action:     audit.ActionIdentityRegistered,
	})
	return identity, nil
}

// Get returns one identity by ID.
func (s *Service) Get(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		return nil, wrapNotFound(err, "identity")
	}
	return identity, nil
}

// GetByUser returns the identity owned by a user.
func (s *Service) GetByUser(ctx context.Context, userID id.UserID) (*models.Identity, error) {
	identity, err := s.identities.FindByUserID(ctx, userID)
	if err != nil {
		return nil, wrapNotFound(err, "identity")
	}
	return identity, nil
}

// Review records an admin verification decision. An identity is reviewed
// exactly once.
func (s *Service) Review(ctx context.Context, identityID id.IdentityID, outcome models.VerificationStatus) (*models.Identity, error) {
	now := s.clock()
	identity, err := s.identities.Execute(ctx, identityID, func(i *models.Identity) error {
		return i.ApplyReview(outcome, now)
	})
	if err != nil {
		return nil, wrapNotFound(err, "identity")
	}

	s.emit(ctx, audit.Event{
		IdentityID: identityID.String(),
		Action:     audit.ActionIdentityReviewed,
		Detail:     string(outcome),
	})
	return identity, nil
}

// RegisterBiometric derives the commitment for a biometric descriptor and
// activates it. The descriptor is hashed here and discarded; any prior
// commitment is superseded, not overwritten.
func (s *Service) RegisterBiometric(ctx context.Context, identityID id.IdentityID, descriptor []byte) (*models.Commitment, error) {
	if _, err := s.identities.FindByID(ctx, identityID); err != nil {
		return nil, wrapNotFound(err, "identity")
	}

	digest, err := commitment.BiometricDigest(descriptor)
	if err != nil {
		return nil, err
	}

	row := models.NewCommitment(identityID, models.CommitmentBiometric, digest, s.clock())
	if err := s.commitments.Activate(ctx, row); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
	}

	s.emit(ctx, audit.Event{
		IdentityID: identityID.String(),
		Action:     audit.ActionBiometricCommitted,
	})
	return row, nil
}

// BiometricStatus reports whether an active biometric commitment exists.
type BiometricStatus struct {
	Registered  bool      `json:"registered"`
	Digest      string    `json:"digest,omitempty"`
	CommittedAt time.Time `json:"committed_at,omitzero"`
}

func (s *Service) GetBiometricStatus(ctx context.Context, identityID id.IdentityID) (*BiometricStatus, error) {
	if _, err := s.identities.FindByID(ctx, identityID); err != nil {
		return nil, wrapNotFound(err, "identity")
	}

	active, err := s.commitments.ActiveFor(ctx, identityID, models.CommitmentBiometric)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return &BiometricStatus{}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
	}
	return &BiometricStatus{
		Registered:  true,
		Digest:      active.Digest,
		CommittedAt: active.CreatedAt,
	}, nil
}

// AddRecord appends an immutable professional record.
func (s *Service) AddRecord(ctx context.Context, identityID id.IdentityID, recordType, institution, title, startDate, endDate string) (*models.ProfessionalRecord, error) {
	if _, err := s.identities.FindByID(ctx, identityID); err != nil {
		return nil, wrapNotFound(err, "identity")
	}

	record, err := models.NewProfessionalRecord(identityID, recordType, institution, title, startDate, endDate, s.clock())
	if err != nil {
		return nil, err
	}
	if err := s.records.Create(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
	}

	s.emit(ctx, audit.Event{
		IdentityID: identityID.String(),
		Action:     audit.ActionRecordAdded,
		Detail:     record.RecordType,
	})
	return record, nil
}

// ListRecords returns the identity's professional records, oldest first.
func (s *Service) ListRecords(ctx context.Context, identityID id.IdentityID) ([]*models.ProfessionalRecord, error) {
	if _, err := s.identities.FindByID(ctx, identityID); err != nil {
		return nil, wrapNotFound(err, "identity")
	}
	records, err := s.records.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
	}
	return records, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", event.Action, "error", err)
	}
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeNotFound, what+" not found")
	}
	if dErrors.CodeOf(err) != "" {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "storage failure")
}

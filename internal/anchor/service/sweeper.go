package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dbis/internal/audit"
	"dbis/internal/identity/models"
	"dbis/internal/ledger"
	dErrors "dbis/pkg/domain-errors"
	"dbis/pkg/platform/sentinel"
)

const sweepBatchSize = 100

// SweepStats summarizes one sweeper pass.
type SweepStats struct {
	Scanned   int
	Confirmed int
	Expired   int
	Skipped   int
}

// Sweep expires overdue submissions, with a last look at the ledger first.
//
// The ordering is the whole point: for every due identity the sweeper reads
// ledger state BEFORE flipping anything to expired. A submission that landed
// on the ledger but whose confirmation never reached us must be confirmed
// here, not expired; expiring it would contradict the ledger. When the ledger
// cannot be read the identity is skipped for this pass: the sweeper never
// expires on uncertainty, it just waits for a pass that can see the ledger.
func (s *Service) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	start := s.clock()

	due, err := s.identities.ListSubmittedDue(ctx, start, sweepBatchSize)
	if err != nil {
		return stats, wrapStoreErr(err, "due identities")
	}
	stats.Scanned = len(due)

	for _, identity := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		state, err := s.ledger.ReadState(ctx, identity.Address())
		if err != nil {
			stats.Skipped++
			s.logger.Warn("sweeper skipping identity, ledger unreadable",
				"identity_id", identity.ID, "error", err)
			continue
		}

		if state.Registered {
			if tx, err := s.tracker.LatestFor(ctx, identity.ID, string(ledger.KindIdentityRegistration)); err == nil {
				s.finalizePending(ctx, tx, ledger.StatusSuccess)
			}
			if _, err := s.confirmIdentity(ctx, identity.ID, "sweeper"); err != nil {
				s.logger.Error("sweeper failed to confirm identity", "identity_id", identity.ID, "error", err)
				stats.Skipped++
				continue
			}
			stats.Confirmed++
			continue
		}

		expired, err := s.expireIdentity(ctx, identity)
		if err != nil {
			s.logger.Error("sweeper failed to expire identity", "identity_id", identity.ID, "error", err)
			stats.Skipped++
			continue
		}
		if expired {
			stats.Expired++
		} else {
			stats.Skipped++
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveSweep(start)
	}
	if stats.Confirmed > 0 || stats.Expired > 0 {
		s.logger.Info("sweep completed",
			"scanned", stats.Scanned, "confirmed", stats.Confirmed,
			"expired", stats.Expired, "skipped", stats.Skipped)
	}
	return stats, nil
}

// expireIdentity flips one overdue identity to expired. The guard runs again
// under the store lock; a confirmation that raced in since the listing makes
// this a no-op rather than an error.
func (s *Service) expireIdentity(ctx context.Context, identity *models.Identity) (bool, error) {
	now := s.clock()
	_, err := s.identities.Execute(ctx, identity.ID, func(i *models.Identity) error {
		if err := i.CanExpireAnchor(now); err != nil {
			return err
		}
		i.ApplyAnchorExpiry(now)
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) ||
			dErrors.HasCode(err, dErrors.CodeInvariantViolation) ||
			dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			// Someone else moved the identity first. Nothing to do.
			return false, nil
		}
		return false, err
	}

	if s.metrics != nil {
		s.metrics.Expirations.Inc()
	}
	s.emit(ctx, audit.Event{
		IdentityID: identity.ID.String(),
		Action:     audit.ActionAnchorExpired,
		Detail:     "pending window elapsed without confirmation",
	})
	return true, nil
}

// Sweeper runs Sweep on a fixed interval until its context is cancelled.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{service: service, interval: interval, logger: logger}
}

func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.service.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				w.logger.Error("sweep pass failed", "error", err)
			}
		}
	}
}

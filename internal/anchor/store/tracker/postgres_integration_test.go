//go:build integration

package tracker_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"dbis/internal/anchor/models"
	"dbis/internal/anchor/store/tracker"
	"dbis/internal/auth"
	identitymodels "dbis/internal/identity/models"
	identitystore "dbis/internal/identity/store/identity"
	"dbis/internal/ledger"
	id "dbis/pkg/domain"
	dErrors "dbis/pkg/domain-errors"
	"dbis/pkg/platform/sentinel"
	platformtx "dbis/pkg/platform/tx"
	"dbis/pkg/testutil/containers"
)

type PostgresTrackerSuite struct {
	suite.Suite
	postgres   *containers.PostgresContainer
	users      *auth.PostgresStore
	identities *identitystore.PostgresStore
	store      *tracker.PostgresStore
}

func TestPostgresTrackerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTrackerSuite))
}

func (s *PostgresTrackerSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.users = auth.NewPostgres(s.postgres.DB)
	s.identities = identitystore.NewPostgres(s.postgres.DB)
	s.store = tracker.NewPostgres(s.postgres.DB)
}

func (s *PostgresTrackerSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"audit_events", "ledger_transactions", "professional_records", "commitments", "identities", "users")
	s.Require().NoError(err)
}

func (s *PostgresTrackerSuite) newPersistedIdentity() *identitymodels.Identity {
	ctx := context.Background()
	user, err := auth.NewUser(uuid.NewString()+"@example.com", "correct horse battery", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.users.Create(ctx, user))

	address := "0x" + uuid.NewString()[:8] + "00000000000000000000000000000000"
	identity, err := identitymodels.NewIdentity(id.NewIdentityID(), user.ID, address[:42], time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.identities.Create(ctx, identity))
	return identity
}

func (s *PostgresTrackerSuite) record(identityID id.IdentityID, hash string, createdAt time.Time) *models.LedgerTransaction {
	tx := models.NewLedgerTransaction(identityID, ledger.KindIdentityRegistration,
		ledger.SubmitResult{TxHash: hash}, createdAt)
	s.Require().NoError(s.store.Record(context.Background(), tx))
	return tx
}

func (s *PostgresTrackerSuite) TestRecordAndFind() {
	ctx := context.Background()
	identity := s.newPersistedIdentity()
	tx := s.record(identity.ID, "0xaaa1", time.Now().UTC().Truncate(time.Microsecond))

	found, err := s.store.FindByHash(ctx, tx.Hash)
	s.Require().NoError(err)
	s.Equal(identity.ID, found.IdentityID)
	s.Equal(ledger.StatusPending, found.Status)
	s.Nil(found.BlockNumber)

	s.ErrorIs(s.store.Record(ctx, tx), sentinel.ErrConflict)

	_, err = s.store.FindByHash(ctx, "0xmissing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresTrackerSuite) TestLatestFor() {
	ctx := context.Background()
	identity := s.newPersistedIdentity()
	now := time.Now().UTC()

	s.record(identity.ID, "0xold", now.Add(-2*time.Hour))
	s.record(identity.ID, "0xnew", now.Add(-time.Hour))

	latest, err := s.store.LatestFor(ctx, identity.ID, string(ledger.KindIdentityRegistration))
	s.Require().NoError(err)
	s.Equal("0xnew", latest.Hash)

	_, err = s.store.LatestFor(ctx, identity.ID, string(ledger.KindProfessionalRecord))
	s.ErrorIs(err, sentinel.ErrNotFound)

	all, err := s.store.ListFor(ctx, identity.ID, 0, 0)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("0xnew", all[0].Hash)
}

func (s *PostgresTrackerSuite) TestListForPaginates() {
	ctx := context.Background()
	identity := s.newPersistedIdentity()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		s.record(identity.ID, fmt.Sprintf("0xpage%d", i), now.Add(time.Duration(i)*time.Minute))
	}

	first, err := s.store.ListFor(ctx, identity.ID, 2, 0)
	s.Require().NoError(err)
	s.Require().Len(first, 2)
	s.Equal("0xpage4", first[0].Hash)
	s.Equal("0xpage3", first[1].Hash)

	last, err := s.store.ListFor(ctx, identity.ID, 2, 4)
	s.Require().NoError(err)
	s.Require().Len(last, 1)
	s.Equal("0xpage0", last[0].Hash)

	beyond, err := s.store.ListFor(ctx, identity.ID, 2, 10)
	s.Require().NoError(err)
	s.Empty(beyond)
}

// TestRecordJoinsUnitOfWork verifies that a failed unit of work takes the
// tracker row down with it.
func (s *PostgresTrackerSuite) TestRecordJoinsUnitOfWork() {
	ctx := context.Background()
	identity := s.newPersistedIdentity()
	runner := platformtx.NewRunner(s.postgres.DB)

	tx := models.NewLedgerTransaction(identity.ID, ledger.KindIdentityRegistration,
		ledger.SubmitResult{TxHash: "0xdoomed"}, time.Now().UTC())
	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Record(ctx, tx); err != nil {
			return err
		}
		return fmt.Errorf("later write failed")
	})
	s.Require().Error(err)

	_, err = s.store.FindByHash(ctx, "0xdoomed")
	s.ErrorIs(err, sentinel.ErrNotFound)

	// A committed unit keeps the row.
	err = runner.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.Record(ctx, tx)
	})
	s.Require().NoError(err)
	found, err := s.store.FindByHash(ctx, "0xdoomed")
	s.Require().NoError(err)
	s.Equal(identity.ID, found.IdentityID)
}

// TestUnitOfWorkSpansStores verifies the anchoring write pattern end to end:
// tracker row and identity status change commit or roll back together.
func (s *PostgresTrackerSuite) TestUnitOfWorkSpansStores() {
	ctx := context.Background()
	identity := s.newPersistedIdentity()
	s.Require().NoError(identity.ApplyReview(identitymodels.VerificationVerified, time.Now()))
	s.Require().NoError(s.identities.Update(ctx, identity))

	runner := platformtx.NewRunner(s.postgres.DB)
	deadline := time.Now().Add(24 * time.Hour)

	tx := models.NewLedgerTransaction(identity.ID, ledger.KindIdentityRegistration,
		ledger.SubmitResult{TxHash: "0xatomic"}, time.Now().UTC())
	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Record(ctx, tx); err != nil {
			return err
		}
		_, err := s.identities.Execute(ctx, identity.ID, func(i *identitymodels.Identity) error {
			i.ApplyAnchorSubmission(deadline, time.Now())
			return fmt.Errorf("status change failed")
		})
		return err
	})
	s.Require().Error(err)

	// Neither write survived.
	_, err = s.store.FindByHash(ctx, "0xatomic")
	s.ErrorIs(err, sentinel.ErrNotFound)
	reloaded, err := s.identities.FindByID(ctx, identity.ID)
	s.Require().NoError(err)
	s.Equal(identitymodels.AnchoringNotAnchored, reloaded.AnchoringStatus)

	// The same unit without the failure commits both.
	err = runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Record(ctx, tx); err != nil {
			return err
		}
		_, err := s.identities.Execute(ctx, identity.ID, func(i *identitymodels.Identity) error {
			i.ApplyAnchorSubmission(deadline, time.Now())
			return nil
		})
		return err
	})
	s.Require().NoError(err)

	found, err := s.store.FindByHash(ctx, "0xatomic")
	s.Require().NoError(err)
	s.Equal(ledger.StatusPending, found.Status)
	reloaded, err = s.identities.FindByID(ctx, identity.ID)
	s.Require().NoError(err)
	s.Equal(identitymodels.AnchoringSubmitted, reloaded.AnchoringStatus)
}

// TestConcurrentFinalize verifies that FOR UPDATE makes racing finalizers
// safe: the first outcome lands, repeats are no-ops, and a conflicting
// outcome is refused.
func (s *PostgresTrackerSuite) TestConcurrentFinalize() {
	ctx := context.Background()
	identity := s.newPersistedIdentity()
	tx := s.record(identity.ID, "0xrace", time.Now().UTC())

	const goroutines = 10
	var wg sync.WaitGroup
	var applied atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.store.Finalize(ctx, tx.Hash, func(t *models.LedgerTransaction) error {
				if t.IsFinal() {
					return fmt.Errorf("already final")
				}
				applied.Add(1)
				return t.ApplyOutcome(ledger.StatusSuccess, uint64(100+n), time.Now())
			})
			_ = err
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), applied.Load(), "exactly one finalizer should apply the outcome")

	found, err := s.store.FindByHash(ctx, tx.Hash)
	s.Require().NoError(err)
	s.Equal(ledger.StatusSuccess, found.Status)
	s.Require().NotNil(found.BlockNumber)

	// A conflicting verdict after finalization is an invariant violation.
	_, err = s.store.Finalize(ctx, tx.Hash, func(t *models.LedgerTransaction) error {
		return t.ApplyOutcome(ledger.StatusFailed, 200, time.Now())
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dbis/internal/identity/models"
	id "dbis/pkg/domain"
	"dbis/pkg/platform/sentinel"
)

const testAddress = "0x71C7656EC7ab88b098defB751B7401B5f6d8976F"

type IdentityStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *IdentityStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

// SetupSubTest gives each s.Run a fresh store; TestUniqueness re-creates the
// same ledger address in consecutive subtests and needs the isolation.
func (s *IdentityStoreSuite) SetupSubTest() {
	s.SetupTest()
}

func TestIdentityStoreSuite(t *testing.T) {
	suite.Run(t, new(IdentityStoreSuite))
}

func (s *IdentityStoreSuite) newIdentity(address string) *models.Identity {
	identity, err := models.NewIdentity(id.NewIdentityID(), id.NewUserID(), address, time.Now())
	s.Require().NoError(err)
	return identity
}

// TestCreationAndLookups verifies the store correctly creates and retrieves
// identities.
func (s *IdentityStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds identity by ID and user", func() {
		identity := s.newIdentity(testAddress)
		s.Require().NoError(s.store.Create(s.ctx, identity))

		found, err := s.store.FindByID(s.ctx, identity.ID)
		s.Require().NoError(err)
		s.Equal(identity.LedgerAddress, found.LedgerAddress)

		found, err = s.store.FindByUserID(s.ctx, identity.UserID)
		s.Require().NoError(err)
		s.Equal(identity.ID, found.ID)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewIdentityID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("lookups return copies, not shared state", func() {
		identity := s.newIdentity("0x0000000000000000000000000000000000000001")
		s.Require().NoError(s.store.Create(s.ctx, identity))

		found, err := s.store.FindByID(s.ctx, identity.ID)
		s.Require().NoError(err)
		found.VerificationStatus = models.VerificationRejected

		again, err := s.store.FindByID(s.ctx, identity.ID)
		s.Require().NoError(err)
		s.Equal(models.VerificationPendingReview, again.VerificationStatus)
	})
}

// TestUniqueness verifies one identity per user and per ledger address.
func (s *IdentityStoreSuite) TestUniqueness() {
	s.Run("rejects second identity for same user", func() {
		first := s.newIdentity(testAddress)
		s.Require().NoError(s.store.Create(s.ctx, first))

		second := s.newIdentity("0x0000000000000000000000000000000000000002")
		second.UserID = first.UserID
		s.ErrorIs(s.store.Create(s.ctx, second), sentinel.ErrConflict)
	})

	s.Run("rejects duplicate ledger address", func() {
		first := s.newIdentity(testAddress)
		s.Require().NoError(s.store.Create(s.ctx, first))

		second := s.newIdentity(testAddress)
		s.ErrorIs(s.store.Create(s.ctx, second), sentinel.ErrConflict)
	})
}

// TestExecute verifies the atomic read-modify-write contract.
func (s *IdentityStoreSuite) TestExecute() {
	s.Run("persists mutation when callback succeeds", func() {
		identity := s.newIdentity(testAddress)
		s.Require().NoError(s.store.Create(s.ctx, identity))

		updated, err := s.store.Execute(s.ctx, identity.ID, func(i *models.Identity) error {
			return i.ApplyReview(models.VerificationVerified, time.Now())
		})
		s.Require().NoError(err)
		s.Equal(models.VerificationVerified, updated.VerificationStatus)

		found, err := s.store.FindByID(s.ctx, identity.ID)
		s.Require().NoError(err)
		s.Equal(models.VerificationVerified, found.VerificationStatus)
	})

	s.Run("discards mutation when callback fails", func() {
		identity := s.newIdentity("0x0000000000000000000000000000000000000003")
		s.Require().NoError(s.store.Create(s.ctx, identity))

		sentinelErr := errors.New("boom")
		_, err := s.store.Execute(s.ctx, identity.ID, func(i *models.Identity) error {
			i.VerificationStatus = models.VerificationVerified
			return sentinelErr
		})
		s.Require().ErrorIs(err, sentinelErr)

		found, err := s.store.FindByID(s.ctx, identity.ID)
		s.Require().NoError(err)
		s.Equal(models.VerificationPendingReview, found.VerificationStatus)
	})

	s.Run("serializes concurrent transitions", func() {
		identity := s.newIdentity("0x0000000000000000000000000000000000000004")
		identity.VerificationStatus = models.VerificationVerified
		s.Require().NoError(s.store.Create(s.ctx, identity))

		const goroutines = 20
		var wg sync.WaitGroup
		successes := make(chan struct{}, goroutines)

		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.store.Execute(s.ctx, identity.ID, func(i *models.Identity) error {
					if err := i.CanSubmitAnchor(); err != nil {
						return err
					}
					i.ApplyAnchorSubmission(time.Now().Add(time.Hour), time.Now())
					return nil
				})
				if err == nil {
					successes <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(successes)

		var count int
		for range successes {
			count++
		}
		s.Equal(1, count, "exactly one submission should win")
	})
}

// TestListSubmittedDue verifies the sweeper feed.
func (s *IdentityStoreSuite) TestListSubmittedDue() {
	now := time.Now()

	submit := func(address string, deadline time.Time) *models.Identity {
		identity := s.newIdentity(address)
		identity.VerificationStatus = models.VerificationVerified
		identity.ApplyAnchorSubmission(deadline, now)
		s.Require().NoError(s.store.Create(s.ctx, identity))
		return identity
	}

	overdue := submit("0x0000000000000000000000000000000000000005", now.Add(-2*time.Hour))
	older := submit("0x0000000000000000000000000000000000000006", now.Add(-4*time.Hour))
	submit("0x0000000000000000000000000000000000000007", now.Add(time.Hour)) // not yet due

	notSubmitted := s.newIdentity("0x0000000000000000000000000000000000000008")
	s.Require().NoError(s.store.Create(s.ctx, notSubmitted))

	due, err := s.store.ListSubmittedDue(s.ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(due, 2)
	s.Equal(older.ID, due[0].ID, "oldest deadline first")
	s.Equal(overdue.ID, due[1].ID)

	limited, err := s.store.ListSubmittedDue(s.ctx, now, 1)
	s.Require().NoError(err)
	s.Require().Len(limited, 1)
	s.Equal(older.ID, limited[0].ID)
}

package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"dbis/internal/identity/models"
	id "dbis/pkg/domain"
	"dbis/pkg/platform/sentinel"
)

// InMemory keeps identities in a map guarded by a mutex. Execute runs its
// callback under the write lock, which gives the same serialization the
// PostgreSQL store gets from a row lock.
type InMemory struct {
	mu        sync.RWMutex
	byID      map[id.IdentityID]*models.Identity
	byUser    map[id.UserID]id.IdentityID
	byAddress map[string]id.IdentityID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:      make(map[id.IdentityID]*models.Identity),
		byUser:    make(map[id.UserID]id.IdentityID),
		byAddress: make(map[string]id.IdentityID),
	}
}

func (s *InMemory) Create(ctx context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[identity.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byUser[identity.UserID]; exists {
		return sentinel.ErrConflict
	}
	addrKey := strings.ToLower(identity.LedgerAddress)
	if _, exists := s.byAddress[addrKey]; exists {
		return sentinel.ErrConflict
	}

	cp := *identity
	s.byID[identity.ID] = &cp
	s.byUser[identity.UserID] = identity.ID
	s.byAddress[addrKey] = identity.ID
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(identityID)
}

func (s *InMemory) FindByUserID(ctx context.Context, userID id.UserID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identityID, ok := s.byUser[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.find(identityID)
}

func (s *InMemory) Update(ctx context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[identity.ID]; !exists {
		return sentinel.ErrNotFound
	}
	cp := *identity
	s.byID[identity.ID] = &cp
	return nil
}

func (s *InMemory) Execute(ctx context.Context, identityID id.IdentityID, fn func(*models.Identity) error) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := *current
	if err := fn(&working); err != nil {
		return nil, err
	}
	s.byID[identityID] = &working

	result := working
	return &result, nil
}

func (s *InMemory) ListSubmittedDue(ctx context.Context, now time.Time, limit int) ([]*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.Identity
	for _, identity := range s.byID {
		if identity.AnchoringStatus != models.AnchoringSubmitted {
			continue
		}
		if identity.AnchorDeadline == nil || identity.AnchorDeadline.After(now) {
			continue
		}
		cp := *identity
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].AnchorDeadline.Before(*due[j].AnchorDeadline)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// find returns a copy; callers must not see shared state. Caller holds a lock.
func (s *InMemory) find(identityID id.IdentityID) (*models.Identity, error) {
	identity, ok := s.byID[identityID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

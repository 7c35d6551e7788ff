// Package tracker persists ledger transaction records. The tracker is the
// engine's audit trail of every submission it ever made.
package tracker

import (
	"context"
	"sort"
	"sync"

	"dbis/internal/anchor/models"
	id "dbis/pkg/domain"
	"dbis/pkg/platform/sentinel"
)

// Store is the tracker port shared by the orchestrator, sweeper and
// reconciler.
type Store interface {
	// Record inserts a new transaction. Returns sentinel.ErrConflict for a
	// duplicate hash.
	Record(ctx context.Context, tx *models.LedgerTransaction) error

	FindByHash(ctx context.Context, hash string) (*models.LedgerTransaction, error)

	// Finalize applies fn to the transaction under the store's write lock and
	// persists the result. fn is typically ApplyOutcome.
	Finalize(ctx context.Context, hash string, fn func(*models.LedgerTransaction) error) (*models.LedgerTransaction, error)

	// LatestFor returns the most recently created transaction of the given
	// kind for an identity, or sentinel.ErrNotFound.
	LatestFor(ctx context.Context, identityID id.IdentityID, kind string) (*models.LedgerTransaction, error)

	// ListFor returns a page of the identity's transactions, newest first.
	// A limit of zero or less means no limit.
	ListFor(ctx context.Context, identityID id.IdentityID, limit, offset int) ([]*models.LedgerTransaction, error)
}

// InMemory keeps transactions in maps guarded by a mutex.
type InMemory struct {
	mu     sync.RWMutex
	byHash map[string]*models.LedgerTransaction
}

func NewInMemory() *InMemory {
	return &InMemory{byHash: make(map[string]*models.LedgerTransaction)}
}

func (s *InMemory) Record(ctx context.Context, tx *models.LedgerTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHash[tx.Hash]; exists {
		return sentinel.ErrConflict
	}
	cp := *tx
	s.byHash[tx.Hash] = &cp
	return nil
}

func (s *InMemory) FindByHash(ctx context.Context, hash string) (*models.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *InMemory) Finalize(ctx context.Context, hash string, fn func(*models.LedgerTransaction) error) (*models.LedgerTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	working := *current
	if err := fn(&working); err != nil {
		return nil, err
	}
	s.byHash[hash] = &working

	result := working
	return &result, nil
}

func (s *InMemory) LatestFor(ctx context.Context, identityID id.IdentityID, kind string) (*models.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.LedgerTransaction
	for _, tx := range s.byHash {
		if tx.IdentityID != identityID || string(tx.Kind) != kind {
			continue
		}
		if latest == nil || tx.CreatedAt.After(latest.CreatedAt) {
			latest = tx
		}
	}
	if latest == nil {
		return nil, sentinel.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *InMemory) ListFor(ctx context.Context, identityID id.IdentityID, limit, offset int) ([]*models.LedgerTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LedgerTransaction
	for _, tx := range s.byHash {
		if tx.IdentityID == identityID {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

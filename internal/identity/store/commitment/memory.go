// Package commitment stores digest commitment rows. The append-only shape
// matters: deactivated rows stay behind as the audit trail of what was
// committed when.
package commitment

import (
	"context"
	"sort"
	"sync"

	"dbis/internal/identity/models"
	id "dbis/pkg/domain"
	"dbis/pkg/platform/sentinel"
)

// InMemory keeps commitment rows in a slice guarded by a mutex.
type InMemory struct {
	mu   sync.RWMutex
	rows []*models.Commitment
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Activate(ctx context.Context, commitment *models.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.ID == commitment.ID {
			return sentinel.ErrConflict
		}
		if row.IdentityID == commitment.IdentityID && row.Type == commitment.Type {
			row.Active = false
		}
	}

	cp := *commitment
	cp.Active = true
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *InMemory) ActiveFor(ctx context.Context, identityID id.IdentityID, kind models.CommitmentType) (*models.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, row := range s.rows {
		if row.IdentityID == identityID && row.Type == kind && row.Active {
			cp := *row
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) ListFor(ctx context.Context, identityID id.IdentityID) ([]*models.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Commitment
	for _, row := range s.rows {
		if row.IdentityID == identityID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) BindTxHash(ctx context.Context, commitmentID id.CommitmentID, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.ID == commitmentID {
			row.TxHash = txHash
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// Package record stores professional record rows.
package record

import (
	"context"
	"sort"
	"sync"

	"dbis/internal/identity/models"
	id "dbis/pkg/domain"
	"dbis/pkg/platform/sentinel"
)

// InMemory keeps records in a slice guarded by a mutex.
type InMemory struct {
	mu   sync.RWMutex
	rows []*models.ProfessionalRecord
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Create(ctx context.Context, record *models.ProfessionalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if row.ID == record.ID {
			return sentinel.ErrConflict
		}
	}
	cp := *record
	s.rows = append(s.rows, &cp)
	return nil
}

func (s *InMemory) ListByIdentity(ctx context.Context, identityID id.IdentityID) ([]*models.ProfessionalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ProfessionalRecord
	for _, row := range s.rows {
		if row.IdentityID == identityID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

package audit

import (
	"context"
	"sync"
)

// Store is the outbox: events land here synchronously and the worker drains
// unshipped rows to Kafka.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByIdentity(ctx context.Context, identityID string) ([]Event, error)

	// NextUnshipped returns up to limit events not yet shipped, oldest first.
	NextUnshipped(ctx context.Context, limit int) ([]StoredEvent, error)
	MarkShipped(ctx context.Context, ids []int64) error
}

// StoredEvent is an outbox row: the event plus its delivery bookkeeping.
type StoredEvent struct {
	Seq   int64
	Event Event
}

// InMemory keeps events in an append-only slice.
type InMemory struct {
	mu      sync.RWMutex
	rows    []StoredEvent
	shipped map[int64]bool
	nextSeq int64
}

func NewInMemory() *InMemory {
	return &InMemory{shipped: make(map[int64]bool)}
}

func (s *InMemory) Append(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	s.rows = append(s.rows, StoredEvent{Seq: s.nextSeq, Event: event})
	return nil
}

func (s *InMemory) ListByIdentity(ctx context.Context, identityID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, row := range s.rows {
		if row.Event.IdentityID == identityID {
			out = append(out, row.Event)
		}
	}
	return out, nil
}

func (s *InMemory) NextUnshipped(ctx context.Context, limit int) ([]StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []StoredEvent
	for _, row := range s.rows {
		if s.shipped[row.Seq] {
			continue
		}
		out = append(out, row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) MarkShipped(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range ids {
		s.shipped[seq] = true
	}
	return nil
}

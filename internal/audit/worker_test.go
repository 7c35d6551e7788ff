package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events  []Event
	failOn  string
	shipErr error
}

func (s *recordingSink) Ship(ctx context.Context, event Event) error {
	if s.failOn != "" && event.Action == s.failOn {
		s.shipErr = errors.New("broker down")
		return s.shipErr
	}
	s.events = append(s.events, event)
	return nil
}

func testWorker(store Store, sink Sink) *Worker {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewWorker(store, sink, time.Second, logger)
}

func TestDrain_ShipsAndMarks(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	sink := &recordingSink{}

	require.NoError(t, store.Append(ctx, Event{Action: ActionAnchorSubmitted, IdentityID: "a", Timestamp: time.Now()}))
	require.NoError(t, store.Append(ctx, Event{Action: ActionAnchorConfirmed, IdentityID: "a", Timestamp: time.Now()}))

	w := testWorker(store, sink)
	require.NoError(t, w.drain(ctx))
	assert.Len(t, sink.events, 2)

	// Nothing left to ship.
	require.NoError(t, w.drain(ctx))
	assert.Len(t, sink.events, 2)
}

func TestDrain_StopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	sink := &recordingSink{failOn: ActionAnchorConfirmed}

	require.NoError(t, store.Append(ctx, Event{Action: ActionAnchorSubmitted, Timestamp: time.Now()}))
	require.NoError(t, store.Append(ctx, Event{Action: ActionAnchorConfirmed, Timestamp: time.Now()}))
	require.NoError(t, store.Append(ctx, Event{Action: ActionAnchorExpired, Timestamp: time.Now()}))

	w := testWorker(store, sink)
	require.NoError(t, w.drain(ctx))
	require.Len(t, sink.events, 1, "ordering: nothing after the failed event ships")

	// After the broker recovers the remaining events ship in order.
	sink.failOn = ""
	require.NoError(t, w.drain(ctx))
	require.Len(t, sink.events, 3)
	assert.Equal(t, ActionAnchorConfirmed, sink.events[1].Action)
	assert.Equal(t, ActionAnchorExpired, sink.events[2].Action)
}

// Package statecache is a Redis cache over ledger.Client's ReadState. It
// serves the ledger-status API surface, where a short-TTL stale view is
// acceptable; the anchoring engine itself (orchestrator eligibility check,
// sweeper last-look, reconciler) always uses the uncached client so
// correctness decisions never ride on a cache.
package statecache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"

	"dbis/internal/ledger"
	"dbis/internal/platform/redis"
)

const (
	keyPrefix      = "ledger:state:"
	refreshTimeout = 5 * time.Second
)

// Cache holds ledger state snapshots in Redis with a TTL. Request paths read
// it through Peek, which never calls the ledger; misses are repaired by a
// bounded background refresh.
type Cache struct {
	inner  ledger.Client
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Wrap returns a state cache over the client, or nil when Redis is not
// configured. Callers treat a nil cache as "no ledger view".
func Wrap(inner ledger.Client, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &Cache{
		inner:    inner,
		client:   client,
		ttl:      ttl,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Peek returns the cached state for the address without touching the ledger.
// A miss returns false and schedules a background refresh so a later query
// finds the entry.
func (c *Cache) Peek(ctx context.Context, address common.Address) (ledger.IdentityState, bool) {
	cached, err := c.client.Get(ctx, key(address)).Bytes()
	if err == nil {
		var state ledger.IdentityState
		if jsonErr := json.Unmarshal(cached, &state); jsonErr == nil {
			return state, true
		}
	} else if err != goredis.Nil {
		c.logger.Warn("ledger state cache read failed", "error", err)
	}

	c.refresh(address)
	return ledger.IdentityState{}, false
}

// ReadState is the read-through path: a cache hit answers directly, a miss
// fetches from the ledger and populates the cache.
func (c *Cache) ReadState(ctx context.Context, address common.Address) (ledger.IdentityState, error) {
	cached, err := c.client.Get(ctx, key(address)).Bytes()
	if err == nil {
		var state ledger.IdentityState
		if jsonErr := json.Unmarshal(cached, &state); jsonErr == nil {
			return state, nil
		}
	} else if err != goredis.Nil {
		c.logger.Warn("ledger state cache read failed", "error", err)
	}

	state, err := c.inner.ReadState(ctx, address)
	if err != nil {
		return ledger.IdentityState{}, err
	}

	if payload, jsonErr := json.Marshal(state); jsonErr == nil {
		if setErr := c.client.Set(ctx, key(address), payload, c.ttl).Err(); setErr != nil {
			c.logger.Warn("ledger state cache write failed", "error", setErr)
		}
	}
	return state, nil
}

// refresh fetches the address's state off the request path, at most one
// fetch per address at a time.
func (c *Cache) refresh(address common.Address) {
	k := key(address)
	c.mu.Lock()
	if _, busy := c.inflight[k]; busy {
		c.mu.Unlock()
		return
	}
	c.inflight[k] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, k)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if _, err := c.ReadState(ctx, address); err != nil {
			c.logger.Warn("background ledger state refresh failed", "address", address.Hex(), "error", err)
		}
	}()
}

func key(address common.Address) string {
	return keyPrefix + address.Hex()
}

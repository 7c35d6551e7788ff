//go:build integration

package statecache_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"dbis/internal/ledger/ledgertest"
	"dbis/internal/ledger/statecache"
	platformredis "dbis/internal/platform/redis"
	"dbis/pkg/testutil/containers"
)

type StateCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	fake  *ledgertest.Fake
	cache *statecache.Cache
}

func TestStateCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(StateCacheSuite))
}

func (s *StateCacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *StateCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s.fake = ledgertest.New()
	s.cache = statecache.Wrap(s.fake, &platformredis.Client{Client: s.redis.Client}, time.Minute, logger)
}

func (s *StateCacheSuite) TestReadThroughServesFromCache() {
	ctx := context.Background()
	address := common.HexToAddress("0x71C7656EC7ab88b098defB751B7401B5f6d8976F")
	s.fake.RegisterAddress(address)

	first, err := s.cache.ReadState(ctx, address)
	s.Require().NoError(err)
	s.True(first.Registered)
	s.Equal(1, s.fake.ReadStateCalls())

	second, err := s.cache.ReadState(ctx, address)
	s.Require().NoError(err)
	s.Equal(first, second)
	s.Equal(1, s.fake.ReadStateCalls(), "second read should be served from redis")
}

func (s *StateCacheSuite) TestPeekServesOnlyCachedState() {
	ctx := context.Background()
	address := common.HexToAddress("0x71C7656EC7ab88b098defB751B7401B5f6d8976F")
	s.fake.RegisterAddress(address)

	// Populate through the read-through path, then peek.
	state, err := s.cache.ReadState(ctx, address)
	s.Require().NoError(err)
	calls := s.fake.ReadStateCalls()

	peeked, ok := s.cache.Peek(ctx, address)
	s.Require().True(ok)
	s.Equal(state, peeked)
	s.Equal(calls, s.fake.ReadStateCalls(), "a hit never reaches the ledger on the request path")
}

func (s *StateCacheSuite) TestPeekMissTriggersBackgroundRefresh() {
	ctx := context.Background()
	address := common.HexToAddress("0x0000000000000000000000000000000000000042")
	s.fake.RegisterAddress(address)

	// Cold cache: the peek itself answers nothing.
	_, ok := s.cache.Peek(ctx, address)
	s.False(ok)

	// The refresh runs off the request path and populates the entry.
	s.Require().Eventually(func() bool {
		state, ok := s.cache.Peek(ctx, address)
		return ok && state.Registered
	}, 3*time.Second, 20*time.Millisecond)
}

func (s *StateCacheSuite) TestWrapWithoutRedisReturnsNil() {
	s.Nil(statecache.Wrap(ledgertest.New(), nil, time.Minute, nil))
}

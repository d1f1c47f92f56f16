//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/redress/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type RedisCacheSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redis.Client
	cache     *TwoPhaseCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	uri, err := container.ConnectionString(ctx)
	s.Require().NoError(err)
	opts, err := redis.ParseURL(uri)
	s.Require().NoError(err)

	s.client = redis.NewClient(opts)
	s.Require().NoError(s.client.Ping(ctx).Err())

	s.cache = NewTwoPhaseCache(NewLRUCache(100), NewRedisCacheFromClient(s.client), time.Minute)
}

func (s *RedisCacheSuite) TearDownSuite() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *RedisCacheSuite) TestResultRoundTrip() {
	ctx := context.Background()
	bank := decimal.NewFromInt(10000)
	result := &domain.CalculationResult{
		Strategy:          domain.StrategyScenario,
		Scenario:          "unauth_limited",
		Eligible:          true,
		Amount:            &bank,
		CustomerLiability: &bank,
		BankCompensation:  &bank,
		Outcome:           domain.OutcomeComputed,
	}

	s.Require().NoError(s.cache.SetResult(ctx, "tenant-a", "calc:1", result, time.Minute))

	got, err := s.cache.GetResult(ctx, "tenant-a", "calc:1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.True(got.BankCompensation.Equal(bank))

	other, err := s.cache.GetResult(ctx, "tenant-b", "calc:1")
	s.Require().NoError(err)
	s.Nil(other)
}

func (s *RedisCacheSuite) TestL2HitPopulatesL1() {
	ctx := context.Background()

	s.Require().NoError(s.cache.remote.Set(ctx, "tenant-a", "k", []byte("v"), time.Minute))

	val, err := s.cache.Get(ctx, "tenant-a", "k")
	s.Require().NoError(err)
	s.Equal("v", string(val))

	local, err := s.cache.local.Get(ctx, "tenant-a", "k")
	s.Require().NoError(err)
	s.Equal("v", string(local))
}

func (s *RedisCacheSuite) TestDeleteClearsBothLevels() {
	ctx := context.Background()

	s.Require().NoError(s.cache.Set(ctx, "tenant-a", "k", []byte("v"), time.Minute))
	s.Require().NoError(s.cache.Delete(ctx, "tenant-a", "k"))

	val, err := s.cache.Get(ctx, "tenant-a", "k")
	s.Require().NoError(err)
	s.Nil(val)
}

func (s *RedisCacheSuite) TestPing() {
	s.NoError(s.cache.Ping(context.Background()))
}

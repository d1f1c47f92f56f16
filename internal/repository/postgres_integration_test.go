//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/redress/internal/domain"
	"github.com/stretchr/testify/suite"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type PostgresRepositorySuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	repo      domain.Repository
}

func TestPostgresRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRepositorySuite))
}

func (s *PostgresRepositorySuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("redress"),
		tcpostgres.WithUsername("redress"),
		tcpostgres.WithPassword("redress"),
		tcpostgres.BasicWaitStrategies(),
	)
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	s.Require().NoError(err)

	s.repo, err = New(domain.RepositoryConfig{
		Driver:           "postgres",
		PostgresHost:     host,
		PostgresPort:     port.Int(),
		PostgresUser:     "redress",
		PostgresPassword: "redress",
		PostgresDB:       "redress",
	})
	s.Require().NoError(err)
}

func (s *PostgresRepositorySuite) TearDownSuite() {
	if s.repo != nil {
		_ = s.repo.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresRepositorySuite) TestRoundTrip() {
	ctx := context.Background()
	created := time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC)

	s.Require().NoError(s.repo.SaveCalculation(ctx, "tenant-pg", sampleRecord("pg-001", created)))

	rec, err := s.repo.GetCalculation(ctx, "tenant-pg", "pg-001")
	s.Require().NoError(err)
	s.Equal("upi", rec.Result.Scenario)
	s.True(rec.Result.Amount.Equal(*sampleRecord("x", created).Result.Amount))
	s.True(rec.CreatedAt.Equal(created))

	_, err = s.repo.GetCalculation(ctx, "other", "pg-001")
	s.ErrorIs(err, ErrNotFound)
}

func (s *PostgresRepositorySuite) TestListNewestFirst() {
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"pg-list-1", "pg-list-2", "pg-list-3"} {
		s.Require().NoError(s.repo.SaveCalculation(ctx, "tenant-list", sampleRecord(id, base.Add(time.Duration(i)*time.Hour))))
	}

	records, err := s.repo.ListCalculations(ctx, "tenant-list", 2)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("pg-list-3", records[0].ID)
	s.Equal("pg-list-2", records[1].ID)
}

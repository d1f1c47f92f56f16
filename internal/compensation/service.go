package compensation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/redress/internal/cache"
	"github.com/opensource-finance/redress/internal/domain"
	"github.com/opensource-finance/redress/internal/metrics"
	"github.com/opensource-finance/redress/internal/scenario"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownStrategy is returned when a request names no registered strategy.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrTenantRequired is returned when no tenant is given.
	ErrTenantRequired = errors.New("tenantID is required")

	// ErrNoRepository is returned by lookups when no audit store is configured.
	ErrNoRepository = errors.New("no repository configured")
)

var tracer = otel.Tracer("redress-compensation")

// Service runs calculations through the registered strategies.
type Service struct {
	strategies map[string]domain.Strategy
	cfg        domain.CompensationConfig

	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRepository stores an audit record for every calculation.
func WithRepository(repo domain.Repository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithCache memoises envelopes by request fingerprint.
func WithCache(c domain.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithEventBus publishes every envelope on TopicCompensationCalculated.
func WithEventBus(bus domain.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service over the given strategies.
func NewService(cfg domain.CompensationConfig, strategies []domain.Strategy, opts ...Option) *Service {
	s := &Service{
		strategies: make(map[string]domain.Strategy, len(strategies)),
		cfg:        cfg,
		now:        time.Now,
	}
	for _, st := range strategies {
		s.strategies[st.Name()] = st
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategies returns the registered strategy names, sorted.
func (s *Service) Strategies() []string {
	names := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calculate evaluates one request for a tenant.
func (s *Service) Calculate(ctx context.Context, tenantID string, req *domain.CalculationRequest) (*domain.CalculationResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrUnknownStrategy)
	}

	strategy, ok := s.strategies[req.Strategy]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, req.Strategy)
	}

	ctx, span := tracer.Start(ctx, "compensation.Calculate",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("compensation.strategy", req.Strategy),
		),
	)
	defer span.End()

	start := time.Now()

	key, result := s.lookup(ctx, tenantID, req)
	cached := result != nil
	if !cached {
		var err error
		result, err = strategy.Calculate(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.ObserveCalculation(req.Strategy, s.metricScenario(req.Strategy, requestScenario(req), ""), "error", time.Since(start))
			return nil, err
		}
	}

	result.ID = uuid.NewString()
	result.TenantID = tenantID
	result.CalculatedAt = s.now().UTC()

	span.SetAttributes(
		attribute.String("compensation.scenario", result.Scenario),
		attribute.String("compensation.outcome", string(result.Outcome)),
		attribute.Bool("compensation.eligible", result.Eligible),
		attribute.Bool("compensation.cached", cached),
	)

	label := s.metricScenario(result.Strategy, result.Scenario, result.Outcome)
	s.metrics.ObserveCalculation(result.Strategy, label, string(result.Outcome), time.Since(start))
	if result.Outcome == domain.OutcomeInternalFault {
		s.metrics.IncrementInternalFault(label)
		slog.Error("calculator fault contained",
			"tenant_id", tenantID,
			"calculation_id", result.ID,
			"scenario", result.Scenario,
			"explanation", result.ExplanationText(),
		)
	}

	if !cached && key != "" && result.Outcome != domain.OutcomeInternalFault {
		s.store(ctx, tenantID, key, result)
	}
	s.audit(ctx, tenantID, req, result)
	s.publish(ctx, tenantID, result)

	slog.Debug("calculation complete",
		"tenant_id", tenantID,
		"calculation_id", result.ID,
		"strategy", result.Strategy,
		"scenario", result.Scenario,
		"outcome", result.Outcome,
		"eligible", result.Eligible,
		"cached", cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}

// BatchItem is the outcome of one request in a batch.
type BatchItem struct {
	Index  int                       `json:"index"`
	Result *domain.CalculationResult `json:"result,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

// CalculateBatch evaluates requests concurrently, at most
// cfg.BatchConcurrency at a time. Per-request failures are reported in the
// matching item; only cancellation fails the whole batch.
func (s *Service) CalculateBatch(ctx context.Context, tenantID string, reqs []*domain.CalculationRequest) ([]BatchItem, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	s.metrics.ObserveBatchSize(len(reqs))

	limit := s.cfg.BatchConcurrency
	if limit <= 0 {
		limit = 1
	}

	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i].Index = i
			result, err := s.Calculate(gctx, tenantID, req)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Result = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch cancelled: %w", err)
	}
	return items, nil
}

// Get returns a stored calculation.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.CalculationRecord, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	return s.repo.GetCalculation(ctx, tenantID, id)
}

// List returns a tenant's most recent calculations.
func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]*domain.CalculationRecord, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	return s.repo.ListCalculations(ctx, tenantID, limit)
}

// lookup returns the cache key for req and, on a hit, the cached envelope.
func (s *Service) lookup(ctx context.Context, tenantID string, req *domain.CalculationRequest) (string, *domain.CalculationResult) {
	if s.cache == nil {
		return "", nil
	}

	key, err := cache.RequestKey(s.effective(req))
	if err != nil {
		slog.Warn("failed to fingerprint request", "error", err)
		return "", nil
	}

	result, err := s.cache.GetResult(ctx, tenantID, key)
	switch {
	case err != nil:
		s.metrics.IncrementCacheLookup("error")
		slog.Warn("result cache lookup failed", "tenant_id", tenantID, "error", err)
		return key, nil
	case result == nil:
		s.metrics.IncrementCacheLookup("miss")
		return key, nil
	default:
		s.metrics.IncrementCacheLookup("hit")
		return key, result
	}
}

// effective fills the default rates so requests that differ only in
// whether they spelled out the defaults share a cache entry.
func (s *Service) effective(req *domain.CalculationRequest) *domain.CalculationRequest {
	if req.Strategy != domain.StrategyScenario {
		return req
	}
	eff := *req
	if eff.DefaultRepoRate == 0 {
		eff.DefaultRepoRate = s.cfg.DefaultRepoRate
	}
	if eff.DefaultSavingsRate == 0 {
		eff.DefaultSavingsRate = s.cfg.DefaultSavingsRate
	}
	return &eff
}

func (s *Service) store(ctx context.Context, tenantID, key string, result *domain.CalculationResult) {
	ttl := s.cfg.ResultTTL
	if ttl <= 0 {
		return
	}
	if err := s.cache.SetResult(ctx, tenantID, key, result, ttl); err != nil {
		slog.Warn("failed to cache result", "tenant_id", tenantID, "error", err)
	}
}

func (s *Service) audit(ctx context.Context, tenantID string, req *domain.CalculationRequest, result *domain.CalculationResult) {
	if s.repo == nil {
		return
	}
	rec := &domain.CalculationRecord{
		ID:        result.ID,
		TenantID:  tenantID,
		Request:   req,
		Result:    result,
		CreatedAt: result.CalculatedAt,
	}
	if err := s.repo.SaveCalculation(ctx, tenantID, rec); err != nil {
		slog.Error("failed to save calculation",
			"tenant_id", tenantID,
			"calculation_id", result.ID,
			"error", err,
		)
	}
}

func (s *Service) publish(ctx context.Context, tenantID string, result *domain.CalculationResult) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to encode result event", "calculation_id", result.ID, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, tenantID, domain.TopicCompensationCalculated, payload); err != nil {
		slog.Error("failed to publish result event",
			"tenant_id", tenantID,
			"calculation_id", result.ID,
			"error", err,
		)
	}
}

// unknownLabel stands in for any scenario outside the known set, keeping
// metric cardinality bounded by the rule table and the scenario registry.
const unknownLabel = "unknown"

func requestScenario(req *domain.CalculationRequest) string {
	if req.Strategy == domain.StrategyLegacy {
		return strconv.Itoa(req.ScenarioID)
	}
	return strings.ToLower(strings.TrimSpace(req.Fields[scenario.FieldScenarioType]))
}

func (s *Service) metricScenario(strategy, name string, outcome domain.Outcome) string {
	if outcome == domain.OutcomeUnknownScenario {
		return unknownLabel
	}
	switch strategy {
	case domain.StrategyScenario:
		if scenario.Supported(name) {
			return name
		}
	case domain.StrategyLegacy:
		ls, ok := s.strategies[strategy].(*LegacyStrategy)
		if !ok {
			break
		}
		if id, err := strconv.Atoi(name); err == nil {
			if _, known := ls.Engine().Rule(id); known {
				return name
			}
		}
	}
	return unknownLabel
}

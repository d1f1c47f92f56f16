// Package compensation selects a rule representation per request and runs it
// behind a single service: caching, audit, events and instrumentation.
package compensation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/opensource-finance/redress/internal/domain"
	"github.com/opensource-finance/redress/internal/legacy"
	"github.com/opensource-finance/redress/internal/scenario"
	"github.com/shopspring/decimal"
)

// Explanation markers for the legacy strategy.
const (
	markerUnknownRule     = "eligible=false (unknown scenario id)"
	markerUnsupportedRule = "eligible=false (unsupported rule type)"
	markerNoCompensation  = "eligible=false (rule grants no compensation)"
)

// LegacyStrategy evaluates the numeric-id rule table.
type LegacyStrategy struct {
	engine *legacy.Engine
}

// NewLegacyStrategy wraps a legacy engine.
func NewLegacyStrategy(engine *legacy.Engine) *LegacyStrategy {
	return &LegacyStrategy{engine: engine}
}

// Name returns "legacy".
func (s *LegacyStrategy) Name() string { return domain.StrategyLegacy }

// Engine returns the wrapped engine.
func (s *LegacyStrategy) Engine() *legacy.Engine { return s.engine }

// Calculate runs the rule for req.ScenarioID. A malformed date is returned
// as an error wrapping legacy.ErrInvalidDate; unknown ids are worth zero.
func (s *LegacyStrategy) Calculate(ctx context.Context, req *domain.CalculationRequest) (*domain.CalculationResult, error) {
	ev, err := s.engine.Evaluate(req.ScenarioID, req.TransactionDate, req.ReferenceDate, req.Amount)
	if err != nil {
		return nil, fmt.Errorf("legacy scenario %d: %w", req.ScenarioID, err)
	}

	zero := decimal.Zero
	result := &domain.CalculationResult{
		Strategy:    domain.StrategyLegacy,
		Scenario:    strconv.Itoa(req.ScenarioID),
		Amount:      &zero,
		Outcome:     domain.OutcomeUnknownScenario,
		Explanation: []string{fmt.Sprintf("scenario_id=%d", req.ScenarioID)},
	}

	if !ev.Found {
		result.Explanation = append(result.Explanation, markerUnknownRule)
		return result, nil
	}

	primary := decimal.NewFromFloat(req.Amount)
	result.PrimaryAmount = &primary
	result.PrimaryDate = req.TransactionDate
	result.Explanation = append(result.Explanation,
		"rule_type="+string(ev.Rule.Type),
		"delay_days="+strconv.Itoa(ev.DelayDays),
	)

	if !legacy.Supported(ev.Rule.Type) {
		result.Explanation = append(result.Explanation, markerUnsupportedRule)
		return result, nil
	}

	amount := decimal.NewFromFloat(ev.Amount)
	result.Amount = &amount
	result.Outcome = domain.OutcomeComputed

	if ev.Rule.Type == legacy.TypeNoComp {
		result.Explanation = append(result.Explanation, markerNoCompensation)
		return result, nil
	}

	result.Eligible = true
	return result, nil
}

// ScenarioStrategy evaluates the named-scenario calculators.
type ScenarioStrategy struct {
	defaults domain.CompensationConfig
}

// NewScenarioStrategy uses cfg's rates when a request carries none.
func NewScenarioStrategy(cfg domain.CompensationConfig) *ScenarioStrategy {
	return &ScenarioStrategy{defaults: cfg}
}

// Name returns "scenario".
func (s *ScenarioStrategy) Name() string { return domain.StrategyScenario }

// Calculate dispatches req.Fields. It never returns an error: missing data
// and contained faults are reported through the result's Outcome.
func (s *ScenarioStrategy) Calculate(ctx context.Context, req *domain.CalculationRequest) (*domain.CalculationResult, error) {
	repoRate, savingsRate := s.rates(req)
	return scenario.Dispatch(req.Fields, repoRate, savingsRate), nil
}

func (s *ScenarioStrategy) rates(req *domain.CalculationRequest) (repoRate, savingsRate float64) {
	repoRate, savingsRate = req.DefaultRepoRate, req.DefaultSavingsRate
	if repoRate == 0 {
		repoRate = s.defaults.DefaultRepoRate
	}
	if savingsRate == 0 {
		savingsRate = s.defaults.DefaultSavingsRate
	}
	return repoRate, savingsRate
}

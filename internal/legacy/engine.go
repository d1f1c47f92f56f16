// Package legacy implements the numeric-id compensation rule table.
//
// Each rule type is a CEL program over the rule parameters, the elapsed delay
// and the transaction amount. Programs are compiled once per engine; the
// table itself is read-only after construction.
package legacy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// DateLayout is the only date format the legacy path accepts.
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned when a transaction or reference date does not parse.
var ErrInvalidDate = errors.New("invalid date")

// expressions maps each known rule type to its CEL formula.
// All variables are doubles; delay_days is never negative.
var expressions = map[RuleType]string{
	TypeDelay: `delay_days > allowed_days ? (delay_days - allowed_days) * per_day : 0.0`,

	TypeWeeklyDelay: `cel.bind(comp, double(int(delay_days) / 7) * per_week,
		comp < cap ? comp : cap)`,

	TypeInterest: `amount * rate * delay_days / 365.0`,

	TypeInterestWithLimits: `cel.bind(comp, amount * rate * delay_days / 365.0,
		cel.bind(floored, comp > min ? comp : min,
			floored < max ? floored : max))`,

	TypeRefund:        `amount`,
	TypeLimitedRefund: `amount < limit ? amount : limit`,
	TypeLockerLoss:    `amount * multiplier`,
	TypeNoComp:        `0.0`,
}

// roundedTypes are rounded to the nearest whole unit after evaluation.
var roundedTypes = map[RuleType]bool{
	TypeInterest: true,
}

// Engine evaluates legacy rules by scenario id.
type Engine struct {
	env      *cel.Env
	rules    map[int]RuleDescriptor
	programs map[RuleType]cel.Program
}

// Evaluation describes one legacy calculation.
type Evaluation struct {
	ScenarioID int
	Found      bool
	Rule       RuleDescriptor
	DelayDays  int
	Amount     float64
}

// NewEngine validates the rule table and compiles one program per rule type.
func NewEngine(rules map[int]RuleDescriptor) (*Engine, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	if err := Validate(rules); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}

	opts := []cel.EnvOption{
		ext.Bindings(),
		cel.Variable("delay_days", cel.DoubleType),
		cel.Variable("amount", cel.DoubleType),
	}
	for _, p := range AllParams {
		opts = append(opts, cel.Variable(string(p), cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:      env,
		rules:    make(map[int]RuleDescriptor, len(rules)),
		programs: make(map[RuleType]cel.Program, len(expressions)),
	}
	for id, rule := range rules {
		e.rules[id] = rule
	}

	for ruleType, expr := range expressions {
		program, err := e.compile(ruleType, expr)
		if err != nil {
			return nil, err
		}
		e.programs[ruleType] = program
	}

	return e, nil
}

// Calculate returns the compensation for a legacy scenario.
// Unknown scenario ids and unknown rule types are worth zero. Malformed
// dates are returned as errors wrapping ErrInvalidDate.
func (e *Engine) Calculate(scenarioID int, transactionDate, referenceDate string, amount float64) (float64, error) {
	ev, err := e.Evaluate(scenarioID, transactionDate, referenceDate, amount)
	if err != nil {
		return 0, err
	}
	return ev.Amount, nil
}

// Evaluate is Calculate with the intermediate values exposed.
func (e *Engine) Evaluate(scenarioID int, transactionDate, referenceDate string, amount float64) (*Evaluation, error) {
	ev := &Evaluation{ScenarioID: scenarioID}

	rule, ok := e.rules[scenarioID]
	if !ok {
		return ev, nil
	}
	ev.Found = true
	ev.Rule = rule

	txn, err := ParseDate(transactionDate)
	if err != nil {
		return nil, err
	}
	ref, err := ParseDate(referenceDate)
	if err != nil {
		return nil, err
	}
	ev.DelayDays = DaysBetween(txn, ref)

	program, ok := e.programs[rule.Type]
	if !ok {
		return ev, nil
	}

	activation := map[string]any{
		"delay_days": float64(ev.DelayDays),
		"amount":     amount,
	}
	for _, p := range AllParams {
		activation[string(p)] = rule.Param(p)
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("rule %d (%s): evaluation error: %w", scenarioID, rule.Type, err)
	}

	value := toFloat(out)
	if roundedTypes[rule.Type] {
		value = math.RoundToEven(value)
	}
	ev.Amount = value

	return ev, nil
}

// Supported reports whether a rule type has a formula. Rules of any other
// type are worth zero.
func Supported(t RuleType) bool {
	_, ok := expressions[t]
	return ok
}

// Rule returns the descriptor for a scenario id.
func (e *Engine) Rule(scenarioID int) (RuleDescriptor, bool) {
	rule, ok := e.rules[scenarioID]
	return rule, ok
}

// Rules returns the whole table ordered by id.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, 0, len(e.rules))
	for _, id := range sortedIDs(e.rules) {
		out = append(out, Rule{ID: id, RuleDescriptor: e.rules[id]})
	}
	return out
}

// RulesCount returns the number of rules in the table.
func (e *Engine) RulesCount() int {
	return len(e.rules)
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidDate, s, err)
	}
	return t, nil
}

// DaysBetween returns whole calendar days from a to b, clamped at zero.
// Both dates are UTC midnights as returned by ParseDate.
func DaysBetween(a, b time.Time) int {
	days := int((b.Unix() - a.Unix()) / (24 * 60 * 60))
	if days < 0 {
		return 0
	}
	return days
}

func (e *Engine) compile(ruleType RuleType, expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %s formula: %w", ruleType, issues.Err())
	}

	if ast.OutputType() != cel.DoubleType {
		return nil, fmt.Errorf("%s formula must return double, got %s", ruleType, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %s: %w", ruleType, err)
	}
	return program, nil
}

// toFloat converts a CEL value to float64.
func toFloat(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

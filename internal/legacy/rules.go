package legacy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RuleType tags how a legacy rule computes compensation.
type RuleType string

const (
	TypeDelay              RuleType = "delay"
	TypeWeeklyDelay        RuleType = "weekly_delay"
	TypeInterest           RuleType = "interest"
	TypeInterestWithLimits RuleType = "interest_with_limits"
	TypeRefund             RuleType = "refund"
	TypeLimitedRefund      RuleType = "limited_refund"
	TypeLockerLoss         RuleType = "locker_loss"
	TypeNoComp             RuleType = "no_comp"
)

// Param names a numeric rule parameter. The names double as CEL variables.
type Param string

const (
	ParamAllowedDays Param = "allowed_days"
	ParamPerDay      Param = "per_day"
	ParamPerWeek     Param = "per_week"
	ParamCap         Param = "cap"
	ParamRate        Param = "rate"
	ParamMin         Param = "min"
	ParamMax         Param = "max"
	ParamLimit       Param = "limit"
	ParamMultiplier  Param = "multiplier"
)

// AllParams lists every parameter in a stable order.
var AllParams = []Param{
	ParamAllowedDays, ParamPerDay, ParamPerWeek, ParamCap, ParamRate,
	ParamMin, ParamMax, ParamLimit, ParamMultiplier,
}

// requiredParams lists the parameters each known type needs.
var requiredParams = map[RuleType][]Param{
	TypeDelay:              {ParamAllowedDays, ParamPerDay},
	TypeWeeklyDelay:        {ParamPerWeek, ParamCap},
	TypeInterest:           {ParamRate},
	TypeInterestWithLimits: {ParamRate, ParamMin, ParamMax},
	TypeRefund:             nil,
	TypeLimitedRefund:      {ParamLimit},
	TypeLockerLoss:         {ParamMultiplier},
	TypeNoComp:             nil,
}

// RuleDescriptor is one entry of the legacy rule table.
type RuleDescriptor struct {
	Type   RuleType          `json:"type" yaml:"type"`
	Params map[Param]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// Param returns the named parameter, or 0 if it is not set.
func (r RuleDescriptor) Param(p Param) float64 {
	return r.Params[p]
}

// Rule is a descriptor together with its scenario id.
type Rule struct {
	ID int `json:"id"`
	RuleDescriptor
}

func delay(allowedDays, perDay float64) RuleDescriptor {
	return RuleDescriptor{Type: TypeDelay, Params: map[Param]float64{ParamAllowedDays: allowedDays, ParamPerDay: perDay}}
}

func interest(rate float64) RuleDescriptor {
	return RuleDescriptor{Type: TypeInterest, Params: map[Param]float64{ParamRate: rate}}
}

func refund() RuleDescriptor {
	return RuleDescriptor{Type: TypeRefund}
}

// DefaultRules returns the built-in rule table, keyed by scenario id 1..27.
func DefaultRules() map[int]RuleDescriptor {
	return map[int]RuleDescriptor{
		// Payment and transfer delays
		1: delay(1, 100),
		2: delay(5, 100),
		3: delay(1, 100),
		4: delay(5, 100),

		5: interest(0.08),
		6: interest(0.08),

		// Wallet and card delays
		7: delay(1, 100),
		8: delay(1, 100),

		9: interest(0.04),

		10: refund(),
		11: refund(),
		12: refund(),
		13: refund(),

		// Limited liability
		14: {Type: TypeLimitedRefund, Params: map[Param]float64{ParamLimit: 10000}},

		// Customer negligence
		15: {Type: TypeNoComp},

		16: {Type: TypeWeeklyDelay, Params: map[Param]float64{ParamPerWeek: 100, ParamCap: 5000}},

		// Bank error reversal
		17: refund(),

		// Locker access delay
		18: delay(7, 500),

		// Account closure delay
		19: delay(30, 100),

		// ATM delays
		20: delay(5, 100),
		21: delay(1, 100),

		// Savings interest with floor and ceiling
		22: {Type: TypeInterestWithLimits, Params: map[Param]float64{ParamRate: 0.03, ParamMin: 100, ParamMax: 1000}},

		// Fixed deposit interest
		23: interest(0.06),
		24: interest(0.06),

		// Investment delay
		25: interest(0.05),

		26: {Type: TypeLockerLoss, Params: map[Param]float64{ParamMultiplier: 100}},

		// Actual loss reimbursement
		27: refund(),
	}
}

// Validate checks that every rule of a known type carries its required
// parameters. Unknown types are allowed; they evaluate to zero.
func Validate(rules map[int]RuleDescriptor) error {
	for _, id := range sortedIDs(rules) {
		rule := rules[id]
		required, known := requiredParams[rule.Type]
		if !known {
			continue
		}
		for _, p := range required {
			if _, ok := rule.Params[p]; !ok {
				return fmt.Errorf("rule %d (%s): missing parameter %q", id, rule.Type, p)
			}
		}
		if rule.Type == TypeInterestWithLimits && rule.Param(ParamMin) > rule.Param(ParamMax) {
			return fmt.Errorf("rule %d (%s): min %.2f exceeds max %.2f", id, rule.Type, rule.Param(ParamMin), rule.Param(ParamMax))
		}
	}
	return nil
}

// ParseRules decodes a YAML rule table of the form
//
//	1: {type: delay, params: {allowed_days: 1, per_day: 100}}
func ParseRules(data []byte) (map[int]RuleDescriptor, error) {
	var rules map[int]RuleDescriptor
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rule table: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rule table is empty")
	}
	if err := Validate(rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// LoadRulesFile reads a rule table written in the ParseRules format.
func LoadRulesFile(path string) (map[int]RuleDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule table %s: %w", path, err)
	}
	return ParseRules(data)
}

func sortedIDs(rules map[int]RuleDescriptor) []int {
	ids := make([]int, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Package scenario implements the named-scenario compensation calculators and
// the dispatcher that turns extracted fields into a result envelope.
package scenario

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/redress/internal/domain"
	"github.com/shopspring/decimal"
)

// Scenario type names.
const (
	TypeUPI              = "upi"
	TypeATM              = "atm"
	TypeNEFT             = "neft"
	TypeRTGS             = "rtgs"
	TypeCheque           = "cheque"
	TypeNACHCredit       = "nach_credit"
	TypeNACHMandate      = "nach_mandate"
	TypeUnauthZero       = "unauth_zero"
	TypeUnauthLimited    = "unauth_limited"
	TypeUnauthNegligence = "unauth_negligence"
)

// IneligibleMarker ends the explanation of every non-eligible result.
const IneligibleMarker = "eligible=false (missing or invalid fields)"

// Info describes a supported scenario.
type Info struct {
	Name       string   `json:"name"`
	Calculator string   `json:"calculator"`
	Required   []string `json:"required"`
	Optional   []string `json:"optional,omitempty"`
	DateField  string   `json:"dateField"`
	Split      bool     `json:"liabilitySplit"`
}

// calculation is what a calculator produced. Exactly one of amount and
// split is set on success.
type calculation struct {
	amount *decimal.Decimal
	split  *LiabilitySplit
}

type entry struct {
	Info
	primaryAmount func(*Input) *decimal.Decimal
	primaryDate   func(*Input) *time.Time
	calculate     func(*Input, Defaults) calculation
}

func scalar(fn func(*Input) *decimal.Decimal) func(*Input, Defaults) calculation {
	return func(in *Input, _ Defaults) calculation { return calculation{amount: fn(in)} }
}

func scalarWithDefaults(fn func(*Input, Defaults) *decimal.Decimal) func(*Input, Defaults) calculation {
	return func(in *Input, d Defaults) calculation { return calculation{amount: fn(in, d)} }
}

func split(fn func(*Input) *LiabilitySplit) func(*Input, Defaults) calculation {
	return func(in *Input, _ Defaults) calculation { return calculation{split: fn(in)} }
}

func transactionAmount(in *Input) *decimal.Decimal { return in.TransactionAmount }
func fraudAmount(in *Input) *decimal.Decimal       { return in.FraudAmount }

// totalFraud is before + after, treating an absent side as zero.
func totalFraud(in *Input) *decimal.Decimal {
	if in.FraudAmountBeforeReport == nil && in.FraudAmountAfterReport == nil {
		return nil
	}
	total := decimalOr(in.FraudAmountBeforeReport, decimal.Zero).Add(decimalOr(in.FraudAmountAfterReport, decimal.Zero))
	return &total
}

func transactionDate(in *Input) *time.Time { return in.TransactionDate }
func dueDate(in *Input) *time.Time         { return in.DueDate }
func revocationDate(in *Input) *time.Time  { return in.RevocationEffectiveDate }
func debitDate(in *Input) *time.Time       { return in.DebitDate }

var registry = map[string]entry{
	TypeUPI: {
		Info: Info{
			Name: TypeUPI, Calculator: "upi", DateField: FieldTransactionDate,
			Required: []string{FieldTransactionAmount, FieldTransactionDate, FieldResolvedDate},
			Optional: []string{FieldTATDays},
		},
		primaryAmount: transactionAmount,
		primaryDate:   transactionDate,
		calculate:     scalar(UPI),
	},
	TypeATM: {
		Info: Info{
			Name: TypeATM, Calculator: "atm", DateField: FieldTransactionDate,
			Required: []string{FieldTransactionAmount, FieldTransactionDate, FieldResolvedDate},
			Optional: []string{FieldTATDays},
		},
		primaryAmount: transactionAmount,
		primaryDate:   transactionDate,
		calculate:     scalar(ATM),
	},
	TypeNEFT: {
		Info: Info{
			Name: TypeNEFT, Calculator: "neft", DateField: FieldDueDate,
			Required: []string{FieldTransactionAmount, FieldDueDate, FieldCreditDate},
			Optional: []string{FieldRepoRate},
		},
		primaryAmount: transactionAmount,
		primaryDate:   dueDate,
		calculate:     scalarWithDefaults(NEFT),
	},
	TypeRTGS: {
		Info: Info{
			Name: TypeRTGS, Calculator: "rtgs", DateField: FieldDueDate,
			Required: []string{FieldTransactionAmount, FieldDueDate, FieldCreditDate},
			Optional: []string{FieldRepoRate},
		},
		primaryAmount: transactionAmount,
		primaryDate:   dueDate,
		calculate:     scalarWithDefaults(RTGS),
	},
	TypeCheque: {
		Info: Info{
			Name: TypeCheque, Calculator: "cheque_delay", DateField: FieldDueDate,
			Required: []string{FieldTransactionAmount, FieldDelayDays, FieldInterestRate},
		},
		primaryAmount: transactionAmount,
		primaryDate:   dueDate,
		calculate:     scalar(Cheque),
	},
	TypeNACHCredit: {
		Info: Info{
			Name: TypeNACHCredit, Calculator: "nach_credit", DateField: FieldDueDate,
			Required: []string{FieldTransactionAmount, FieldDueDate, FieldCreditDate},
			Optional: []string{FieldTATDays},
		},
		primaryAmount: transactionAmount,
		primaryDate:   dueDate,
		calculate:     scalar(NACHCredit),
	},
	TypeNACHMandate: {
		Info: Info{
			Name: TypeNACHMandate, Calculator: "nach_mandate", DateField: FieldRevocationEffectiveDate,
			Required: []string{FieldTransactionAmount, FieldRevocationEffectiveDate, FieldResolutionDate},
			Optional: []string{FieldTATDays},
		},
		primaryAmount: transactionAmount,
		primaryDate:   revocationDate,
		calculate:     scalar(NACHMandate),
	},
	TypeUnauthZero: {
		Info: Info{
			Name: TypeUnauthZero, Calculator: "unauth_zero_interest", DateField: FieldDebitDate,
			Required: []string{FieldFraudAmount, FieldDebitDate, FieldReversalDate},
			Optional: []string{FieldInterestRate},
		},
		primaryAmount: fraudAmount,
		primaryDate:   debitDate,
		calculate:     scalarWithDefaults(UnauthZero),
	},
	TypeUnauthLimited: {
		Info: Info{
			Name: TypeUnauthLimited, Calculator: "unauth_limited_liability", DateField: FieldDebitDate,
			Required: []string{FieldFraudAmount, FieldAccountSegment},
			Split:    true,
		},
		primaryAmount: fraudAmount,
		primaryDate:   debitDate,
		calculate:     split(UnauthLimited),
	},
	TypeUnauthNegligence: {
		Info: Info{
			Name: TypeUnauthNegligence, Calculator: "unauth_customer_negligence", DateField: FieldDebitDate,
			Optional: []string{FieldFraudAmountBeforeReport, FieldFraudAmountAfterReport},
			Split:    true,
		},
		primaryAmount: totalFraud,
		primaryDate:   debitDate,
		calculate:     split(UnauthNegligence),
	},
}

// Scenarios lists the supported scenarios ordered by name.
func Scenarios() []Info {
	out := make([]Info, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.Info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Supported reports whether a normalised scenario type has a calculator.
func Supported(scenarioType string) bool {
	_, ok := registry[scenarioType]
	return ok
}

// Dispatch normalises raw extracted fields and runs the matching calculator.
// It never panics and never returns nil.
func Dispatch(raw map[string]string, defaultRepoRate, defaultSbRate float64) *domain.CalculationResult {
	return DispatchInput(ParseInput(raw), NewDefaults(defaultRepoRate, defaultSbRate))
}

// DispatchInput runs the calculator for an already parsed input.
func DispatchInput(in *Input, d Defaults) *domain.CalculationResult {
	seen := in.ScenarioType
	if seen == "" {
		seen = domain.None
	}

	result := &domain.CalculationResult{
		Strategy:    domain.StrategyScenario,
		Scenario:    in.ScenarioType,
		Outcome:     domain.OutcomeInsufficientData,
		Explanation: []string{"scenario_type=" + seen},
	}

	e, ok := registry[in.ScenarioType]
	if !ok {
		result.Outcome = domain.OutcomeUnknownScenario
		result.Explanation = append(result.Explanation, IneligibleMarker)
		return result
	}

	result.Explanation = append(result.Explanation, "calculator="+e.Calculator)

	calc, amount, err := run(e, in, d)
	if err != nil {
		result.Outcome = domain.OutcomeInternalFault
		result.Explanation = append(result.Explanation, "calculator_error="+err.Error(), IneligibleMarker)
		return result
	}

	if amount == nil || (calc.amount == nil && calc.split == nil) {
		result.Explanation = append(result.Explanation, IneligibleMarker)
		return result
	}

	result.Eligible = true
	result.Outcome = domain.OutcomeComputed
	result.PrimaryAmount = amount
	if date := e.primaryDate(in); date != nil {
		result.PrimaryDate = date.Format(DateLayout)
	}

	if calc.split != nil {
		customer := calc.split.CustomerLiability
		bank := calc.split.BankCompensation
		result.CustomerLiability = &customer
		result.BankCompensation = &bank
		result.Amount = &bank
	} else {
		result.Amount = calc.amount
	}

	return result
}

// run executes a calculator, converting a panic into an error.
func run(e entry, in *Input, d Defaults) (calc calculation, amount *decimal.Decimal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	calc = e.calculate(in, d)
	amount = e.primaryAmount(in)
	return calc, amount, nil
}

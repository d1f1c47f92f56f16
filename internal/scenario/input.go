package scenario

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field names produced by the upstream extractor.
const (
	FieldScenarioType            = "scenario_type"
	FieldTransactionAmount       = "transaction_amount"
	FieldTransactionDate         = "transaction_date_iso"
	FieldResolvedDate            = "resolved_date_iso"
	FieldDueDate                 = "due_date_iso"
	FieldCreditDate              = "credit_date_iso"
	FieldRevocationEffectiveDate = "revocation_effective_date_iso"
	FieldResolutionDate          = "resolution_date_iso"
	FieldDebitDate               = "debit_date_iso"
	FieldReversalDate            = "reversal_date_iso"
	FieldTATDays                 = "tat_days"
	FieldDelayDays               = "delay_days"
	FieldRepoRate                = "repo_rate"
	FieldInterestRate            = "interest_rate"
	FieldFraudAmount             = "fraud_amount"
	FieldFraudAmountBeforeReport = "fraud_amount_before_report"
	FieldFraudAmountAfterReport  = "fraud_amount_after_report"
	FieldAccountSegment          = "account_segment"
)

// Input is the typed form of a request's fields. A nil pointer means the
// field was absent or could not be parsed.
type Input struct {
	ScenarioType string

	TransactionAmount       *decimal.Decimal
	TransactionDate         *time.Time
	ResolvedDate            *time.Time
	DueDate                 *time.Time
	CreditDate              *time.Time
	RevocationEffectiveDate *time.Time
	ResolutionDate          *time.Time
	DebitDate               *time.Time
	ReversalDate            *time.Time

	TATDays *int

	// DelayDays is a whole number of days, kept as a decimal so that any
	// magnitude is exact.
	DelayDays *decimal.Decimal

	RepoRate     *decimal.Decimal
	InterestRate *decimal.Decimal

	FraudAmount             *decimal.Decimal
	FraudAmountBeforeReport *decimal.Decimal
	FraudAmountAfterReport  *decimal.Decimal

	// AccountSegment is trimmed and lower-cased; empty when absent.
	AccountSegment string
}

// NewInput reads every known field from the context.
func NewInput(c *Context) *Input {
	return &Input{
		ScenarioType: c.ScenarioType,

		TransactionAmount:       c.Amount(FieldTransactionAmount),
		TransactionDate:         c.ISODate(FieldTransactionDate),
		ResolvedDate:            c.ISODate(FieldResolvedDate),
		DueDate:                 c.ISODate(FieldDueDate),
		CreditDate:              c.ISODate(FieldCreditDate),
		RevocationEffectiveDate: c.ISODate(FieldRevocationEffectiveDate),
		ResolutionDate:          c.ISODate(FieldResolutionDate),
		DebitDate:               c.ISODate(FieldDebitDate),
		ReversalDate:            c.ISODate(FieldReversalDate),

		TATDays:   c.Int(FieldTATDays),
		DelayDays: c.Whole(FieldDelayDays),

		RepoRate:     c.Float(FieldRepoRate),
		InterestRate: c.Float(FieldInterestRate),

		FraudAmount:             c.Amount(FieldFraudAmount),
		FraudAmountBeforeReport: c.Amount(FieldFraudAmountBeforeReport),
		FraudAmountAfterReport:  c.Amount(FieldFraudAmountAfterReport),

		AccountSegment: strings.ToLower(strings.TrimSpace(c.Raw(FieldAccountSegment))),
	}
}

// ParseInput is NewInput(NewContext(raw)).
func ParseInput(raw map[string]string) *Input {
	return NewInput(NewContext(raw))
}

// Defaults carries the rates injected by the caller on every request.
type Defaults struct {
	RepoRate    decimal.Decimal
	SavingsRate decimal.Decimal
}

// NewDefaults builds Defaults from float rates.
func NewDefaults(repoRate, savingsRate float64) Defaults {
	return Defaults{
		RepoRate:    decimal.NewFromFloat(repoRate),
		SavingsRate: decimal.NewFromFloat(savingsRate),
	}
}

// intOr returns *v unless v is nil or zero.
func intOr(v *int, fallback int) int {
	if v == nil || *v == 0 {
		return fallback
	}
	return *v
}

// decimalOr returns *v unless v is nil or zero.
func decimalOr(v *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if v == nil || v.IsZero() {
		return fallback
	}
	return *v
}

// daysBetween returns whole calendar days from a to b; negative when b
// precedes a. Both are UTC midnights as parsed by ISODate.
func daysBetween(a, b time.Time) int {
	return int((b.Unix() - a.Unix()) / secondsPerDay)
}

const secondsPerDay = 24 * 60 * 60

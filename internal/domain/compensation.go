package domain

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Strategy names. A request always names exactly one.
const (
	StrategyLegacy   = "legacy"
	StrategyScenario = "scenario"
)

// Outcome classifies how a calculation ended.
type Outcome string

const (
	// OutcomeComputed means a compensation figure was produced.
	OutcomeComputed Outcome = "computed"

	// OutcomeInsufficientData means a required field was missing or unparseable.
	OutcomeInsufficientData Outcome = "insufficient_data"

	// OutcomeUnknownScenario means no rule or calculator matched the request.
	OutcomeUnknownScenario Outcome = "unknown_scenario"

	// OutcomeInternalFault means a calculator failed and the failure was contained.
	OutcomeInternalFault Outcome = "internal_fault"
)

// ExplanationSeparator joins explanation trace entries for display.
const ExplanationSeparator = "; "

// CalculationRequest is the input to a Strategy.
// Legacy requests use ScenarioID, TransactionDate, ReferenceDate and Amount.
// Scenario requests use Fields, plus the two injected default rates.
type CalculationRequest struct {
	Strategy string `json:"strategy"`

	// Legacy path
	ScenarioID      int     `json:"scenarioId,omitempty"`
	TransactionDate string  `json:"transactionDate,omitempty"`
	ReferenceDate   string  `json:"referenceDate,omitempty"`
	Amount          float64 `json:"amount,omitempty"`

	// Named-scenario path
	Fields             map[string]string `json:"fields,omitempty"`
	DefaultRepoRate    float64           `json:"defaultRepoRate,omitempty"`
	DefaultSavingsRate float64           `json:"defaultSavingsRate,omitempty"`
}

// CalculationResult is the uniform result envelope for both strategies.
// Optional amounts are nil when absent; zero is a computed value.
type CalculationResult struct {
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	Strategy string `json:"strategy"`
	Scenario string `json:"scenario"`

	Eligible          bool             `json:"eligible"`
	Amount            *decimal.Decimal `json:"amount"`
	PrimaryAmount     *decimal.Decimal `json:"primaryAmount"`
	PrimaryDate       string           `json:"primaryDate,omitempty"`
	CustomerLiability *decimal.Decimal `json:"customerLiability"`
	BankCompensation  *decimal.Decimal `json:"bankCompensation"`

	Outcome     Outcome  `json:"outcome"`
	Explanation []string `json:"explanation"`

	CalculatedAt time.Time `json:"calculatedAt"`
}

// ExplanationText joins the explanation trace into a single line.
func (r *CalculationResult) ExplanationText() string {
	return strings.Join(r.Explanation, ExplanationSeparator)
}

// Strategy evaluates a compensation request with one rule representation.
type Strategy interface {
	// Name returns the strategy name used to select it.
	Name() string

	// Calculate evaluates the request. Only caller errors are returned;
	// insufficient data is reported through the result envelope.
	Calculate(ctx context.Context, req *CalculationRequest) (*CalculationResult, error)
}

// CompensationResponse is the display-oriented response shape: every value
// is a string and absent values read "none".
type CompensationResponse struct {
	TransactionAmount    string `json:"transactionAmount"`
	TransactionDate      string `json:"transactionDate"`
	CompensationEligible bool   `json:"compensationEligible"`
	CompensationAmount   string `json:"compensationAmount"`
	OtherInfo            string `json:"otherInfo"`
}

// None is the literal used for unknown values on the wire.
const None = "none"

// ToResponse converts a result into the display-oriented response.
func (r *CalculationResult) ToResponse() *CompensationResponse {
	resp := &CompensationResponse{
		TransactionAmount:    None,
		TransactionDate:      None,
		CompensationEligible: r.Eligible,
		CompensationAmount:   None,
		OtherInfo:            r.ExplanationText(),
	}
	if r.PrimaryAmount != nil {
		resp.TransactionAmount = r.PrimaryAmount.StringFixed(2)
	}
	if r.PrimaryDate != "" {
		resp.TransactionDate = r.PrimaryDate
	}
	if r.Eligible && r.Amount != nil {
		resp.CompensationAmount = r.Amount.StringFixed(2)
	}
	return resp
}

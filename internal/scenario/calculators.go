package scenario

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	// perDayPenalty is the flat amount owed per day beyond turnaround time.
	perDayPenalty = decimal.NewFromInt(100)

	// repoSpread is added to the repo rate for NEFT and RTGS delays.
	repoSpread = decimal.RequireFromString("0.02")

	daysPerYear = decimal.NewFromInt(365)
	half        = decimal.RequireFromString("0.5")
)

// Default turnaround times, in days.
const (
	DefaultUPITAT         = 1
	DefaultATMTAT         = 5
	DefaultNACHCreditTAT  = 1
	DefaultNACHMandateTAT = 1
)

// Account segments with a capped customer liability.
const (
	SegmentBSBD      = "bsbd"
	SegmentSBPPI     = "sb_ppi"
	SegmentCurrentCC = "current_cc"
)

// LiabilityCaps is the maximum customer liability per account segment.
var LiabilityCaps = map[string]decimal.Decimal{
	SegmentBSBD:      decimal.NewFromInt(5000),
	SegmentSBPPI:     decimal.NewFromInt(10000),
	SegmentCurrentCC: decimal.NewFromInt(25000),
}

// LiabilitySplit divides a fraud loss between customer and bank.
type LiabilitySplit struct {
	CustomerLiability decimal.Decimal `json:"customerLiability"`
	BankCompensation  decimal.Decimal `json:"bankCompensation"`
}

// UPI computes ₹100 per day of delay beyond TAT for a failed UPI transfer.
func UPI(in *Input) *decimal.Decimal {
	return perDayBeyondTAT(in.TransactionDate, in.ResolvedDate, intOr(in.TATDays, DefaultUPITAT))
}

// ATM computes ₹100 per day of delay beyond TAT for a failed ATM or POS
// transaction.
func ATM(in *Input) *decimal.Decimal {
	return perDayBeyondTAT(in.TransactionDate, in.ResolvedDate, intOr(in.TATDays, DefaultATMTAT))
}

// NEFT computes repo + 2% p.a. on the amount for each day the credit was late.
func NEFT(in *Input, d Defaults) *decimal.Decimal {
	if in.TransactionAmount == nil || in.DueDate == nil || in.CreditDate == nil {
		return nil
	}

	days := daysBetween(*in.DueDate, *in.CreditDate)
	if days <= 0 {
		return zero()
	}

	rate := decimalOr(in.RepoRate, d.RepoRate).Add(repoSpread)
	return simpleInterest(*in.TransactionAmount, rate, decimal.NewFromInt(int64(days)))
}

// RTGS is NEFT with any positive delay billed for at least one day.
func RTGS(in *Input, d Defaults) *decimal.Decimal {
	if in.TransactionAmount == nil || in.DueDate == nil || in.CreditDate == nil {
		return nil
	}

	raw := daysBetween(*in.DueDate, *in.CreditDate)
	if raw <= 0 {
		return zero()
	}

	days := max(1, raw)
	rate := decimalOr(in.RepoRate, d.RepoRate).Add(repoSpread)
	return simpleInterest(*in.TransactionAmount, rate, decimal.NewFromInt(int64(days)))
}

// Cheque computes interest for a delayed cheque collection. The rate has no
// default and must be supplied.
func Cheque(in *Input) *decimal.Decimal {
	if in.TransactionAmount == nil || in.DelayDays == nil || in.InterestRate == nil {
		return nil
	}

	days := *in.DelayDays
	if !days.IsPositive() {
		return zero()
	}
	return simpleInterest(*in.TransactionAmount, *in.InterestRate, days)
}

// NACHCredit computes ₹100 per day beyond TAT for a late NACH/APBS credit.
func NACHCredit(in *Input) *decimal.Decimal {
	return perDayBeyondTAT(in.DueDate, in.CreditDate, intOr(in.TATDays, DefaultNACHCreditTAT))
}

// NACHMandate computes ₹100 per day beyond TAT for a debit taken after the
// mandate was revoked.
func NACHMandate(in *Input) *decimal.Decimal {
	return perDayBeyondTAT(in.RevocationEffectiveDate, in.ResolutionDate, intOr(in.TATDays, DefaultNACHMandateTAT))
}

// UnauthZero computes the interest owed on an unauthorised debit under zero
// customer liability. The principal refund is not included.
func UnauthZero(in *Input, d Defaults) *decimal.Decimal {
	if in.FraudAmount == nil || in.DebitDate == nil || in.ReversalDate == nil {
		return nil
	}

	days := max(0, daysBetween(*in.DebitDate, *in.ReversalDate))
	rate := decimalOr(in.InterestRate, d.SavingsRate)
	return simpleInterest(*in.FraudAmount, rate, decimal.NewFromInt(int64(days)))
}

// UnauthLimited splits a fraud loss under limited liability: the customer
// bears half, capped by account segment, and the bank the rest.
func UnauthLimited(in *Input) *LiabilitySplit {
	if in.FraudAmount == nil {
		return nil
	}
	limit, ok := LiabilityCaps[in.AccountSegment]
	if !ok {
		return nil
	}

	// customer + bank == amount exactly.
	amount := *in.FraudAmount
	customer := decimal.Min(amount.Mul(half), limit).RoundBank(2)
	return &LiabilitySplit{
		CustomerLiability: customer,
		BankCompensation:  amount.Sub(customer),
	}
}

// UnauthNegligence assigns losses before the report to the customer and
// losses after it to the bank. Nil when both amounts are zero or absent.
func UnauthNegligence(in *Input) *LiabilitySplit {
	before := decimalOr(in.FraudAmountBeforeReport, decimal.Zero)
	after := decimalOr(in.FraudAmountAfterReport, decimal.Zero)

	if before.IsZero() && after.IsZero() {
		return nil
	}

	return &LiabilitySplit{
		CustomerLiability: decimal.Max(decimal.Zero, before).RoundBank(2),
		BankCompensation:  decimal.Max(decimal.Zero, after).RoundBank(2),
	}
}

func perDayBeyondTAT(from, to *time.Time, tat int) *decimal.Decimal {
	if from == nil || to == nil {
		return nil
	}
	elapsed := decimal.NewFromInt(int64(daysBetween(*from, *to)))
	beyond := decimal.Max(decimal.Zero, elapsed.Sub(decimal.NewFromInt(int64(tat))))
	v := beyond.Mul(perDayPenalty)
	return &v
}

// simpleInterest is amount * rate * days / 365 rounded to paise.
func simpleInterest(amount, rate, days decimal.Decimal) *decimal.Decimal {
	v := amount.Mul(rate).Mul(days).Div(daysPerYear).RoundBank(2)
	return &v
}

func zero() *decimal.Decimal {
	v := decimal.Zero
	return &v
}

// Package amortization converts loan terms into an equated monthly
// installment (EMI) and the quantities derived from its schedule.
//
// All intermediate math runs at a fixed working precision. Currency rounding
// (2 places, half away from zero) is applied once, when a value leaves the
// package through Quote or Schedule.
package amortization

import (
	"fmt"

	"github.com/boddenberg/loandesk-go/internal/domain"

	"github.com/shopspring/decimal"
)

// workingPrecision is the number of fractional digits kept by divisions and
// by each step of the power series.
const workingPrecision = 28

// CurrencyPlaces is the minor-unit precision of stored and presented amounts.
const CurrencyPlaces = 2

// MaxTenureMonths is the longest accepted tenure (100 years).
const MaxTenureMonths = 1200

var (
	one           = decimal.NewFromInt(1)
	monthsPerYear = decimal.NewFromInt(12)
	hundred       = decimal.NewFromInt(100)
)

// Quote is the rounded outcome of a set of loan terms.
type Quote struct {
	EMI           decimal.Decimal `json:"emi"`
	TotalPayable  decimal.Decimal `json:"total_payable"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	FirstDueDate  domain.Date     `json:"first_due_date"`
}

// ComputeEMI returns the unrounded monthly installment for the given terms.
func ComputeEMI(principal, annualRatePercent decimal.Decimal, tenureMonths int) (decimal.Decimal, error) {
	if err := validate(principal, annualRatePercent, tenureMonths); err != nil {
		return decimal.Zero, err
	}

	n := decimal.NewFromInt(int64(tenureMonths))
	r := MonthlyRate(annualRatePercent)
	if r.IsZero() {
		return principal.DivRound(n, workingPrecision), nil
	}

	growth := powInt(one.Add(r), tenureMonths)
	numerator := principal.Mul(r).Mul(growth)
	denominator := growth.Sub(one)
	return numerator.DivRound(denominator, workingPrecision), nil
}

// QuoteTerm computes the rounded EMI, total payable and total interest for term.
func QuoteTerm(term domain.LoanTerm) (*Quote, error) {
	emi, err := ComputeEMI(term.Principal, term.AnnualRatePercent, term.TenureMonths)
	if err != nil {
		return nil, err
	}

	total := RoundCurrency(emi.Mul(decimal.NewFromInt(int64(term.TenureMonths))))
	return &Quote{
		EMI:           RoundCurrency(emi),
		TotalPayable:  total,
		TotalInterest: total.Sub(term.Principal),
		FirstDueDate:  DueDate(term.StartDate, 1),
	}, nil
}

// MonthlyRate converts an annual percentage rate to a monthly fraction.
func MonthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.DivRound(monthsPerYear.Mul(hundred), workingPrecision)
}

// RoundCurrency rounds to the currency's minor unit, half away from zero.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

func validate(principal, annualRatePercent decimal.Decimal, tenureMonths int) error {
	if tenureMonths <= 0 {
		return &domain.ErrInvalidTerm{Field: "tenure_months", Reason: "must be at least 1"}
	}
	if tenureMonths > MaxTenureMonths {
		return &domain.ErrInvalidTerm{Field: "tenure_months", Reason: fmt.Sprintf("must be at most %d", MaxTenureMonths)}
	}
	if !principal.IsPositive() {
		return &domain.ErrInvalidTerm{Field: "principal", Reason: "must be positive"}
	}
	if annualRatePercent.IsNegative() {
		return &domain.ErrInvalidTerm{Field: "rate", Reason: "must not be negative"}
	}
	return nil
}

// powInt raises base to a non-negative integer power by repeated squaring,
// truncating to the working precision after every product so the digit
// count stays bounded.
func powInt(base decimal.Decimal, exp int) decimal.Decimal {
	result := one
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base).Truncate(workingPrecision)
		}
		base = base.Mul(base).Truncate(workingPrecision)
		exp >>= 1
	}
	return result
}

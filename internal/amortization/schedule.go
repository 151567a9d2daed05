package amortization

import (
	"github.com/boddenberg/loandesk-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Installment is one row of an amortization schedule.
type Installment struct {
	Number    int             `json:"number"`
	DueDate   domain.Date     `json:"due_date"`
	Payment   decimal.Decimal `json:"payment"`
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
	Balance   decimal.Decimal `json:"balance"`
}

// Schedule lists every installment of term in currency units. Each month
// pays the rounded EMI; interest is rounded per row and the final row
// absorbs the accumulated residue so the balance closes at exactly zero.
func Schedule(term domain.LoanTerm) ([]Installment, error) {
	emi, err := ComputeEMI(term.Principal, term.AnnualRatePercent, term.TenureMonths)
	if err != nil {
		return nil, err
	}

	r := MonthlyRate(term.AnnualRatePercent)
	payment := RoundCurrency(emi)
	balance := RoundCurrency(term.Principal)

	rows := make([]Installment, 0, min(term.TenureMonths, MaxTenureMonths))
	for k := 1; k <= term.TenureMonths; k++ {
		interest := RoundCurrency(balance.Mul(r))
		principalPart := payment.Sub(interest)
		if k == term.TenureMonths || principalPart.GreaterThan(balance) {
			principalPart = balance
		}
		balance = balance.Sub(principalPart)

		rows = append(rows, Installment{
			Number:    k,
			DueDate:   DueDate(term.StartDate, k),
			Payment:   principalPart.Add(interest),
			Interest:  interest,
			Principal: principalPart,
			Balance:   balance,
		})
		if balance.IsZero() {
			break
		}
	}
	return rows, nil
}

// DueDate returns the due date of installment k (1-based) of a loan that
// started on start. It is absent when start is.
func DueDate(start domain.Date, k int) domain.Date {
	return start.AddMonths(k)
}

// InstallmentsCovered returns how many whole installments amountPaid covers.
func InstallmentsCovered(amountPaid, emi decimal.Decimal) int {
	if !emi.IsPositive() || !amountPaid.IsPositive() {
		return 0
	}
	return int(amountPaid.Div(emi).IntPart())
}

// NextDueDate returns the due date of the first installment not yet
// covered by amountPaid, or the zero Date once every installment is covered
// or the start date is unknown.
func NextDueDate(start domain.Date, tenureMonths int, amountPaid, emi decimal.Decimal) domain.Date {
	if start.IsZero() {
		return domain.Date{}
	}
	covered := InstallmentsCovered(amountPaid, emi)
	if tenureMonths > 0 && covered >= tenureMonths {
		return domain.Date{}
	}
	return DueDate(start, covered+1)
}

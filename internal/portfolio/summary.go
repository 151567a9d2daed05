// Package portfolio derives portfolio-level totals from a loan snapshot.
package portfolio

import (
	"github.com/boddenberg/loandesk-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Summarize reduces a snapshot to its totals. Closed loans still contribute
// to the sums; only ActiveCount looks at status. The snapshot is not
// modified and nothing is cached between calls.
func Summarize(loans []domain.LoanRecord) domain.PortfolioSummary {
	sum := domain.PortfolioSummary{
		TotalPrincipal:   decimal.Zero,
		TotalPayable:     decimal.Zero,
		TotalPaid:        decimal.Zero,
		TotalOutstanding: decimal.Zero,
	}
	for _, l := range loans {
		if l.Status == domain.LoanStatusActive {
			sum.ActiveCount++
		}
		sum.TotalPrincipal = sum.TotalPrincipal.Add(l.Principal)
		sum.TotalPayable = sum.TotalPayable.Add(l.TotalPayable)
		sum.TotalPaid = sum.TotalPaid.Add(l.AmountPaid)
		sum.TotalOutstanding = sum.TotalOutstanding.Add(l.Outstanding)
	}
	return sum
}

// Progress is the fraction of the total payable already paid, in [0, 1].
// A loan with nothing payable reports 0.
func Progress(l domain.LoanRecord) decimal.Decimal {
	if !l.TotalPayable.IsPositive() {
		return decimal.Zero
	}
	return l.AmountPaid.DivRound(l.TotalPayable, 4)
}

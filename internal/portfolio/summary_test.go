package portfolio_test

import (
	"testing"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/portfolio"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSummarize_Empty(t *testing.T) {
	for _, in := range [][]domain.LoanRecord{nil, {}} {
		s := portfolio.Summarize(in)
		if s.ActiveCount != 0 {
			t.Errorf("expected 0 active, got %d", s.ActiveCount)
		}
		for name, v := range map[string]decimal.Decimal{
			"principal":   s.TotalPrincipal,
			"payable":     s.TotalPayable,
			"paid":        s.TotalPaid,
			"outstanding": s.TotalOutstanding,
		} {
			if !v.IsZero() {
				t.Errorf("expected %s total 0, got %s", name, v)
			}
		}
	}
}

func TestSummarize_IncludesClosedLoans(t *testing.T) {
	loans := []domain.LoanRecord{
		{
			ID:           1,
			Principal:    d("100000"),
			TotalPayable: d("120000"),
			AmountPaid:   d("20000"),
			Outstanding:  d("100000"),
			Status:       domain.LoanStatusActive,
		},
		{
			ID:           2,
			Principal:    d("50000"),
			TotalPayable: d("55000"),
			AmountPaid:   d("55000"),
			Outstanding:  decimal.Zero,
			Status:       domain.LoanStatusClosed,
		},
	}

	s := portfolio.Summarize(loans)

	if s.ActiveCount != 1 {
		t.Errorf("expected 1 active loan, got %d", s.ActiveCount)
	}
	if !s.TotalPrincipal.Equal(d("150000")) {
		t.Errorf("expected total principal 150000, got %s", s.TotalPrincipal)
	}
	if !s.TotalPayable.Equal(d("175000")) {
		t.Errorf("expected total payable 175000, got %s", s.TotalPayable)
	}
	if !s.TotalPaid.Equal(d("75000")) {
		t.Errorf("expected total paid 75000, got %s", s.TotalPaid)
	}
	if !s.TotalOutstanding.Equal(d("100000")) {
		t.Errorf("expected total outstanding 100000, got %s", s.TotalOutstanding)
	}

	if !loans[1].AmountPaid.Equal(d("55000")) || loans[0].Status != domain.LoanStatusActive {
		t.Error("expected input snapshot untouched")
	}
}

func TestSummarize_DefaultedIsNotActive(t *testing.T) {
	s := portfolio.Summarize([]domain.LoanRecord{
		{Status: domain.LoanStatusDefaulted, Outstanding: d("10"), TotalPayable: d("10")},
		{Status: domain.LoanStatusActive, Outstanding: d("5"), TotalPayable: d("5")},
	})
	if s.ActiveCount != 1 {
		t.Errorf("expected 1 active loan, got %d", s.ActiveCount)
	}
	if !s.TotalOutstanding.Equal(d("15")) {
		t.Errorf("expected total outstanding 15, got %s", s.TotalOutstanding)
	}
}

func TestProgress(t *testing.T) {
	if p := portfolio.Progress(domain.LoanRecord{AmountPaid: d("25"), TotalPayable: d("100")}); !p.Equal(d("0.25")) {
		t.Errorf("expected 0.25, got %s", p)
	}
	if p := portfolio.Progress(domain.LoanRecord{}); !p.IsZero() {
		t.Errorf("expected 0 for empty loan, got %s", p)
	}
}

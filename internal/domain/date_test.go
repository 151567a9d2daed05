package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/boddenberg/loandesk-go/internal/domain"
)

func TestDate_AddMonthsClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		start string
		n     int
		want  string
	}{
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-03-15", 12, "2025-03-15"},
		{"2024-11-30", 3, "2025-02-28"},
	}
	for _, tt := range tests {
		got := domain.MustParseDate(tt.start).AddMonths(tt.n)
		if got.String() != tt.want {
			t.Errorf("%s + %d months: expected %s, got %s", tt.start, tt.n, tt.want, got)
		}
	}
}

func TestDate_JSON(t *testing.T) {
	var v struct {
		Start domain.Date `json:"start"`
		Next  domain.Date `json:"next"`
		Stamp domain.Date `json:"stamp"`
	}
	if err := json.Unmarshal([]byte(`{"start":"2024-05-01","next":null,"stamp":"2024-05-02T10:11:12Z"}`), &v); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if v.Start.String() != "2024-05-01" {
		t.Errorf("expected start 2024-05-01, got %s", v.Start)
	}
	if !v.Next.IsZero() {
		t.Errorf("expected absent next date, got %s", v.Next)
	}
	if v.Stamp.String() != "2024-05-02" {
		t.Errorf("expected timestamp truncated to 2024-05-02, got %s", v.Stamp)
	}

	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(out) != `{"start":"2024-05-01","next":null,"stamp":"2024-05-02"}` {
		t.Errorf("unexpected encoding %s", out)
	}
}

func TestParseLoanStatus(t *testing.T) {
	for _, in := range []string{"active", "ACTIVE", " Active "} {
		if s, err := domain.ParseLoanStatus(in); err != nil || s != domain.LoanStatusActive {
			t.Errorf("ParseLoanStatus(%q): expected ACTIVE, got %q (%v)", in, s, err)
		}
	}
	if _, err := domain.ParseLoanStatus("frozen"); err == nil {
		t.Error("expected error for unknown status")
	}
	if domain.LoanStatusClosed.Rank() <= domain.LoanStatusDefaulted.Rank() ||
		domain.LoanStatusDefaulted.Rank() <= domain.LoanStatusActive.Rank() {
		t.Error("expected ACTIVE < DEFAULTED < CLOSED")
	}
}

func TestParseLoanType(t *testing.T) {
	if domain.ParseLoanType("home") != domain.LoanTypeHome {
		t.Error("expected Home")
	}
	if domain.ParseLoanType("boat") != domain.LoanTypeOther {
		t.Error("expected Other for unknown tag")
	}
}

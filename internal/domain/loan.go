// Package domain defines the core loan entities of the loan desk.
// These models are independent of external services and represent the
// canonical data structures used throughout the service.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ============================================================
// Enumerations
// ============================================================

// LoanType tags the product a loan was issued under.
type LoanType string

const (
	LoanTypeHome     LoanType = "Home"
	LoanTypePersonal LoanType = "Personal"
	LoanTypeAuto     LoanType = "Auto"
	LoanTypeOther    LoanType = "Other"
)

// ParseLoanType maps a free-form tag onto a known loan type. Unknown or
// empty tags become LoanTypeOther.
func ParseLoanType(s string) LoanType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "home":
		return LoanTypeHome
	case "personal":
		return LoanTypePersonal
	case "auto":
		return LoanTypeAuto
	default:
		return LoanTypeOther
	}
}

func (t *LoanType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("loan_type must be a string: %w", err)
	}
	*t = ParseLoanType(s)
	return nil
}

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusClosed    LoanStatus = "CLOSED"
	LoanStatusDefaulted LoanStatus = "DEFAULTED"
)

// ParseLoanStatus accepts statuses in any case ("active", "Closed").
func ParseLoanStatus(s string) (LoanStatus, error) {
	switch LoanStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case LoanStatusActive:
		return LoanStatusActive, nil
	case LoanStatusClosed:
		return LoanStatusClosed, nil
	case LoanStatusDefaulted:
		return LoanStatusDefaulted, nil
	}
	return "", fmt.Errorf("unknown loan status %q", s)
}

// Rank orders statuses along the only allowed direction of travel:
// ACTIVE → DEFAULTED → CLOSED.
func (s LoanStatus) Rank() int {
	switch s {
	case LoanStatusDefaulted:
		return 1
	case LoanStatusClosed:
		return 2
	default:
		return 0
	}
}

func (s *LoanStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("status must be a string: %w", err)
	}
	if raw == "" {
		*s = LoanStatusActive
		return nil
	}
	parsed, err := ParseLoanStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ============================================================
// Loan terms & records
// ============================================================

// LoanTerm is the immutable input to the amortization calculator.
type LoanTerm struct {
	Principal         decimal.Decimal `json:"principal"`
	AnnualRatePercent decimal.Decimal `json:"rate"`
	TenureMonths      int             `json:"tenure_months"`
	StartDate         Date            `json:"start_date"`
}

// LoanRecord is one loan as held by the loan store. Once inserted it is
// owned by the store; callers only ever see copies.
type LoanRecord struct {
	ID           int64           `json:"id"`
	OwnerID      int64           `json:"user_id"`
	LoanType     LoanType        `json:"loan_type"`
	Principal    decimal.Decimal `json:"principal"`
	RatePercent  decimal.Decimal `json:"rate"`
	TenureMonths int             `json:"tenure_months"`
	EMI          decimal.Decimal `json:"emi"`
	AmountPaid   decimal.Decimal `json:"amount_paid"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	TotalPayable decimal.Decimal `json:"total_payable"`
	Status       LoanStatus      `json:"status"`
	NextDueDate  Date            `json:"next_due_date"`
	StartDate    Date            `json:"start_date"`
}

// Balanced reports whether amount paid and outstanding add up to the total payable.
func (r LoanRecord) Balanced() bool {
	return r.AmountPaid.Add(r.Outstanding).Equal(r.TotalPayable)
}

// LoanApplication is the request body of a loan application.
type LoanApplication struct {
	LoanType     LoanType        `json:"loan_type"`
	Principal    decimal.Decimal `json:"principal"`
	RatePercent  decimal.Decimal `json:"rate"`
	TenureMonths int             `json:"tenure_months"`
	StartDate    Date            `json:"start_date"`
}

// Term returns the calculator input for the application.
func (a LoanApplication) Term() LoanTerm {
	return LoanTerm{
		Principal:         a.Principal,
		AnnualRatePercent: a.RatePercent,
		TenureMonths:      a.TenureMonths,
		StartDate:         a.StartDate,
	}
}

// PaymentRequest is the request body of a direct loan payment.
type PaymentRequest struct {
	LoanID int64           `json:"loan_id"`
	Amount decimal.Decimal `json:"amount"`
}

// PortfolioSummary holds totals derived from a store snapshot. It has no
// lifecycle of its own and is recomputed on every read.
type PortfolioSummary struct {
	ActiveCount      int             `json:"active_count"`
	TotalPrincipal   decimal.Decimal `json:"total_principal"`
	TotalPayable     decimal.Decimal `json:"total_payable"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
}

// Identity is the signed-in principal the loans belong to.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// DisplayName returns the full name, falling back to the username and then "Customer".
func (i Identity) DisplayName() string {
	if i.FullName != "" {
		return i.FullName
	}
	if i.Username != "" {
		return i.Username
	}
	return "Customer"
}

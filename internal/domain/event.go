package domain

import "github.com/shopspring/decimal"

// EventKind distinguishes the variants of a LoanEvent.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventPaymentApplied
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "loan.created"
	case EventPaymentApplied:
		return "loan.payment"
	}
	return "unknown"
}

// LoanEvent is a pushed loan lifecycle event. Exactly one of Created or
// Payment is set, matching Kind. Events are applied once and discarded.
type LoanEvent struct {
	Kind    EventKind
	Created *LoanCreated
	Payment *PaymentApplied
}

// LoanID returns the loan the event refers to.
func (e LoanEvent) LoanID() int64 {
	switch {
	case e.Created != nil:
		return e.Created.LoanID
	case e.Payment != nil:
		return e.Payment.LoanID
	}
	return 0
}

// LoanCreated announces a new loan.
type LoanCreated struct {
	LoanID      int64
	OwnerID     int64
	Principal   decimal.Decimal
	EMI         decimal.Decimal
	Outstanding decimal.Decimal
}

// PaymentApplied announces the new balance of a loan after a payment.
type PaymentApplied struct {
	LoanID      int64
	Outstanding decimal.Decimal
	Status      LoanStatus
}

// Record materializes a freshly created loan. Nothing has been paid yet, so
// the total payable equals the announced outstanding balance.
func (c LoanCreated) Record() LoanRecord {
	return LoanRecord{
		ID:           c.LoanID,
		OwnerID:      c.OwnerID,
		LoanType:     LoanTypeOther,
		Principal:    c.Principal,
		RatePercent:  decimal.Zero,
		EMI:          c.EMI,
		AmountPaid:   decimal.Zero,
		Outstanding:  c.Outstanding,
		TotalPayable: c.Outstanding,
		Status:       LoanStatusActive,
	}
}

package loanstore_test

import (
	"errors"
	"testing"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/loanstore"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func created(id int64, outstanding string) domain.LoanRecord {
	return domain.LoanCreated{
		LoanID:      id,
		OwnerID:     1,
		Principal:   d(outstanding),
		EMI:         d("100"),
		Outstanding: d(outstanding),
	}.Record()
}

func TestUpsertIfAbsent_Idempotent(t *testing.T) {
	s := loanstore.New()

	inserted, err := s.UpsertIfAbsent(created(9, "10000"))
	if err != nil || !inserted {
		t.Fatalf("expected first insert to succeed, got inserted=%v err=%v", inserted, err)
	}

	dup := created(9, "5000")
	inserted, err = s.UpsertIfAbsent(dup)
	if err != nil {
		t.Fatalf("expected no error on duplicate, got %v", err)
	}
	if inserted {
		t.Error("expected duplicate insert to be a no-op")
	}

	if s.Len() != 1 {
		t.Fatalf("expected exactly one record, got %d", s.Len())
	}
	rec, _ := s.Get(9)
	if !rec.Outstanding.Equal(d("10000")) {
		t.Errorf("expected original outstanding 10000 kept, got %s", rec.Outstanding)
	}
}

func TestApplyPayment_StaleReplayRejected(t *testing.T) {
	s := loanstore.New()
	if _, err := s.UpsertIfAbsent(created(9, "10000")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.ApplyPayment(9, d("7000"), domain.LoanStatusActive); err != nil {
		t.Fatalf("expected payment to apply, got %v", err)
	}

	err := s.ApplyPayment(9, d("9000"), domain.LoanStatusActive)
	var stale *domain.ErrStaleUpdate
	if !errors.As(err, &stale) {
		t.Fatalf("expected ErrStaleUpdate, got %v", err)
	}

	rec, _ := s.Get(9)
	if !rec.Outstanding.Equal(d("7000")) {
		t.Errorf("expected outstanding 7000, got %s", rec.Outstanding)
	}
	if !rec.AmountPaid.Equal(d("3000")) {
		t.Errorf("expected amount paid 3000, got %s", rec.AmountPaid)
	}
}

func TestApplyPayment_InvariantHolds(t *testing.T) {
	s := loanstore.New()
	s.UpsertIfAbsent(domain.LoanRecord{
		ID:           1,
		Principal:    d("100000"),
		EMI:          d("1000"),
		TenureMonths: 120,
		AmountPaid:   d("20000"),
		Outstanding:  d("100000"),
		TotalPayable: d("120000"),
		Status:       domain.LoanStatusActive,
	})

	for _, out := range []string{"99000", "98000", "98000", "50000.50", "1"} {
		if err := s.ApplyPayment(1, d(out), domain.LoanStatusActive); err != nil {
			t.Fatalf("payment to %s: unexpected error %v", out, err)
		}
		rec, _ := s.Get(1)
		if !rec.Balanced() {
			t.Errorf("after outstanding %s: paid %s + outstanding %s != %s", out, rec.AmountPaid, rec.Outstanding, rec.TotalPayable)
		}
	}
}

func TestApplyPayment_ZeroClosesLoan(t *testing.T) {
	s := loanstore.New()
	s.UpsertIfAbsent(created(3, "500"))

	if err := s.ApplyPayment(3, decimal.Zero, domain.LoanStatusActive); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	rec, _ := s.Get(3)
	if rec.Status != domain.LoanStatusClosed {
		t.Errorf("expected CLOSED, got %s", rec.Status)
	}

	err := s.ApplyPayment(3, decimal.Zero, domain.LoanStatusActive)
	if err != nil {
		t.Errorf("expected duplicate closing event to be accepted, got %v", err)
	}
}

func TestApplyPayment_StatusNeverRegresses(t *testing.T) {
	s := loanstore.New()
	s.UpsertIfAbsent(created(4, "1000"))

	if err := s.ApplyPayment(4, d("900"), domain.LoanStatusDefaulted); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if err := s.ApplyPayment(4, d("800"), domain.LoanStatusActive); err != nil {
		t.Fatalf("expected payment on a defaulted loan to be accepted, got %v", err)
	}
	rec, _ := s.Get(4)
	if rec.Status != domain.LoanStatusDefaulted {
		t.Errorf("expected status to stay DEFAULTED, got %s", rec.Status)
	}
	if !rec.Outstanding.Equal(d("800")) || !rec.AmountPaid.Equal(d("200")) {
		t.Errorf("expected balance to move to 800 with 200 paid, got outstanding %s paid %s", rec.Outstanding, rec.AmountPaid)
	}
	if !rec.Balanced() {
		t.Error("expected balanced record")
	}
}

func TestApplyPayment_ClosedNeverReopens(t *testing.T) {
	s := loanstore.New()
	s.UpsertIfAbsent(created(6, "1000"))
	if err := s.ApplyPayment(6, decimal.Zero, domain.LoanStatusClosed); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	err := s.ApplyPayment(6, d("100"), domain.LoanStatusActive)
	var stale *domain.ErrStaleUpdate
	if !errors.As(err, &stale) {
		t.Fatalf("expected ErrStaleUpdate for CLOSED -> ACTIVE, got %v", err)
	}
	rec, _ := s.Get(6)
	if rec.Status != domain.LoanStatusClosed || !rec.Outstanding.IsZero() {
		t.Errorf("expected record unchanged, got %s %s", rec.Status, rec.Outstanding)
	}
}

func TestApplyPayment_RejectsNegativeOutstanding(t *testing.T) {
	s := loanstore.New()
	s.UpsertIfAbsent(created(5, "1000"))

	if err := s.ApplyPayment(5, d("-1"), domain.LoanStatusActive); err == nil {
		t.Fatal("expected error for negative outstanding")
	}
}

func TestApplyPayment_UnknownLoan(t *testing.T) {
	s := loanstore.New()

	err := s.ApplyPayment(42, d("10"), domain.LoanStatusActive)
	var unknown *domain.ErrUnknownLoan
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownLoan, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected store to stay empty, got %d records", s.Len())
	}
}

func TestApplyPayment_AdvancesNextDueDate(t *testing.T) {
	s := loanstore.New()
	s.UpsertIfAbsent(domain.LoanRecord{
		ID:           6,
		Principal:    d("1100"),
		EMI:          d("100"),
		TenureMonths: 12,
		Outstanding:  d("1200"),
		TotalPayable: d("1200"),
		StartDate:    domain.MustParseDate("2024-01-05"),
		NextDueDate:  domain.MustParseDate("2024-02-05"),
	})

	if err := s.ApplyPayment(6, d("1000"), domain.LoanStatusActive); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	rec, _ := s.Get(6)
	if rec.NextDueDate.String() != "2024-04-05" {
		t.Errorf("expected next due 2024-04-05, got %s", rec.NextDueDate)
	}
}

func TestReplace_BypassesGuard(t *testing.T) {
	s := loanstore.New()
	s.UpsertIfAbsent(created(7, "1000"))
	s.ApplyPayment(7, d("400"), domain.LoanStatusActive)

	server := domain.LoanRecord{
		ID:           7,
		OwnerID:      1,
		LoanType:     domain.LoanTypeAuto,
		Principal:    d("1000"),
		EMI:          d("100"),
		AmountPaid:   d("300"),
		Outstanding:  d("700"),
		TotalPayable: d("1000"),
		Status:       domain.LoanStatusActive,
	}
	if err := s.Replace(server); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	rec, _ := s.Get(7)
	if !rec.Outstanding.Equal(d("700")) || rec.LoanType != domain.LoanTypeAuto {
		t.Errorf("expected server record to win, got %+v", rec)
	}
}

func TestUpsertIfAbsent_RejectsUnbalancedRecord(t *testing.T) {
	s := loanstore.New()
	_, err := s.UpsertIfAbsent(domain.LoanRecord{
		ID:           8,
		AmountPaid:   d("10"),
		Outstanding:  d("10"),
		TotalPayable: d("30"),
	})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("expected nothing stored")
	}
}

func TestSnapshot_InsertionOrderAndCopy(t *testing.T) {
	s := loanstore.New()
	for _, id := range []int64{30, 10, 20} {
		s.UpsertIfAbsent(created(id, "100"))
	}

	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].ID != 30 || snap[1].ID != 10 || snap[2].ID != 20 {
		t.Fatalf("expected insertion order [30 10 20], got %+v", snap)
	}

	snap[0].Outstanding = d("0")
	rec, _ := s.Get(30)
	if !rec.Outstanding.Equal(d("100")) {
		t.Error("expected snapshot mutation not to leak into the store")
	}
}

func TestReset_ReplacesEverything(t *testing.T) {
	s := loanstore.New()
	s.UpsertIfAbsent(created(1, "100"))
	s.UpsertIfAbsent(created(2, "100"))

	errs := s.Reset([]domain.LoanRecord{
		created(3, "300"),
		{ID: 4, AmountPaid: d("1"), Outstanding: d("1"), TotalPayable: d("5")},
		created(3, "999"),
	})
	if len(errs) != 1 {
		t.Errorf("expected one rejected record, got %v", errs)
	}

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].ID != 3 || !snap[0].Outstanding.Equal(d("300")) {
		t.Errorf("expected only loan 3 with outstanding 300, got %+v", snap)
	}
}

// Package loanstore holds the authoritative in-memory view of one
// principal's loans. All mutation goes through UpsertIfAbsent, ApplyPayment,
// Replace and Reset; readers only ever receive copies.
package loanstore

import (
	"fmt"
	"sync"

	"github.com/boddenberg/loandesk-go/internal/amortization"
	"github.com/boddenberg/loandesk-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Store is an insertion-ordered collection of loan records keyed by id.
// It belongs to exactly one session.
type Store struct {
	mu    sync.RWMutex
	order []int64
	byID  map[int64]*domain.LoanRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{byID: make(map[int64]*domain.LoanRecord)}
}

// UpsertIfAbsent inserts rec unless a record with the same id exists. It
// reports whether the record was inserted. Duplicates are a no-op.
func (s *Store) UpsertIfAbsent(rec domain.LoanRecord) (bool, error) {
	rec, err := normalize(rec)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.ID]; exists {
		return false, nil
	}
	s.insertLocked(rec)
	return true, nil
}

// ApplyPayment moves loan id to a new outstanding balance and status.
//
// An unknown id yields *domain.ErrUnknownLoan. An update that would lower
// the amount paid or push the balance below zero yields
// *domain.ErrStaleUpdate. In both cases the store is left untouched. A status
// that ranks below the current one is ignored while the balance still moves,
// so a DEFAULTED loan stays DEFAULTED as it is paid down. A CLOSED loan can
// never reopen: it has nothing outstanding, so any later balance fails the
// amount-paid check.
func (s *Store) ApplyPayment(id int64, outstanding decimal.Decimal, status domain.LoanStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return &domain.ErrUnknownLoan{LoanID: id}
	}

	if outstanding.IsNegative() {
		return &domain.ErrStaleUpdate{LoanID: id, Reason: fmt.Sprintf("negative outstanding %s", outstanding)}
	}
	if outstanding.IsZero() {
		status = domain.LoanStatusClosed
	}

	paid := cur.TotalPayable.Sub(outstanding)
	if paid.LessThan(cur.AmountPaid) {
		return &domain.ErrStaleUpdate{
			LoanID: id,
			Reason: fmt.Sprintf("amount paid would decrease from %s to %s", cur.AmountPaid, paid),
		}
	}
	if status.Rank() < cur.Status.Rank() {
		if cur.Status == domain.LoanStatusClosed {
			return &domain.ErrStaleUpdate{
				LoanID: id,
				Reason: fmt.Sprintf("status would regress from %s to %s", cur.Status, status),
			}
		}
		status = cur.Status
	}

	cur.AmountPaid = paid
	cur.Outstanding = outstanding
	cur.Status = status
	if status == domain.LoanStatusClosed {
		cur.NextDueDate = domain.Date{}
	} else if !cur.StartDate.IsZero() {
		cur.NextDueDate = amortization.NextDueDate(cur.StartDate, cur.TenureMonths, cur.AmountPaid, cur.EMI)
	}
	return nil
}

// Replace stores rec wholesale, bypassing the ordering guard. It is meant for
// server responses to the principal's own actions, which are authoritative.
// An unknown id is appended.
func (s *Store) Replace(rec domain.LoanRecord) error {
	rec, err := normalize(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.byID[rec.ID]; ok {
		*cur = rec
		return nil
	}
	s.insertLocked(rec)
	return nil
}

// Reset discards every record and loads recs in order. Records that fail
// validation are skipped and returned as errors; duplicates keep the first.
func (s *Store) Reset(recs []domain.LoanRecord) []error {
	order := make([]int64, 0, len(recs))
	byID := make(map[int64]*domain.LoanRecord, len(recs))

	var errs []error
	for _, r := range recs {
		rec, err := normalize(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := byID[rec.ID]; dup {
			continue
		}
		order = append(order, rec.ID)
		byID[rec.ID] = &rec
	}

	s.mu.Lock()
	s.order, s.byID = order, byID
	s.mu.Unlock()
	return errs
}

// Snapshot returns a copy of every record in insertion order.
func (s *Store) Snapshot() []domain.LoanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LoanRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id int64) (domain.LoanRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return domain.LoanRecord{}, false
	}
	return *rec, true
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store) insertLocked(rec domain.LoanRecord) {
	s.order = append(s.order, rec.ID)
	s.byID[rec.ID] = &rec
}

// normalize fills derivable fields and checks the record invariants:
// non-negative amounts, paid + outstanding == total payable, and a zero
// balance implying CLOSED.
func normalize(rec domain.LoanRecord) (domain.LoanRecord, error) {
	if rec.AmountPaid.IsNegative() {
		return rec, &domain.ErrValidation{Field: "amount_paid", Message: "must not be negative"}
	}
	if rec.Outstanding.IsNegative() {
		return rec, &domain.ErrValidation{Field: "outstanding", Message: "must not be negative"}
	}
	if rec.TotalPayable.IsZero() {
		rec.TotalPayable = rec.AmountPaid.Add(rec.Outstanding)
	}
	if !rec.Balanced() {
		return rec, &domain.ErrValidation{
			Field:   "total_payable",
			Message: fmt.Sprintf("loan %d: amount paid %s + outstanding %s != total payable %s", rec.ID, rec.AmountPaid, rec.Outstanding, rec.TotalPayable),
		}
	}
	if rec.Status == "" {
		rec.Status = domain.LoanStatusActive
	}
	if rec.LoanType == "" {
		rec.LoanType = domain.LoanTypeOther
	}
	if rec.Outstanding.IsZero() {
		rec.Status = domain.LoanStatusClosed
		rec.NextDueDate = domain.Date{}
	}
	return rec, nil
}

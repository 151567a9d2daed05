package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/infra/client"
	"github.com/boddenberg/loandesk-go/internal/infra/resilience"

	"github.com/shopspring/decimal"
)

func newClient(srv *httptest.Server) *client.LoanClient {
	return client.NewLoanClient(
		srv.Client(),
		srv.URL,
		"svc-key",
		resilience.NewCircuitBreaker("loan-api-test"),
		resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
	)
}

func TestListLoans_DecodesRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/users/42/loans" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get(client.APIKeyHeader) != "svc-key" {
			t.Errorf("expected service key header, got %q", r.Header.Get(client.APIKeyHeader))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":9,"user_id":42,"loan_type":"home","principal":250000,"rate":7.5,"tenure_months":240,
			"emi":2013.98,"amount_paid":0,"outstanding":483355.92,"total_payable":483355.92,"status":"active",
			"next_due_date":"2024-04-15","start_date":"2024-03-15"}]`))
	}))
	defer srv.Close()

	loans, err := newClient(srv).ListLoans(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(loans) != 1 {
		t.Fatalf("expected 1 loan, got %d", len(loans))
	}
	l := loans[0]
	if l.ID != 9 || l.LoanType != domain.LoanTypeHome || l.Status != domain.LoanStatusActive {
		t.Errorf("unexpected record %+v", l)
	}
	if !l.EMI.Equal(decimal.RequireFromString("2013.98")) {
		t.Errorf("expected emi 2013.98, got %s", l.EMI)
	}
	if l.StartDate.String() != "2024-03-15" {
		t.Errorf("expected start date 2024-03-15, got %s", l.StartDate)
	}
}

func TestListLoans_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	loans, err := newClient(srv).ListLoans(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(loans) != 0 {
		t.Errorf("expected empty list, got %d", len(loans))
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestGetIdentity_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(srv).GetIdentity(context.Background(), 5)
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single call, got %d", calls.Load())
	}
}

func TestGetIdentity_DefaultsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username":"asha","full_name":"Asha Rao"}`))
	}))
	defer srv.Close()

	id, err := newClient(srv).GetIdentity(context.Background(), 42)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id.ID != 42 || id.DisplayName() != "Asha Rao" {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestPayLoan_SendsAmountOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/v1/users/42/loans/9/pay" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Amount decimal.Decimal `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if !body.Amount.Equal(decimal.NewFromInt(3000)) {
			t.Errorf("expected amount 3000, got %s", body.Amount)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newClient(srv).PayLoan(context.Background(), 42, &domain.PaymentRequest{LoanID: 9, Amount: decimal.NewFromInt(3000)})
	var ext *domain.ErrExternalService
	if !errors.As(err, &ext) {
		t.Fatalf("expected ErrExternalService, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected payments never to be retried, got %d calls", calls.Load())
	}
}

func TestApplyLoan_ValidationKeepsDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"tenure too long"}`))
	}))
	defer srv.Close()

	c := newClient(srv)
	// client errors must not trip the breaker
	for i := 0; i < 8; i++ {
		_, err := c.ApplyLoan(context.Background(), 1, &domain.LoanApplication{LoanType: domain.LoanTypeAuto})
		var invalid *domain.ErrValidation
		if !errors.As(err, &invalid) {
			t.Fatalf("call %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newClient(srv)
	for i := 0; i < 5; i++ {
		_, _ = c.ApplyLoan(context.Background(), 1, &domain.LoanApplication{})
	}

	_, err := c.ApplyLoan(context.Background(), 1, &domain.LoanApplication{})
	var open *domain.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

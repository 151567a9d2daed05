package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/handler"
	"github.com/boddenberg/loandesk-go/internal/infra/cache"
	"github.com/boddenberg/loandesk-go/internal/infra/client"
	"github.com/boddenberg/loandesk-go/internal/infra/feed"
	"github.com/boddenberg/loandesk-go/internal/infra/observability"
	"github.com/boddenberg/loandesk-go/internal/infra/resilience"
	"github.com/boddenberg/loandesk-go/internal/service"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TestIntegration_FullFlow runs the router against a mock loan API and a
// mock push feed, over real HTTP and WebSocket connections.
func TestIntegration_FullFlow(t *testing.T) {
	// --- Mock Loan API ---
	loanServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(client.APIKeyHeader) != "svc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/users/42/loans":
			w.Write([]byte(`[{"id":9,"user_id":42,"loan_type":"home","principal":10000,"rate":10,"tenure_months":12,
				"emi":879.16,"amount_paid":0,"outstanding":10549.92,"total_payable":10549.92,"status":"active",
				"next_due_date":"2024-02-10","start_date":"2024-01-10"}]`))
		case "/v1/users/42":
			w.Write([]byte(`{"id":42,"username":"asha","full_name":"Asha Rao"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer loanServer.Close()

	// --- Mock event feed: pushes one payment, then idles ---
	upgrader := websocket.Upgrader{}
	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user_id") != "42" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		msg, _ := json.Marshal(map[string]any{
			"type":        "loan.payment",
			"loan_id":     9,
			"user_id":     42,
			"outstanding": "9670.76",
		})
		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer feedServer.Close()

	// --- Build service ---
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	cb := resilience.NewCircuitBreaker("test")
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 10}
	httpClient := &http.Client{Timeout: 5 * time.Second}
	loans := client.NewLoanClient(httpClient, loanServer.URL, "svc-key", cb, cfg)
	ids := cache.New[*domain.Identity](5 * time.Minute)
	defer ids.Close()

	mgr := service.NewSessionManager(service.Dependencies{
		API:        loans,
		Identities: loans,
		Cache:      ids,
		Feed:       feed.NewWebSocketSource("ws"+strings.TrimPrefix(feedServer.URL, "http"), "svc-key", time.Second, logger),
	}, service.SessionConfig{
		Reconnect: resilience.Config{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond},
	}, 4, metrics, logger)
	defer mgr.Shutdown(context.Background())

	verifier := handler.NewTokenVerifier(testSecret)
	router := handler.NewRouter(mgr, verifier, metrics, logger)
	token, err := verifier.Sign(42, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	get := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	// --- First request opens the session ---
	rec := get("/v1/loans/9")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// --- The pushed payment lands in the store ---
	deadline := time.Now().Add(3 * time.Second)
	var loan loanJSON
	for time.Now().Before(deadline) {
		loan = decode[loanJSON](t, get("/v1/loans/9"))
		if loan.Outstanding.Equal(d("9670.76")) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !loan.Outstanding.Equal(d("9670.76")) {
		t.Fatalf("expected pushed payment to be applied, got outstanding %s", loan.Outstanding)
	}
	if !loan.AmountPaid.Equal(d("879.16")) {
		t.Errorf("expected amount paid 879.16, got %s", loan.AmountPaid)
	}

	// --- Report reflects the pushed state ---
	rec = get("/v1/loans/report")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"Customer Name: Asha Rao", "Total Paid: $879.16", "Outstanding Balance: $9,670.76"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected report to contain %q:\n%s", want, body)
		}
	}

	// --- Metrics ---
	snap := metrics.GetReconcilerSnapshot()
	if snap.ActiveSessions != 1 {
		t.Errorf("expected 1 active session, got %d", snap.ActiveSessions)
	}
	if snap.EventsByOutcome["applied"] != 1 {
		t.Errorf("expected 1 applied event, got %v", snap.EventsByOutcome)
	}
}

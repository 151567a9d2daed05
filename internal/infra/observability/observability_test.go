package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boddenberg/loandesk-go/internal/infra/observability"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReconcilerSnapshot(t *testing.T) {
	m := observability.NewMetrics()
	m.IncrEvent("applied")
	m.IncrEvent("applied")
	m.IncrEvent("stale")
	m.IncrResync("ok")
	m.IncrResync("error")
	m.IncrFeedConnection("connected")
	m.IncrFeedConnection("failed")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	snap := m.GetReconcilerSnapshot()
	if snap.EventsByOutcome["applied"] != 2 || snap.EventsByOutcome["stale"] != 1 {
		t.Errorf("unexpected outcomes %v", snap.EventsByOutcome)
	}
	if _, ok := snap.EventsByOutcome["malformed"]; !ok {
		t.Error("expected every outcome to be listed")
	}
	if snap.Resyncs != 2 || snap.Reconnects != 1 || snap.ActiveSessions != 1 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()
	a.IncrEvent("applied")
	if b.EventCount("applied") != 0 {
		t.Error("expected registries not to share counters")
	}
}

func TestZapLoggerMiddleware_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	mw := observability.ZapLoggerMiddleware(zap.New(core))

	status := http.StatusOK
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) }))

	for _, tc := range []struct {
		path   string
		status int
		level  zapcore.Level
	}{
		{"/v1/loans", http.StatusOK, zapcore.InfoLevel},
		{"/healthz", http.StatusOK, zapcore.DebugLevel},
		{"/v1/loans", http.StatusBadRequest, zapcore.WarnLevel},
		{"/v1/loans", http.StatusBadGateway, zapcore.ErrorLevel},
	} {
		status = tc.status
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tc.path, nil))
		entries := logs.TakeAll()
		if len(entries) != 1 || entries[0].Level != tc.level {
			t.Errorf("%s %d: expected one %s entry, got %v", tc.path, tc.status, tc.level, entries)
		}
	}
}

func TestInitTracer_NoEndpoint(t *testing.T) {
	shutdown, err := observability.InitTracer("", "loandesk-test")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

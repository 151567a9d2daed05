package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual service.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// ReconcilerMetrics is returned by GET /v1/metrics/reconciler.
type ReconcilerMetrics struct {
	ActiveSessions  int64            `json:"activeSessions"`
	EventsByOutcome map[string]int64 `json:"eventsByOutcome"`
	Resyncs         int64            `json:"resyncs"`
	Reconnects      int64            `json:"reconnects"`
	Period          string           `json:"period"`
}

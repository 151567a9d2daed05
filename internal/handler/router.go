package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/loandesk-go/internal/amortization"
	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/infra/observability"
	"github.com/boddenberg/loandesk-go/internal/portfolio"
	"github.com/boddenberg/loandesk-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// NewRouter creates the HTTP router with all routes and middleware.
// Everything under /v1/loans and /v1/session acts on the session of the
// principal named by the bearer token.
func NewRouter(mgr *service.SessionManager, verifier *TokenVerifier, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(mgr))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		// Calculator, no session needed
		r.Get("/emi", emiHandler(logger))
		r.Get("/metrics/reconciler", reconcilerMetricsHandler(metrics))

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(verifier, logger))

			r.Get("/loans", listLoansHandler(mgr, logger))
			r.Post("/loans", applyLoanHandler(mgr, logger))
			r.Get("/loans/summary", summaryHandler(mgr, logger))
			r.Get("/loans/report", reportHandler(mgr, logger))
			r.Post("/loans/resync", resyncHandler(mgr, logger))
			r.Get("/loans/{loanId}", getLoanHandler(mgr, logger))
			r.Post("/loans/{loanId}/payments", payLoanHandler(mgr, logger))

			r.Delete("/session", closeSessionHandler(mgr, logger))
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(mgr *service.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "loandesk", Status: "healthy", LastChecked: now},
		}
		if mgr != nil {
			services = append(services, domain.ServiceHealth{
				Name: "sessions", Status: "healthy", LastChecked: now,
			})
		}
		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   "healthy",
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func reconcilerMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetReconcilerSnapshot())
	}
}

// ============================================================
// EMI calculator
// ============================================================

type emiResponse struct {
	*amortization.Quote
	Schedule []amortization.Installment `json:"schedule,omitempty"`
}

// emiHandler quotes the terms given as query parameters:
// principal, rate, tenure_months, and optionally start_date and schedule=true.
func emiHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/emi")
		defer span.End()

		term, err := termFromQuery(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		quote, err := amortization.QuoteTerm(term)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		resp := emiResponse{Quote: quote}

		if withSchedule, _ := strconv.ParseBool(r.URL.Query().Get("schedule")); withSchedule {
			rows, err := amortization.Schedule(term)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			resp.Schedule = rows
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func termFromQuery(r *http.Request) (domain.LoanTerm, error) {
	q := r.URL.Query()
	var term domain.LoanTerm

	principal, err := decimal.NewFromString(q.Get("principal"))
	if err != nil {
		return term, &domain.ErrValidation{Field: "principal", Message: "must be a decimal number"}
	}
	rate, err := decimal.NewFromString(q.Get("rate"))
	if err != nil {
		return term, &domain.ErrValidation{Field: "rate", Message: "must be a decimal number"}
	}
	tenure, err := strconv.Atoi(q.Get("tenure_months"))
	if err != nil {
		return term, &domain.ErrValidation{Field: "tenure_months", Message: "must be an integer"}
	}

	start := domain.DateOf(time.Now())
	if raw := q.Get("start_date"); raw != "" {
		start, err = domain.ParseDate(raw)
		if err != nil {
			return term, &domain.ErrValidation{Field: "start_date", Message: err.Error()}
		}
	}

	return domain.LoanTerm{
		Principal:         principal,
		AnnualRatePercent: rate,
		TenureMonths:      tenure,
		StartDate:         start,
	}, nil
}

// ============================================================
// Loans
// ============================================================

type loanView struct {
	domain.LoanRecord
	Progress decimal.Decimal `json:"progress"`
}

func viewOf(l domain.LoanRecord) loanView {
	return loanView{LoanRecord: l, Progress: portfolio.Progress(l)}
}

type loansResponse struct {
	SessionID string     `json:"session_id"`
	Loans     []loanView `json:"loans"`
}

func session(w http.ResponseWriter, r *http.Request, mgr *service.SessionManager, logger *zap.Logger) (*service.Session, bool) {
	s, err := mgr.Get(r.Context(), OwnerIDFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, err, logger)
		return nil, false
	}
	return s, true
}

func listLoansHandler(mgr *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/loans")
		defer span.End()

		s, ok := session(w, r, mgr, logger)
		if !ok {
			return
		}
		loans := s.Loans()
		views := make([]loanView, 0, len(loans))
		for _, l := range loans {
			views = append(views, viewOf(l))
		}
		span.SetAttributes(attribute.Int("loans.count", len(views)))

		writeJSON(w, http.StatusOK, loansResponse{SessionID: s.ID(), Loans: views})
	}
}

func getLoanHandler(mgr *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/loans/{loanId}")
		defer span.End()

		loanID, err := parseInt64Param("loan_id", chi.URLParam(r, "loanId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int64("loan.id", loanID))

		s, ok := session(w, r, mgr, logger)
		if !ok {
			return
		}
		l, found := s.Loan(loanID)
		if !found {
			handleServiceError(w, &domain.ErrNotFound{Resource: "loan", ID: strconv.FormatInt(loanID, 10)}, logger)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(l))
	}
}

func applyLoanHandler(mgr *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/loans")
		defer span.End()

		var app domain.LoanApplication
		if err := decodeJSON(w, r, &app); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if app.StartDate.IsZero() {
			app.StartDate = domain.DateOf(time.Now())
		}

		s, ok := session(w, r, mgr, logger)
		if !ok {
			return
		}
		rec, err := s.Apply(ctx, &app)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, viewOf(*rec))
	}
}

type paymentBody struct {
	Amount decimal.Decimal `json:"amount"`
}

func payLoanHandler(mgr *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/loans/{loanId}/payments")
		defer span.End()

		loanID, err := parseInt64Param("loan_id", chi.URLParam(r, "loanId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int64("loan.id", loanID))

		var body paymentBody
		if err := decodeJSON(w, r, &body); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		s, ok := session(w, r, mgr, logger)
		if !ok {
			return
		}
		rec, err := s.Pay(ctx, loanID, body.Amount)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(*rec))
	}
}

func summaryHandler(mgr *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/loans/summary")
		defer span.End()

		s, ok := session(w, r, mgr, logger)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Summary())
	}
}

// reportHandler renders the loan summary. ?format=md|html picks the
// encoding; ?save=true stores it and answers with its metadata instead of
// the body.
func reportHandler(mgr *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/loans/report")
		defer span.End()

		format := r.URL.Query().Get("format")
		save, _ := strconv.ParseBool(r.URL.Query().Get("save"))

		s, ok := session(w, r, mgr, logger)
		if !ok {
			return
		}
		out, err := s.Report(ctx, format, save)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("report.pages", out.Pages))

		if save {
			writeJSON(w, http.StatusCreated, out)
			return
		}
		w.Header().Set("Content-Type", out.ContentType)
		w.Header().Set("Content-Disposition", `inline; filename="`+out.Name+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(out.Body)
	}
}

func resyncHandler(mgr *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/loans/resync")
		defer span.End()

		s, ok := session(w, r, mgr, logger)
		if !ok {
			return
		}
		if err := s.Resync(ctx); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "resynced",
			"loans":  len(s.Loans()),
		})
	}
}

func closeSessionHandler(mgr *service.SessionManager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := OwnerIDFromContext(r.Context())
		if !mgr.Close(ownerID) {
			writeError(w, http.StatusNotFound, "no open session")
			return
		}
		logger.Info("session closed by client", zap.Int64("owner_id", ownerID))
		w.WriteHeader(http.StatusNoContent)
	}
}

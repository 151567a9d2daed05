package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/boddenberg/loandesk-go/internal/amortization"
	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/infra/observability"
	"github.com/boddenberg/loandesk-go/internal/infra/resilience"
	"github.com/boddenberg/loandesk-go/internal/loanstore"
	"github.com/boddenberg/loandesk-go/internal/port"
	"github.com/boddenberg/loandesk-go/internal/portfolio"
	"github.com/boddenberg/loandesk-go/internal/reconciler"
	"github.com/boddenberg/loandesk-go/internal/report"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("service/session")

// Report formats.
const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
)

// SessionConfig holds per-session parameters shared by every session.
type SessionConfig struct {
	Policy    reconciler.ResyncPolicy
	Reconnect resilience.Config
	Report    report.Options
}

// Dependencies are the adapters a session talks to. Sink may be nil, in
// which case reports cannot be saved.
type Dependencies struct {
	API        port.LoanAPI
	Identities port.IdentityFetcher
	Cache      port.LoadingCache[*domain.Identity]
	Feed       port.EventSource
	Sink       port.DocumentSink
}

// RenderedReport is one encoded loan summary.
type RenderedReport struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Pages       int    `json:"pages"`
	Path        string `json:"path,omitempty"`
	Body        []byte `json:"-"`
}

// Session owns the loan state of one signed-in principal: one store, kept
// current by one reconciler goroutine, plus the direct API operations.
type Session struct {
	id      string
	ownerID int64
	deps    Dependencies
	cfg     SessionConfig
	store   *loanstore.Store
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	resyncMu sync.Mutex

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
	rec     *reconciler.Reconciler
}

// NewSession creates an idle session. Call Start before use.
func NewSession(ownerID int64, deps Dependencies, cfg SessionConfig, metrics *observability.Metrics, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		ownerID: ownerID,
		deps:    deps,
		cfg:     cfg,
		store:   loanstore.New(),
		metrics: metrics,
		logger:  logger.With(zap.String("session_id", id), zap.Int64("owner_id", ownerID)),
		now:     time.Now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// OwnerID returns the principal the session belongs to.
func (s *Session) OwnerID() int64 { return s.ownerID }

// Start performs the initial load (loans and identity, concurrently) and
// then launches the reconciler. A failed loan load fails Start; a failed
// identity lookup only degrades the report header.
func (s *Session) Start(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.Start")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner.id", s.ownerID))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &domain.ErrSessionClosed{OwnerID: s.ownerID}
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	start := time.Now()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.reload(gCtx)
	})

	g.Go(func() error {
		if _, err := s.Identity(gCtx); err != nil {
			s.logger.Warn("identity lookup failed, report header will be generic", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	loadedAt := s.now()
	s.metrics.RecordRequestDuration("session_start", time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &domain.ErrSessionClosed{OwnerID: s.ownerID}
	}
	if s.started {
		return nil
	}

	rec := reconciler.New(s.store, s.deps.Feed, s.reload, reconciler.Config{
		OwnerID:   s.ownerID,
		Policy:    s.cfg.Policy,
		Reconnect: s.cfg.Reconnect,
		LoadedAt:  loadedAt,
	}, s.metrics, s.logger)

	// the reconciler outlives the request that opened the session
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	s.rec = rec

	go func() {
		defer close(s.done)
		_ = rec.Run(runCtx)
	}()

	s.metrics.SessionOpened()
	s.logger.Info("session started", zap.Int("loans", s.store.Len()))
	return nil
}

// Close stops the reconciler and waits for it to finish. Safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, done, started := s.cancel, s.done, s.started
	s.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-done
	s.metrics.SessionClosed()
	s.logger.Info("session closed")
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &domain.ErrSessionClosed{OwnerID: s.ownerID}
	}
	return nil
}

// Resync discards the store and reloads it from the loan API. Once the
// session is started the reload runs through the reconciler, so feed events
// arriving meanwhile are applied after it instead of being overwritten.
func (s *Session) Resync(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.Resync")
	defer span.End()

	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	if rec == nil {
		return s.reload(ctx)
	}
	return rec.Resync(ctx)
}

// reload replaces the store with the API's loan list. Records the API
// returns in an invalid shape are skipped and logged.
func (s *Session) reload(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Session.reload")
	defer span.End()

	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	loans, err := s.deps.API.ListLoans(ctx, s.ownerID)
	if err != nil {
		s.metrics.IncrExternalError("loan-api")
		return fmt.Errorf("listing loans: %w", err)
	}
	for _, err := range s.store.Reset(withOwner(loans, s.ownerID)) {
		s.logger.Warn("skipping invalid loan from API", zap.Error(err))
	}
	span.SetAttributes(attribute.Int("loans.count", s.store.Len()))
	return nil
}

func withOwner(loans []domain.LoanRecord, ownerID int64) []domain.LoanRecord {
	out := make([]domain.LoanRecord, len(loans))
	for i, l := range loans {
		if l.OwnerID == 0 {
			l.OwnerID = ownerID
		}
		out[i] = l
	}
	return out
}

// Apply validates the terms locally, submits the application and stores the
// server's record.
func (s *Session) Apply(ctx context.Context, app *domain.LoanApplication) (*domain.LoanRecord, error) {
	ctx, span := tracer.Start(ctx, "Session.Apply")
	defer span.End()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := amortization.QuoteTerm(app.Term()); err != nil {
		return nil, err
	}
	if app.LoanType == "" {
		app.LoanType = domain.LoanTypeOther
	}

	rec, err := s.deps.API.ApplyLoan(ctx, s.ownerID, app)
	if err != nil {
		s.metrics.IncrExternalError("loan-api")
		return nil, fmt.Errorf("applying for loan: %w", err)
	}
	if rec.OwnerID == 0 {
		rec.OwnerID = s.ownerID
	}
	if err := s.store.Replace(*rec); err != nil {
		return nil, fmt.Errorf("storing new loan %d: %w", rec.ID, err)
	}
	span.SetAttributes(attribute.Int64("loan.id", rec.ID))
	s.logger.Info("loan applied", zap.Int64("loan_id", rec.ID), zap.String("loan_type", string(rec.LoanType)))

	out, _ := s.store.Get(rec.ID)
	return &out, nil
}

// Pay submits a payment for a held loan and stores the server's record.
func (s *Session) Pay(ctx context.Context, loanID int64, amount decimal.Decimal) (*domain.LoanRecord, error) {
	ctx, span := tracer.Start(ctx, "Session.Pay")
	defer span.End()
	span.SetAttributes(attribute.Int64("loan.id", loanID))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be greater than zero"}
	}
	held, ok := s.store.Get(loanID)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "loan", ID: strconv.FormatInt(loanID, 10)}
	}
	if held.Status == domain.LoanStatusClosed {
		return nil, &domain.ErrValidation{Field: "loan_id", Message: "loan is already closed"}
	}

	rec, err := s.deps.API.PayLoan(ctx, s.ownerID, &domain.PaymentRequest{LoanID: loanID, Amount: amount})
	if err != nil {
		s.metrics.IncrExternalError("loan-api")
		return nil, fmt.Errorf("paying loan %d: %w", loanID, err)
	}
	if rec.OwnerID == 0 {
		rec.OwnerID = s.ownerID
	}
	if err := s.store.Replace(*rec); err != nil {
		return nil, fmt.Errorf("storing paid loan %d: %w", loanID, err)
	}
	s.logger.Info("loan payment applied",
		zap.Int64("loan_id", loanID),
		zap.String("amount", amount.String()),
		zap.String("outstanding", rec.Outstanding.String()),
	)

	out, _ := s.store.Get(loanID)
	return &out, nil
}

// Loans returns a snapshot of the held loans in insertion order.
func (s *Session) Loans() []domain.LoanRecord {
	return s.store.Snapshot()
}

// Loan returns one held loan.
func (s *Session) Loan(loanID int64) (domain.LoanRecord, bool) {
	return s.store.Get(loanID)
}

// Summary aggregates the current snapshot.
func (s *Session) Summary() domain.PortfolioSummary {
	return portfolio.Summarize(s.store.Snapshot())
}

// Identity returns the principal's identity, cached across sessions.
func (s *Session) Identity(ctx context.Context) (*domain.Identity, error) {
	key := "identity:" + strconv.FormatInt(s.ownerID, 10)
	id, hit, err := s.deps.Cache.GetOrLoad(ctx, key, func(ctx context.Context) (*domain.Identity, error) {
		return s.deps.Identities.GetIdentity(ctx, s.ownerID)
	})
	if hit {
		s.metrics.IncrCacheHit("identity")
	} else {
		s.metrics.IncrCacheMiss("identity")
	}
	if err != nil {
		s.metrics.IncrExternalError("identity")
		return nil, fmt.Errorf("identity fetch: %w", err)
	}
	return id, nil
}

// Report renders the loan summary in the given format ("md" or "html"). With
// save set the document is also written to the document sink.
func (s *Session) Report(ctx context.Context, format string, save bool) (*RenderedReport, error) {
	ctx, span := tracer.Start(ctx, "Session.Report")
	defer span.End()
	span.SetAttributes(attribute.String("report.format", format))

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatMarkdown
	}
	if format != FormatMarkdown && format != FormatHTML {
		return nil, &domain.ErrValidation{Field: "format", Message: "must be 'md' or 'html'"}
	}
	if save && s.deps.Sink == nil {
		return nil, &domain.ErrValidation{Field: "save", Message: "report storage is not configured"}
	}

	owner := domain.Identity{ID: s.ownerID}
	if id, err := s.Identity(ctx); err == nil {
		owner = *id
	} else {
		s.logger.Warn("rendering report without identity", zap.Error(err))
	}

	doc := report.Generate(owner, s.store.Snapshot(), s.now(), s.cfg.Report)
	out := &RenderedReport{Name: doc.FileName(format), Pages: len(doc.Pages)}
	switch format {
	case FormatHTML:
		body, err := doc.HTML()
		if err != nil {
			return nil, fmt.Errorf("rendering html report: %w", err)
		}
		out.Body, out.ContentType = body, "text/html; charset=utf-8"
	default:
		out.Body, out.ContentType = doc.Markdown(), "text/markdown; charset=utf-8"
	}
	s.metrics.IncrReport(format)

	if save {
		path, err := s.deps.Sink.Save(ctx, out.Name, out.Body)
		if err != nil {
			return nil, fmt.Errorf("saving report: %w", err)
		}
		out.Path = path
		s.logger.Info("report saved", zap.String("path", path))
	}
	return out, nil
}

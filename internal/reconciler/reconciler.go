// Package reconciler bridges the push-event feed to a loan store. Messages
// are applied one at a time, in arrival order, on the goroutine running Run.
// Full reloads never interleave with event application.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/infra/observability"
	"github.com/boddenberg/loandesk-go/internal/infra/resilience"
	"github.com/boddenberg/loandesk-go/internal/loanstore"
	"github.com/boddenberg/loandesk-go/internal/port"

	"go.uber.org/zap"
)

// Outcome is what happened to one inbound message.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeStale       Outcome = "stale"
	OutcomeUnknownLoan Outcome = "unknown_loan"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeForeign     Outcome = "foreign"
	OutcomeInvalid     Outcome = "invalid"
)

// ResyncPolicy decides whether a reconnect must be followed by a full
// resynchronization. The feed never replays history, so any outage of at
// least MinGap is assumed to have lost events. A zero MinGap resyncs after
// every reconnect.
type ResyncPolicy struct {
	MinGap time.Duration
}

// ShouldResync reports whether an outage of the given length requires a resync.
func (p ResyncPolicy) ShouldResync(outage time.Duration) bool {
	return outage >= p.MinGap
}

// ResyncFunc discards the local store and reloads it from the loan API.
type ResyncFunc func(ctx context.Context) error

// Config holds reconciler parameters.
type Config struct {
	OwnerID int64
	Policy  ResyncPolicy
	// Reconnect uses InitialBackoff and MaxBackoff; retries are unbounded.
	Reconnect resilience.Config
	// LoadedAt is when the store was last filled from the API. When set, the
	// first connect counts the time since then as an outage.
	LoadedAt time.Time
	// StableAfter is how long a connection that delivered nothing must stay
	// up before the reconnect backoff starts over. Defaults to 30s.
	StableAfter time.Duration
}

const defaultStableAfter = 30 * time.Second

// Reconciler applies feed events to one session's store.
type Reconciler struct {
	store   *loanstore.Store
	source  port.EventSource
	resync  ResyncFunc
	cfg     Config
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	// mu serializes event application with full reloads.
	mu sync.Mutex
}

// New creates a reconciler. resync may be nil, in which case reconnects
// never trigger a reload.
func New(store *loanstore.Store, source port.EventSource, resync ResyncFunc, cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		source:  source,
		resync:  resync,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With(zap.Int64("owner_id", cfg.OwnerID)),
		now:     time.Now,
	}
}

// WithClock replaces the clock used to measure outages.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Run consumes the feed until ctx is cancelled, reconnecting on connection
// loss. Cancelling ctx closes the live connection at once; events applied
// before that stay committed. Run only returns when ctx is done.
//
// Every redial waits out the reconnect backoff. The attempt counter only
// resets once a connection delivered a message or stayed up for StableAfter,
// so a feed that accepts and drops at once is retried ever more slowly.
func (r *Reconciler) Run(ctx context.Context) error {
	lostAt := r.cfg.LoadedAt
	attempt := 0
	stableAfter := r.cfg.StableAfter
	if stableAfter <= 0 {
		stableAfter = defaultStableAfter
	}

	for {
		conn, err := r.source.Connect(ctx, r.cfg.OwnerID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if lostAt.IsZero() {
				lostAt = r.now()
			}
			r.metrics.IncrFeedConnection("failed")
			if !r.wait(ctx, attempt, "event feed connect failed", err) {
				return nil
			}
			attempt++
			continue
		}

		r.metrics.IncrFeedConnection("connected")
		if !lostAt.IsZero() {
			outage := r.now().Sub(lostAt)
			lostAt = time.Time{}
			r.logger.Info("event feed reconnected", zap.Duration("outage", outage))
			if r.cfg.Policy.ShouldResync(outage) {
				r.runResync(ctx)
			}
		}

		connectedAt := r.now()
		delivered, err := r.consume(ctx, conn)
		if ctx.Err() != nil {
			r.logger.Debug("event feed consumption stopped")
			return nil
		}
		lostAt = r.now()
		if delivered > 0 || lostAt.Sub(connectedAt) >= stableAfter {
			attempt = 0
		}
		if !r.wait(ctx, attempt, "event feed connection lost", err) {
			return nil
		}
		attempt++
	}
}

// wait sleeps for the backoff of the given attempt. It returns false when ctx
// is cancelled first.
func (r *Reconciler) wait(ctx context.Context, attempt int, msg string, cause error) bool {
	d := resilience.Backoff(r.cfg.Reconnect, attempt)
	r.logger.Warn(msg,
		zap.Int("attempt", attempt+1),
		zap.Duration("retry_in", d),
		zap.Error(cause),
	)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// consume applies messages from conn until it fails or ctx is cancelled. It
// returns how many messages were read.
func (r *Reconciler) consume(ctx context.Context, conn port.EventConn) (int, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		if stop() {
			_ = conn.Close()
		}
	}()

	delivered := 0
	for {
		msg, err := conn.Next()
		if err != nil {
			return delivered, err
		}
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		delivered++
		r.Apply(msg)
	}
}

// Resync reloads the store from the loan API. Events read from the feed
// while the reload is in flight wait for it and are applied on top of the
// fresh snapshot, so a reload never overwrites a newer payment.
func (r *Reconciler) Resync(ctx context.Context) error {
	if r.resync == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resync(ctx)
}

func (r *Reconciler) runResync(ctx context.Context) {
	if r.resync == nil {
		return
	}
	if err := r.Resync(ctx); err != nil {
		r.metrics.IncrResync("error")
		r.logger.Error("full resync after reconnect failed, store stays stale", zap.Error(err))
		return
	}
	r.metrics.IncrResync("ok")
	r.logger.Info("full resync after reconnect completed", zap.Int("loans", r.store.Len()))
}

// Apply parses and applies one message. It never fails: every problem is
// logged, counted and reported through the returned outcome.
func (r *Reconciler) Apply(msg []byte) Outcome {
	r.mu.Lock()
	outcome := r.apply(msg)
	r.mu.Unlock()
	r.metrics.IncrEvent(string(outcome))
	return outcome
}

func (r *Reconciler) apply(msg []byte) Outcome {
	ev, err := ParseEvent(msg)
	if err != nil {
		if errors.Is(err, ErrIgnoredEvent) {
			r.logger.Debug("ignoring feed event of unhandled type")
			return OutcomeIgnored
		}
		r.logger.Warn("dropping malformed feed event",
			zap.Error(err),
			zap.ByteString("message", truncate(msg, 256)),
		)
		return OutcomeMalformed
	}

	switch ev.Kind {
	case domain.EventCreated:
		c := ev.Created
		if c.OwnerID != 0 && c.OwnerID != r.cfg.OwnerID {
			r.logger.Debug("ignoring loan created for another owner",
				zap.Int64("loan_id", c.LoanID),
				zap.Int64("event_owner_id", c.OwnerID),
			)
			return OutcomeForeign
		}
		rec := c.Record()
		rec.OwnerID = r.cfg.OwnerID
		inserted, err := r.store.UpsertIfAbsent(rec)
		if err != nil {
			r.logger.Warn("dropping invalid loan created event", zap.Int64("loan_id", c.LoanID), zap.Error(err))
			return OutcomeInvalid
		}
		if !inserted {
			r.logger.Debug("duplicate loan created event", zap.Int64("loan_id", c.LoanID))
			return OutcomeDuplicate
		}
		r.logger.Info("loan created from feed", zap.Int64("loan_id", c.LoanID))
		return OutcomeApplied

	case domain.EventPaymentApplied:
		p := ev.Payment
		err := r.store.ApplyPayment(p.LoanID, p.Outstanding, p.Status)
		var stale *domain.ErrStaleUpdate
		var unknown *domain.ErrUnknownLoan
		switch {
		case err == nil:
			r.logger.Debug("payment applied from feed",
				zap.Int64("loan_id", p.LoanID),
				zap.String("outstanding", p.Outstanding.String()),
				zap.String("status", string(p.Status)),
			)
			return OutcomeApplied
		case errors.As(err, &stale):
			r.logger.Info("stale payment event rejected", zap.Int64("loan_id", p.LoanID), zap.String("reason", stale.Reason))
			return OutcomeStale
		case errors.As(err, &unknown):
			r.logger.Info("payment event for unknown loan dropped", zap.Int64("loan_id", p.LoanID))
			return OutcomeUnknownLoan
		default:
			r.logger.Warn("payment event rejected", zap.Int64("loan_id", p.LoanID), zap.Error(err))
			return OutcomeInvalid
		}
	}
	return OutcomeIgnored
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/infra/observability"
	"github.com/boddenberg/loandesk-go/internal/infra/resilience"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// SessionManager keeps one started Session per principal. Sessions are
// opened lazily on first use and live until closed.
type SessionManager struct {
	deps     Dependencies
	cfg      SessionConfig
	metrics  *observability.Metrics
	logger   *zap.Logger
	bulkhead *resilience.Bulkhead

	group singleflight.Group

	mu       sync.RWMutex
	sessions map[int64]*Session
	shutdown bool
}

// NewSessionManager creates a manager. maxStarting bounds how many sessions
// may run their initial load at the same time.
func NewSessionManager(deps Dependencies, cfg SessionConfig, maxStarting int, metrics *observability.Metrics, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		deps:     deps,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		bulkhead: resilience.NewBulkhead(maxStarting),
		sessions: make(map[int64]*Session),
	}
}

// Get returns the owner's session, starting one if needed. Concurrent calls
// for the same owner share a single start.
func (m *SessionManager) Get(ctx context.Context, ownerID int64) (*Session, error) {
	if s, ok := m.lookup(ownerID); ok {
		return s, nil
	}

	v, err, _ := m.group.Do(strconv.FormatInt(ownerID, 10), func() (any, error) {
		if s, ok := m.lookup(ownerID); ok {
			return s, nil
		}
		if m.isShutdown() {
			return nil, &domain.ErrSessionClosed{OwnerID: ownerID}
		}
		if err := m.bulkhead.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("waiting to open session: %w", err)
		}
		defer m.bulkhead.Release()

		s := NewSession(ownerID, m.deps, m.cfg, m.metrics, m.logger)
		if err := s.Start(ctx); err != nil {
			s.Close()
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.shutdown {
			go s.Close()
			return nil, &domain.ErrSessionClosed{OwnerID: ownerID}
		}
		m.sessions[ownerID] = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *SessionManager) lookup(ownerID int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[ownerID]
	return s, ok
}

func (m *SessionManager) isShutdown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shutdown
}

// Close tears down the owner's session. It reports whether one was open.
func (m *SessionManager) Close(ownerID int64) bool {
	m.mu.Lock()
	s, ok := m.sessions[ownerID]
	delete(m.sessions, ownerID)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session concurrently and refuses new ones. It returns
// ctx.Err() if ctx ends before all reconcilers have stopped.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		s := s // per-iteration copy; go directive is 1.21
		g.Go(func() error {
			s.Close()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("all sessions closed", zap.Int("count", len(sessions)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

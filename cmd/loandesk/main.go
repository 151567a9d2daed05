package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/loandesk-go/internal/config"
	"github.com/boddenberg/loandesk-go/internal/domain"
	"github.com/boddenberg/loandesk-go/internal/handler"
	"github.com/boddenberg/loandesk-go/internal/infra/cache"
	"github.com/boddenberg/loandesk-go/internal/infra/client"
	"github.com/boddenberg/loandesk-go/internal/infra/docsink"
	"github.com/boddenberg/loandesk-go/internal/infra/feed"
	"github.com/boddenberg/loandesk-go/internal/infra/observability"
	"github.com/boddenberg/loandesk-go/internal/infra/resilience"
	"github.com/boddenberg/loandesk-go/internal/reconciler"
	"github.com/boddenberg/loandesk-go/internal/report"
	"github.com/boddenberg/loandesk-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "reading .env: %v\n", err)
		os.Exit(1)
	}

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("loan_api_url", cfg.LoanAPIURL),
		zap.String("event_feed_url", cfg.EventFeedURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("resync_min_gap", cfg.ResyncMinGap),
		zap.Duration("reconnect_max_backoff", cfg.ReconnectMaxBackoff),
		zap.Duration("identity_cache_ttl", cfg.IdentityCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.String("currency", cfg.Currency),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "loandesk")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	identityCache := cache.New[*domain.Identity](cfg.IdentityCacheTTL)
	defer identityCache.Close()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("loan-api")

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	loanClient := client.NewLoanClient(httpClient, cfg.LoanAPIURL, cfg.LoanAPIKey, cb, resilienceCfg)
	eventFeed := feed.NewWebSocketSource(cfg.EventFeedURL, cfg.LoanAPIKey, cfg.HTTPTimeout, logger)

	// --- Services ---
	mgr := service.NewSessionManager(service.Dependencies{
		API:        loanClient,
		Identities: loanClient,
		Cache:      identityCache,
		Feed:       eventFeed,
		Sink:       docsink.NewFileSink(cfg.ReportDir),
	}, service.SessionConfig{
		Policy: reconciler.ResyncPolicy{MinGap: cfg.ResyncMinGap},
		Reconnect: resilience.Config{
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.ReconnectMaxBackoff,
		},
		Report: report.Options{
			Currency:  cfg.Currency,
			PageLines: cfg.ReportPageLines,
		},
	}, cfg.MaxConcurrency, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(mgr, handler.NewTokenVerifier(cfg.JWTSecret), metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Error("sessions did not stop in time", zap.Error(err))
	}

	logger.Info("server stopped")
}

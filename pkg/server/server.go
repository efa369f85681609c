package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"monay-hq/authz/pkg/audit"
	"monay-hq/authz/pkg/config"
	"monay-hq/authz/pkg/limits/ratelimit"
	"monay-hq/authz/pkg/limits/spend"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/store"
	sectls "monay-hq/authz/pkg/security/tls"
	"monay-hq/authz/pkg/telemetry/health"
	"monay-hq/authz/pkg/telemetry/metrics"
	"monay-hq/authz/pkg/telemetry/tracing"
)

// Engine evaluates and settles transactions. Implemented by *engine.Engine.
type Engine interface {
	Evaluate(ctx context.Context, tx *model.TransactionContext) (*model.Decision, error)
	Confirm(ctx context.Context, transactionID string) error
	Invalidate(ctx context.Context, transactionID string) error
	PendingCount() int
}

// RuleAdmin is the administrative surface of the rule store.
// Implemented by *store.Store.
type RuleAdmin interface {
	Snapshot() *store.Snapshot
	Reload(ctx context.Context) error
	CreateRule(ctx context.Context, rule *model.Rule) (*model.Rule, error)
	UpdateRule(ctx context.Context, rule *model.Rule, expectedVersion int64) (*model.Rule, error)
	ToggleRule(ctx context.Context, id string, active bool, expectedVersion int64) (*model.Rule, error)
	CreatePolicy(ctx context.Context, policy *model.MultisigPolicy) (*model.MultisigPolicy, error)
	UpdatePolicy(ctx context.Context, policy *model.MultisigPolicy, expectedVersion int64) (*model.MultisigPolicy, error)
	ToggleEnforcement(ctx context.Context, id string, enforced bool, expectedVersion int64) (*model.MultisigPolicy, error)
}

// LimitAdmin reads and configures spend limits. Implemented by *spend.Tracker.
type LimitAdmin interface {
	GetUsage(ctx context.Context, entityID string, scope model.LimitScope) (*spend.Usage, error)
	ListUsage(ctx context.Context, scope model.LimitScope) ([]*spend.Usage, error)
	SetLimit(ctx context.Context, entityID string, scope model.LimitScope, limit decimal.Decimal, location string) error
	RemoveLimit(ctx context.Context, entityID string, scope model.LimitScope) error
}

// Dependencies are the components served over HTTP. Rules, Limits and
// Audit are optional; their routes answer 503 when nil.
type Dependencies struct {
	Engine Engine
	Rules  RuleAdmin
	Limits LimitAdmin
	Audit  audit.Storage

	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	Health  *health.Checker
	Version health.VersionInfo
}

// Server is the authorization HTTP API server.
type Server struct {
	config    config.ServerConfig
	telemetry config.TelemetryConfig
	deps      Dependencies
	logger    *slog.Logger
	limiter   *ratelimit.Limiter

	httpServer   *http.Server
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a server. Call Start to begin serving.
func NewServer(cfg config.ServerConfig, telemetry config.TelemetryConfig, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		config:       cfg,
		telemetry:    telemetry,
		deps:         deps,
		logger:       logger.With("component", "server"),
		shutdownChan: make(chan struct{}),
	}
	if rl := cfg.RateLimit; rl.Enabled() {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
			MaxConcurrent:     rl.MaxConcurrent,
			IdleTTL:           rl.IdleTTL,
		})
	}
	return s
}

// Start serves HTTP and blocks until ctx is cancelled, Stop is called or
// the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddress,
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.mu.Unlock()

	reloadCtx, stopReload := context.WithCancel(ctx)
	defer stopReload()

	if s.config.TLS.Enabled {
		tlsConfig, reloader, err := sectls.NewServerConfig(s.config.TLS, s.logger)
		if err == nil {
			err = reloader.Start(reloadCtx)
		}
		if err != nil {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			return fmt.Errorf("failed to configure tls: %w", err)
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting api server",
			"address", s.config.ListenAddress,
			"admin_auth", s.config.AdminToken != "",
			"tls", s.config.TLS.Enabled,
			"client_auth", s.config.TLS.ClientAuth,
		)
		var err error
		if s.config.TLS.Enabled {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("api server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the routed HTTP handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	evaluate := rateLimitMiddleware(s.limiter, s.config.RateLimit.ClientHeader, s.deps.Metrics, s.logger)(http.HandlerFunc(s.handleEvaluate))
	s.route(mux, "POST /v1/evaluate", evaluate.ServeHTTP)
	s.route(mux, "POST /v1/transactions/{id}/confirm", s.handleConfirm)
	s.route(mux, "POST /v1/transactions/{id}/invalidate", s.handleInvalidate)

	s.admin(mux, "GET /v1/rules", s.handleListRules)
	s.admin(mux, "POST /v1/rules", s.handleCreateRule)
	s.admin(mux, "GET /v1/rules/{id}", s.handleGetRule)
	s.admin(mux, "PUT /v1/rules/{id}", s.handleUpdateRule)
	s.admin(mux, "POST /v1/rules/{id}/activate", s.handleToggleRule(true))
	s.admin(mux, "POST /v1/rules/{id}/deactivate", s.handleToggleRule(false))
	s.admin(mux, "POST /v1/rules/reload", s.handleReload)

	s.admin(mux, "GET /v1/policies", s.handleListPolicies)
	s.admin(mux, "POST /v1/policies", s.handleCreatePolicy)
	s.admin(mux, "GET /v1/policies/{id}", s.handleGetPolicy)
	s.admin(mux, "PUT /v1/policies/{id}", s.handleUpdatePolicy)
	s.admin(mux, "POST /v1/policies/{id}/enforce", s.handleTogglePolicy(true))
	s.admin(mux, "POST /v1/policies/{id}/unenforce", s.handleTogglePolicy(false))

	s.admin(mux, "GET /v1/limits/{scope}", s.handleListUsage)
	s.admin(mux, "GET /v1/entities/{entity}/usage/{scope}", s.handleGetUsage)
	s.admin(mux, "PUT /v1/entities/{entity}/limits/{scope}", s.handleSetLimit)
	s.admin(mux, "DELETE /v1/entities/{entity}/limits/{scope}", s.handleRemoveLimit)

	s.admin(mux, "GET /v1/audit", s.handleQueryAudit)
	s.admin(mux, "GET /v1/audit/verify", s.handleVerifyAudit)

	if s.deps.Health != nil {
		health.Register(mux, s.deps.Health, s.telemetry.Health, s.deps.Version)
	}
	if s.deps.Metrics != nil && s.telemetry.Metrics.MetricsEnabled() {
		path := s.telemetry.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, s.deps.Metrics.Handler())
	}

	// Middleware, innermost first.
	var handler http.Handler = mux
	handler = bodyLimitMiddleware(s.config.MaxBodyBytes)(handler)
	handler = loggingMiddleware(s.logger)(handler)
	if s.deps.Tracer != nil {
		handler = s.deps.Tracer.Middleware(handler)
	}
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger)(handler)
	return handler
}

// route registers a handler that records request metrics under pattern.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, metricsMiddleware(s.deps.Metrics, pattern)(h))
}

// admin registers an administrative handler behind the admin token.
func (s *Server) admin(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, metricsMiddleware(s.deps.Metrics, pattern)(adminAuthMiddleware(s.config.AdminToken)(h)))
}

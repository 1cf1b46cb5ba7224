package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"safe-sql-sandbox/internal/assignment"
	"safe-sql-sandbox/internal/auth"
	"safe-sql-sandbox/internal/config"
	"safe-sql-sandbox/internal/monitor"
)

// HealthChecker reports whether the application database is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Pinger checks the sandbox database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. DB, Attempts, History and
// Issuer may be nil.
type Deps struct {
	Queries  QueryRunner
	Catalog  assignment.Store
	Hints    HintSource
	Attempts AttemptRecorder
	History  AttemptHistory
	Issuer   *auth.Issuer
	Metrics  *monitor.Metrics
	DB       HealthChecker
	Sandbox  Pinger
	LLMHints bool
}

// Server is the main HTTP server for the query sandbox API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	deps       Deps
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	handlers := NewHandlers(deps.Queries, deps.Catalog, deps.Hints, deps.Attempts, deps.History)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		deps:      deps,
		startTime: time.Now(),
	}

	if deps.Issuer == nil {
		log.Warn().Msg("no JWT secret configured, all requests are anonymous and attempt history is disabled")
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	cfg := s.cfg
	h := s.handlers

	executeLimit := RateLimitMiddleware(cfg.Security.ExecuteRPS, cfg.Security.ExecuteBurst)
	hintLimit := RateLimitMiddleware(cfg.Security.HintRPS, cfg.Security.HintBurst)

	mux := http.NewServeMux()
	mux.Handle("POST /api/query/execute", executeLimit(http.HandlerFunc(h.HandleExecute)))
	mux.HandleFunc("POST /api/query/validate", h.HandleValidate)
	mux.HandleFunc("GET /api/assignments", h.HandleListAssignments)
	mux.HandleFunc("GET /api/assignments/{id}", h.HandleGetAssignment)
	mux.Handle("POST /api/hints/generate", hintLimit(http.HandlerFunc(h.HandleGenerateHint)))
	mux.Handle("GET /api/attempts", RequireAuth(http.HandlerFunc(h.HandleListAttempts)))
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled && s.deps.Metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	// Apply middleware chain (outermost last)
	var handler http.Handler = mux
	handler = OptionalAuthMiddleware(s.deps.Issuer)(handler)
	if s.deps.Metrics != nil {
		handler = MetricsMiddleware(s.deps.Metrics)(handler)
	}
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = CORSMiddleware(cfg.Server.CORSOrigin)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	return handler
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	if s.cfg.Production() {
		log.Warn().Msg("TLS not enabled, running plain HTTP (terminate TLS at the proxy)")
	}
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := s.deps.DB == nil || s.deps.DB.Healthy(ctx)
	sandboxOK := s.deps.Sandbox != nil && s.deps.Sandbox.Ping(ctx) == nil

	resp := HealthResponse{
		Status:   "ok",
		Database: dbOK,
		Sandbox:  sandboxOK,
		LLMHints: s.deps.LLMHints,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	}

	if !dbOK || !sandboxOK {
		resp.Status = "degraded"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

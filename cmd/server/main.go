package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"safe-sql-sandbox/internal/api"
	"safe-sql-sandbox/internal/assignment"
	"safe-sql-sandbox/internal/auth"
	"safe-sql-sandbox/internal/config"
	"safe-sql-sandbox/internal/hint"
	"safe-sql-sandbox/internal/monitor"
	"safe-sql-sandbox/internal/query"
	"safe-sql-sandbox/internal/sandbox"
	"safe-sql-sandbox/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	// Application database (optional for development: file catalog, no history)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		var err error
		db, err = storage.New(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, attempt history disabled")
		} else {
			defer db.Close()
			if cfg.Database.Migrate {
				if err := db.Migrate(ctx); err != nil {
					log.Fatal().Err(err).Msg("failed to migrate database")
				}
			}
		}
	}

	catalog, err := openCatalog(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Str("source", cfg.Catalog.Source).Msg("failed to open assignment catalog")
	}

	pool, err := sandbox.New(ctx, cfg.SandboxDSN(), sandbox.Options{
		MaxConns:        cfg.Sandbox.MaxConns,
		AcquireTimeout:  cfg.Sandbox.AcquireTimeout,
		IdleTimeout:     cfg.Sandbox.IdleTimeout,
		MaxConnLifetime: cfg.Sandbox.MaxConnLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create sandbox pool")
	}
	metrics.RegisterPool(pool.Stats)

	queries := query.NewService(pool, catalog, cfg.Sandbox.StatementTimeout, metrics)

	var gen hint.Generator
	if cfg.Hints.APIKey != "" {
		g, err := hint.NewGeminiGenerator(ctx, cfg.Hints.APIKey, cfg.Hints.Model)
		if err != nil {
			log.Warn().Err(err).Msg("LLM hints unavailable, serving stored hints")
		} else {
			gen = g
		}
	}
	hints := hint.NewService(catalog, gen, hint.Options{
		MaxAttempts: cfg.Hints.MaxAttempts,
		BaseBackoff: cfg.Hints.BaseBackoff,
		CacheSize:   cfg.Hints.CacheSize,
		CacheTTL:    cfg.Hints.CacheTTL,
	}, metrics)

	var issuer *auth.Issuer
	if cfg.Auth.Secret != "" {
		issuer, err = auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure token verification")
		}
	}

	deps := api.Deps{
		Queries:  queries,
		Catalog:  catalog,
		Hints:    hints,
		Issuer:   issuer,
		Metrics:  metrics,
		Sandbox:  pool,
		LLMHints: hints.LLMEnabled(),
	}

	// Attempt writer (buffered, off the request path)
	if db != nil {
		attemptWriter := storage.NewAttemptWriter(db, cfg.Attempts.BufferSize, metrics)
		attemptWriter.Start()
		defer attemptWriter.Flush(cfg.Attempts.FlushTimeout)

		deps.Attempts = attemptWriter
		deps.History = db
		deps.DB = db
	}

	server := api.NewServer(cfg, deps)

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		drainAndClose(server, pool, cfg.Server.ShutdownTimeout)
		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("env", cfg.Server.Env).
		Str("catalog", cfg.Catalog.Source).
		Bool("db_enabled", db != nil).
		Bool("auth_enabled", issuer != nil).
		Bool("llm_hints", hints.LLMEnabled()).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	// Start returns as soon as Shutdown begins; wait for the drain.
	<-shutdownDone
	log.Info().Msg("server stopped")
}

// drainAndClose stops accepting requests, waits up to timeout for in-flight
// handlers and only then closes the sandbox pool they lease from.
func drainAndClose(srv interface{ Shutdown(context.Context) error }, pool interface{ Close() }, timeout time.Duration) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	pool.Close()
}

// loadConfig reads CONFIG_PATH (default configs/config.yaml) when present and
// falls back to defaults plus environment.
func loadConfig() *config.Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err := config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
		return cfg
	}

	log.Info().Msg("no config file found, using defaults and environment")
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// openCatalog returns the assignment store selected by catalog.source. The
// postgres store is seeded from catalog.path when that file exists.
func openCatalog(ctx context.Context, cfg *config.Config, db *storage.DB) (assignment.Store, error) {
	if cfg.Catalog.Source == "file" {
		store, err := assignment.LoadFile(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.Catalog.Path).Int("assignments", store.Len()).Msg("assignment catalog loaded")
		return store, nil
	}

	if db == nil {
		return nil, errors.New("catalog source postgres requires a reachable database")
	}
	store := assignment.NewPostgresStore(db.Pool())

	if cfg.Catalog.Path != "" {
		if _, err := os.Stat(cfg.Catalog.Path); err == nil {
			src, err := assignment.LoadFile(cfg.Catalog.Path)
			if err != nil {
				return nil, err
			}
			n, err := store.Seed(ctx, src)
			if err != nil {
				return nil, err
			}
			log.Info().Str("path", cfg.Catalog.Path).Int("assignments", n).Msg("assignment catalog seeded")
		}
	}
	return store, nil
}

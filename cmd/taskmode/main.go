// Package main is the entry point for the Task Mode server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/harborcs/taskmode/internal/config"
	"github.com/harborcs/taskmode/internal/definition"
	"github.com/harborcs/taskmode/internal/dialogue"
	"github.com/harborcs/taskmode/internal/greeting"
	"github.com/harborcs/taskmode/internal/observability"
	"github.com/harborcs/taskmode/internal/session"
	"github.com/harborcs/taskmode/internal/transport"
	"github.com/harborcs/taskmode/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "taskmode", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics(prometheus.DefaultRegisterer)
	}

	// Step 4: Load workflow definitions. Broken definitions are dropped
	// with logged errors; the service starts with whatever validates.
	loader := definition.NewLoader()
	loaded, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		loaded = nil
	}

	defs := filterValid(loaded, logger)
	if metrics != nil {
		switch {
		case err != nil:
			metrics.RecordDefinitionReload("error")
		case len(defs) < len(loaded):
			metrics.RecordDefinitionReload("partial")
		default:
			metrics.RecordDefinitionReload("ok")
		}
		metrics.SetDefinitionsLoaded(float64(len(defs)))
	}

	registry := definition.NewRegistry(defs)

	// Step 5: Initialize the snapshot store.
	store, storeCloser, err := buildSnapshotStore(ctx, cfg.Session.Store, logger)
	if err != nil {
		logger.Error("snapshot store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Initialize the greeting fetcher (optional).
	var greeter dialogue.Greeter
	if cfg.Greeting.Enabled {
		greeter = greeting.New(cfg.Greeting, logger)
		logger.Info("dynamic greetings enabled", zap.String("endpoint", cfg.Greeting.Endpoint))
	}

	// Step 7: Build the session registry and start the idle janitor.
	sessions := session.NewRegistry(session.Options{
		Definitions: registry,
		Store:       store,
		Greeter:     greeter,
		Logger:      logger,
		Engine: dialogue.Config{
			DefaultAdvanceDelay: cfg.Dialogue.DefaultAdvanceDelay,
			PrefetchFloor:       cfg.Dialogue.PrefetchFloor,
			PrefetchCeiling:     cfg.Dialogue.PrefetchCeiling,
			PrefetchPoll:        cfg.Dialogue.PrefetchPoll,
		},
		SaveDebounce:    cfg.Session.SaveDebounce,
		IdleTTL:         cfg.Session.IdleTTL,
		JanitorInterval: cfg.Session.JanitorInterval,
	})
	if metrics != nil {
		observability.RegisterSessionsGauge(prometheus.DefaultRegisterer, sessions.Count)
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go sessions.Run(bgCtx)

	// Step 8: Build the HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL)

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(registry.AllWorkflows()) > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.SnapshotStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
		Sessions:     sessions,
		Definitions:  registry,
		Metrics:      metrics,
		Readiness:    readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop the janitor, then flush every live session so abandoned work
	// survives the restart.
	bgCancel()
	sessions.Shutdown(shutdownCtx)

	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// filterValid drops definitions that fail validation, logging each error.
// A broken workflow never takes the service down with it.
func filterValid(defs []model.WorkflowDefinition, logger *zap.Logger) []model.WorkflowDefinition {
	validator := definition.NewValidator()
	valid := make([]model.WorkflowDefinition, 0, len(defs))
	seen := make(map[string]bool)
	for _, def := range defs {
		if seen[def.ID] {
			logger.Error("duplicate workflow id, dropping",
				zap.String("workflow_id", def.ID),
				zap.String("source", def.SourceFile))
			continue
		}
		verrs := validator.Validate([]model.WorkflowDefinition{def})
		if len(verrs) > 0 {
			for _, ve := range verrs {
				logger.Error("definition validation error",
					zap.String("workflow_id", def.ID),
					zap.String("source", def.SourceFile),
					zap.String("error", ve.Error()))
			}
			continue
		}
		seen[def.ID] = true
		valid = append(valid, def)
	}
	return valid
}

// buildSnapshotStore creates the snapshot store based on config.
func buildSnapshotStore(ctx context.Context, cfg config.SessionStoreConfig, logger *zap.Logger) (session.SnapshotStore, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory snapshot store")
		return session.NewMemorySnapshotStore(cfg.SnapshotTTL), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("snapshot store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot store: parse DSN: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			poolCfg.MinConns = int32(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		}

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("snapshot store: ping: %w", err)
		}

		logger.Info("using postgres snapshot store")
		return session.NewPgSnapshotStore(pool), pool.Close, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("snapshot store: %s environment variable not set", cfg.AddrEnv)
		}

		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("snapshot store: ping: %w", err)
		}

		logger.Info("using redis snapshot store", zap.String("addr", addr))
		return session.NewRedisSnapshotStore(client, cfg.SnapshotTTL), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported snapshot store driver: %q", cfg.Driver)
	}
}

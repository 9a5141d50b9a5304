package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/guardline-ai/bastion/internal/api"
	"github.com/guardline-ai/bastion/internal/audit"
	"github.com/guardline-ai/bastion/internal/auth"
	"github.com/guardline-ai/bastion/internal/config"
	"github.com/guardline-ai/bastion/internal/detector"
	"github.com/guardline-ai/bastion/internal/edge"
	"github.com/guardline-ai/bastion/internal/gateway"
	"github.com/guardline-ai/bastion/internal/policy"
	"github.com/guardline-ai/bastion/internal/store"
)

func main() {
	cfg := config.Load()
	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting bastion gateway",
		zap.String("http_port", cfg.HTTPPort),
		zap.Bool("firewall_enabled", cfg.FirewallEnabled),
		zap.String("detector_backend", cfg.DetectorBackend),
		zap.Bool("audit_fail_open", cfg.AuditFailOpen),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Detector — remote scorer when configured, heuristic scanners otherwise.
	// Both run behind the bounded wrapper so a hung detector degrades to a
	// zero-confidence verdict instead of stalling the request.
	var det detector.Detector
	if cfg.DetectorBackend == "remote" && cfg.DetectorEndpoint != "" {
		det = detector.NewRemoteDetector(detector.RemoteConfig{
			Endpoint: cfg.DetectorEndpoint,
			APIKey:   cfg.DetectorAPIKey,
			Timeout:  cfg.DetectorTimeout,
			Retries:  cfg.DetectorRetries,
		}, logger)
		logger.Info("remote detector enabled", zap.String("endpoint", cfg.DetectorEndpoint))
	} else {
		det = detector.NewHeuristicDetector(cfg.DetectorTimeout, logger)
	}
	det = detector.NewBounded(det, cfg.DetectorTimeout, logger)

	engine := policy.NewEngine(logger)

	// Bootstrap policy snapshot from file when configured.
	snap := policy.NewSnapshot(nil)
	if cfg.PolicyFile != "" {
		p, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			logger.Fatal("failed to load policy file",
				zap.String("path", cfg.PolicyFile), zap.Error(err))
		}
		if mode := policy.Mode(cfg.Mode); mode.Valid() {
			p.Mode = mode
		}
		snap.Store(p)
		logger.Info("bootstrap policy loaded",
			zap.String("policy_id", p.ID), zap.String("mode", string(p.Mode)))
	}

	// Audit — ClickHouse when configured, in-memory store otherwise so
	// explanations and the stream still work in local development.
	var (
		recorder audit.Recorder
		reader   audit.Reader
	)
	if cfg.ClickHouseDSN != "" {
		ch, err := audit.NewClickHouseStore(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Fatal("clickhouse connection failed", zap.Error(err))
		}
		recorder, reader = ch, ch
		logger.Info("clickhouse audit store connected")
	} else {
		mem := audit.NewMemoryStore()
		recorder, reader = mem, mem
		logger.Info("no CLICKHOUSE_DSN set, using in-memory audit store")
	}
	defer recorder.Close()

	// Postgres — policies, tenants, route bindings.
	var pgStore *store.Store
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, policy CRUD disabled")
	}

	var authn auth.Authenticator
	if pgStore != nil {
		authn = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			Store:    pgStore,
			CacheTTL: cfg.AuthCacheTTL,
			Logger:   logger,
		})
	} else {
		authn = auth.NewStaticAuthenticator()
		logger.Warn("static authenticator in use, all bsk_ keys accepted")
	}

	// Policy source — route bindings from Postgres with the file snapshot as
	// fallback, or the snapshot alone.
	var (
		source      gateway.PolicySource
		storeSource *gateway.StoreSource
	)
	if pgStore != nil {
		storeSource = gateway.NewStoreSource(pgStore, snap, logger)
		if err := storeSource.Refresh(ctx); err != nil {
			logger.Warn("initial route binding refresh failed", zap.Error(err))
		}
		source = storeSource
	} else {
		source = &gateway.SnapshotSource{Snap: snap}
	}

	var edgeClient *edge.Client
	if cfg.EdgeURL != "" {
		edgeClient = edge.NewClient(cfg.EdgeURL, 10*time.Second)
		logger.Info("edge sync enabled", zap.String("edge_url", cfg.EdgeURL))
	}

	gw := gateway.New(gateway.Config{
		BackendURL:     cfg.BackendURL,
		BackendTimeout: cfg.BackendTimeout,
		Retries:        cfg.BackendRetries,
		AuditFailOpen:  cfg.AuditFailOpen,
		Enabled:        cfg.FirewallEnabled,
	}, det, engine, source, recorder, logger)

	deps := &api.Dependencies{
		Store:   pgStore,
		Auth:    authn,
		Reader:  reader,
		Edge:    edgeClient,
		Source:  storeSource,
		Gateway: gw,
		Logger:  logger,
	}
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE stream writes indefinitely
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if storeSource != nil {
		g.Go(func() error {
			storeSource.RefreshLoop(ctx, cfg.RouteRefresh)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
	logger.Info("bastion gateway stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

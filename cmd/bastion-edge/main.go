package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/guardline-ai/bastion/internal/config"
	"github.com/guardline-ai/bastion/internal/edge"
	"github.com/guardline-ai/bastion/internal/policy"
)

func main() {
	cfg := config.Load()
	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting bastion edge node", zap.String("port", cfg.EdgePort))

	node := edge.NewNode(edge.NewMemoryKV())

	// Seed the node from the bootstrap policy file when configured, so it can
	// enforce before the first sync arrives.
	if cfg.PolicyFile != "" {
		p, err := policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			logger.Fatal("failed to load policy file",
				zap.String("path", cfg.PolicyFile), zap.Error(err))
		}
		if _, err := node.Sync(context.Background(), "edge:local", p, false); err != nil {
			logger.Fatal("failed to seed policy", zap.Error(err))
		}
		logger.Info("seed policy loaded", zap.String("policy_id", p.ID))
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.EdgePort,
		Handler:      edge.NewRouter(edge.NewHandler(node, logger)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("edge server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", zap.Error(err))
	}
	logger.Info("bastion edge node stopped")
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

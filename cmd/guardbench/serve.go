package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/guardbench/internal/api"
	"github.com/triage-ai/guardbench/internal/auth"
	"github.com/triage-ai/guardbench/internal/chread"
	"github.com/triage-ai/guardbench/internal/outcome"
	"github.com/triage-ai/guardbench/internal/server"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (and the gRPC classifier when GUARDBENCH_GRPC_PORT is set)",
	Long: `Serve screening, single-test evaluation, run history and result analytics
over HTTP on GUARDBENCH_HTTP_PORT.

Requests need a Bearer gbk_ API key when POSTGRES_DSN or
GUARDBENCH_API_KEY_HASH is set. When GUARDBENCH_GRPC_PORT is set the
configured evaluator is also exposed as a gRPC classifier, so other
guardbench instances can use it with GUARDRAILS_BACKEND=grpc.`,
	RunE: serve,
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	var cl closers
	defer func() {
		if err := cl.close(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	logger.Info("starting guardbench server",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("backend", cfg.Guardrails.Backend),
	)

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return err
	}
	gw, ev, err := buildGateway(ctx, cfg, awsCfg, &cl)
	if err != nil {
		return err
	}
	writer, err := buildWriter(ctx, cfg, &cl)
	if err != nil {
		return err
	}

	deps := &api.Dependencies{
		Gateway:    gw,
		Engine:     outcome.NewEngine(gw, writer, logger),
		Generators: map[string]outcome.Generator{},
		Logger:     logger,
	}
	if len(cfg.Generation.Models) > 0 {
		gens, err := buildGenerators(cfg, awsCfg, cfg.Generation.Models)
		if err != nil {
			return err
		}
		for _, g := range gens {
			deps.Generators[g.Model().ModelID] = g
		}
		deps.DefaultModel = cfg.Generation.Models[0]
	} else {
		logger.Info("no GENERATION_MODELS set, /v1/evaluate will reject every model")
	}

	// Postgres: run history and API keys
	st, db, err := openStore(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	if st != nil {
		deps.Runs = st
	} else {
		logger.Info("no POSTGRES_DSN set, run history will not be available")
	}

	switch {
	case db != nil:
		deps.Auth = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{DB: db, Logger: logger})
	case cfg.APIKeyHash != "":
		deps.Auth = auth.NewHashAuthenticator(cfg.APIKeyHash, "default", 0)
	default:
		logger.Warn("no API key source configured, authentication disabled")
	}

	// ClickHouse reader (for results/analytics endpoints)
	if cfg.ClickHouseDSN != "" {
		reader, err := chread.NewReader(ctx, cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			cl.add(reader.Close)
			deps.Reader = reader
			logger.Info("clickhouse reader connected")
		}
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var stopGRPC func()
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
		gs := server.NewGRPCServer(server.NewClassifierServer(ev, deps.Auth, logger))
		go func() {
			logger.Info("grpc classifier listening", zap.String("addr", lis.Addr().String()))
			if err := gs.Serve(lis); err != nil {
				errCh <- err
			}
		}()
		stopGRPC = gs.GracefulStop
	}

	// Block until shutdown signal or a listener fails
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		shutdown(httpServer, stopGRPC)
		return err
	}

	shutdown(httpServer, stopGRPC)
	logger.Info("guardbench server stopped")
	return nil
}

func shutdown(httpServer *http.Server, stopGRPC func()) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if stopGRPC != nil {
		stopGRPC()
	}
}

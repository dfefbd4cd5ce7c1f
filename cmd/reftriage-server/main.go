package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/triage-ai/reftriage/internal/api"
	"github.com/triage-ai/reftriage/internal/auth"
	"github.com/triage-ai/reftriage/internal/chread"
	"github.com/triage-ai/reftriage/internal/docstore"
	"github.com/triage-ai/reftriage/internal/engine"
	"github.com/triage-ai/reftriage/internal/rules"
	"github.com/triage-ai/reftriage/internal/server"
	"github.com/triage-ai/reftriage/internal/service"
	"github.com/triage-ai/reftriage/internal/storage"
	"github.com/triage-ai/reftriage/internal/store"
)

func main() {
	cfg := loadConfig()

	logger := mustBuildLogger(cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting reftriage server",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("grpc_port", cfg.GRPCPort),
		zap.Float64("score_floor", cfg.Precedence.Floor),
		zap.Float64("ambiguity_epsilon", cfg.Precedence.AmbiguityEpsilon),
	)

	// Rules: a table that fails to load never serves.
	table, err := rules.LoadFile(cfg.RulesPath)
	if err != nil {
		logger.Fatal("failed to load trigger table", zap.String("path", cfg.RulesPath), zap.Error(err))
	}
	summary := table.Summary()
	logger.Info("trigger table loaded",
		zap.String("version", summary.Version),
		zap.Int("rules", summary.Rules),
		zap.Int("contracts", summary.Contracts),
	)
	eng := engine.NewEngine(table, cfg.Precedence, logger)

	// Postgres: projects, API keys and the document store.
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

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pgStore = store.NewStore(db)
		if err := pgStore.Ping(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		if err := pgStore.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate postgres", zap.Error(err))
		}
		cancel()
		logger.Info("postgres connected")
	}

	// Auth: Postgres-backed keys, or a single static key for local use.
	var authenticator auth.Authenticator
	switch {
	case pgStore != nil:
		pgAuth := auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			Store:    pgStore,
			CacheTTL: cfg.AuthCacheTTL,
			Logger:   logger,
		})
		defer pgAuth.Wait()
		authenticator = pgAuth
	case cfg.StaticAPIKey != "":
		authenticator = auth.NewStaticAuthenticator(cfg.StaticAPIKey, auth.ProjectContext{ProjectID: "local", Name: "local"})
		logger.Info("no POSTGRES_DSN set, using static API key")
	default:
		logger.Fatal("one of POSTGRES_DSN or REFTRIAGE_API_KEY is required")
	}

	// Documents: a directory wins over Postgres when both are set.
	var docs docstore.Store
	switch {
	case cfg.DocsDir != "":
		docs = docstore.NewFileStore(cfg.DocsDir)
		logger.Info("serving documents from directory", zap.String("dir", cfg.DocsDir))
	case pgStore != nil:
		docs = pgStore
	default:
		logger.Info("no document store configured, include_content disabled")
	}
	if docs != nil && cfg.DocCacheTTL > 0 {
		cached := docstore.NewCachedStore(docs, cfg.DocCacheTTL, logger)
		defer cached.Wait()
		docs = cached
	}

	// Storage: ClickHouse or LogWriter fallback
	var writer storage.EventWriter
	if cfg.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// ClickHouse reader (for events/analytics HTTP endpoints)
	var reader api.EventReader
	if cfg.ClickHouseDSN != "" {
		chReader, err := chread.NewReader(cfg.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = chReader.Close() }()
			reader = chReader
			logger.Info("clickhouse reader connected")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	resolver := service.NewResolver(service.Config{
		Engine:  eng,
		Docs:    docs,
		Writer:  writer,
		Metrics: service.NewMetrics(registry),
		Limiter: service.NewRateLimiter(cfg.RateLimitRPS, cfg.RateBurst),
		Logger:  logger,
	})

	deps := &api.Dependencies{
		Resolver: resolver,
		Auth:     authenticator,
		Reader:   reader,
		Gatherer: registry,
		Logger:   logger,
	}
	if pgStore != nil {
		deps.Projects = pgStore
		deps.Docs = pgStore
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var grpcServer *grpc.Server
	var grpcLis net.Listener
	if cfg.GRPCPort != "" {
		grpcLis, err = net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			logger.Fatal("failed to listen for grpc", zap.String("port", cfg.GRPCPort), zap.Error(err))
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(server.LoggingInterceptor(logger)))
		server.RegisterResolverServiceServer(grpcServer, server.NewResolverServer(resolver, authenticator, logger))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("grpc server listening", zap.String("addr", grpcLis.Addr().String()))
			return grpcServer.Serve(grpcLis)
		})
	}

	// Block until shutdown signal or a listener failure.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1) //nolint:gocritic // exitAfterDefer: deferred closes are best-effort
	}
	logger.Info("reftriage server stopped")
}

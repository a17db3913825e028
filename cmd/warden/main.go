package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/wardenhq/warden/internal/adapter/advisor"
	wardenhttp "github.com/wardenhq/warden/internal/adapter/http"
	wardenmcp "github.com/wardenhq/warden/internal/adapter/mcp"
	wardennats "github.com/wardenhq/warden/internal/adapter/nats"
	"github.com/wardenhq/warden/internal/adapter/natskv"
	"github.com/wardenhq/warden/internal/adapter/otel"
	"github.com/wardenhq/warden/internal/adapter/postgres"
	"github.com/wardenhq/warden/internal/adapter/ristretto"
	"github.com/wardenhq/warden/internal/adapter/standards"
	"github.com/wardenhq/warden/internal/adapter/tiered"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/port/oracle"
	"github.com/wardenhq/warden/internal/resilience"
	"github.com/wardenhq/warden/internal/service"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLogs := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closeLogs.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"advisor_mock", cfg.Advisor.Mock,
		"debounce_window", cfg.Governance.DebounceWindow.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	queue, err := wardennats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()
	slog.Info("nats connected")

	// --- Standards cache: ristretto L1 over a JetStream KV L2 ---

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("l2 cache bucket: %w", err)
	}
	standardsCache := tiered.New(l1, natskv.New(kv), cfg.Standards.CacheTTL)

	// --- Outbound clients ---

	var orc oracle.Oracle
	if cfg.Advisor.Mock {
		orc = advisor.NewMock()
		slog.Warn("using mock reviewer oracle; every checkpoint will be approved")
	} else {
		client := advisor.NewClient(cfg.Advisor)
		client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
		orc = client
	}

	stdClient := standards.NewClient(cfg.Standards)
	stdClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	std := standards.NewCached(stdClient, standardsCache, cfg.Standards.CacheTTL, log)

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---

	store := postgres.NewStore(pool)
	holisticSvc := service.NewHolisticService(store, orc, std, queue, metrics, *cfg)
	checkpointSvc := service.NewCheckpointService(store, orc, std, queue, metrics, *cfg)
	governedSvc := service.NewGovernedService(store, holisticSvc, queue, metrics)
	gateSvc := service.NewGateService(store, holisticSvc, metrics)

	// --- HTTP ---

	handlers := &wardenhttp.Handlers{
		Checkpoints: checkpointSvc,
		Governed:    governedSvc,
		Holistic:    holisticSvc,
		Gate:        gateSvc,
	}

	r := chi.NewRouter()
	r.Use(wardenhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(wardenhttp.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(2 * time.Minute))
	r.Use(otel.HTTPMiddleware("warden"))

	r.Get("/health", healthHandler(pool))
	wardenhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Checkpoints block on the reviewer; the write timeout must outlast
		// the advisor timeout.
		WriteTimeout: cfg.Advisor.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- MCP ---

	var mcpSrv *wardenmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = wardenmcp.NewServer(
			wardenmcp.ServerConfig{Addr: cfg.MCP.Addr, Name: "warden", Version: version},
			wardenmcp.ServerDeps{
				Checkpoints: checkpointSvc,
				Status:      governedSvc,
				Gate:        gateSvc,
			},
		)
		if err := mcpSrv.Start(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if mcpSrv != nil {
			if err := mcpSrv.Stop(shutdownCtx); err != nil {
				slog.Warn("mcp shutdown failed", "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler reports liveness plus a live postgres ping.
func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "up"}

		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			status.Status = "degraded"
			status.Postgres = "down"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/paystream-keeper/internal/keeper"
	"github.com/angelmondragon/paystream-keeper/internal/ledger"
	"github.com/angelmondragon/paystream-keeper/pkg/chain"
	"github.com/angelmondragon/paystream-keeper/pkg/config"
	"github.com/angelmondragon/paystream-keeper/pkg/db"
	"github.com/angelmondragon/paystream-keeper/pkg/logger"
	"github.com/angelmondragon/paystream-keeper/pkg/metrics"
	"github.com/angelmondragon/paystream-keeper/pkg/migrate"
	"github.com/angelmondragon/paystream-keeper/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "keeper"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "keeper",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	store, cleanup, err := buildStore(context.Background(), cfg, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build ledger store", err)
		os.Exit(1)
	}
	defer cleanup()

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	operator, err := chain.NewOperator(context.Background(), cfg.Chain)
	if err != nil {
		logg.Error(context.Background(), "failed to connect to chain", err)
		os.Exit(1)
	}

	minBalance, err := cfg.Keeper.MinOperatorBalance()
	if err != nil {
		logg.Error(context.Background(), "invalid minimum balance", err)
		os.Exit(1)
	}

	keeperMetrics := metrics.NewKeeperMetrics(prometheus.DefaultRegisterer)

	healthJob, err := keeper.NewHealthJob(keeper.HealthJobParams{
		Logger:     logg,
		Store:      store,
		Redis:      redisClient,
		Chain:      operator,
		Metrics:    keeperMetrics,
		MinBalance: minBalance,
		Interval:   cfg.Keeper.HealthInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create health job", err)
		os.Exit(1)
	}

	executionJob, err := keeper.NewExecutionJob(keeper.ExecutionJobParams{
		Logger:  logg,
		Store:   store,
		Chain:   keeper.OperatorGateway{Operator: operator},
		Metrics: keeperMetrics,
		Fees: keeper.FeeRates{
			StandardBps: cfg.Keeper.StandardFeeBps,
			ProBps:      cfg.Keeper.ProFeeBps,
		},
		Gate: healthJob.Healthy,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create execution job", err)
		os.Exit(1)
	}

	lock, err := keeper.NewTickLock(redisClient, redisClient.LockKey("tick"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create tick lock", err)
		os.Exit(1)
	}

	// Health runs first so the execution gate sees a fresh verdict.
	service, err := keeper.NewService(keeper.ServiceParams{
		Logger:   logg,
		Registry: keeper.NewRegistry(healthJob, executionJob),
		Lock:     lock,
		Metrics:  keeperMetrics,
		Interval: cfg.Keeper.TickInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create keeper service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"ledger_mode": cfg.Ledger.Mode(),
		"operator":    operator.Address().Hex(),
	})

	httpServer := newOpsServer(cfg.App.Port, healthJob)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logg.Info(ctx, "starting keeper")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "keeper stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "keeper shutting down gracefully")
}

// buildStore selects the ledger backend. REST is the default; postgres
// runs the keeper directly against the ledger database.
func buildStore(ctx context.Context, cfg *config.Config, logg *logger.Logger) (ledger.Store, func(), error) {
	switch cfg.Ledger.Mode() {
	case config.LedgerModeREST:
		store, err := ledger.NewRESTStore(
			cfg.Ledger.BaseURL,
			cfg.Ledger.ServiceKey,
			ledger.WithRequestTimeout(cfg.Ledger.RequestTimeout),
		)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case config.LedgerModePostgres:
		dbClient, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return nil, nil, err
		}
		if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
			dbClient.Close()
			return nil, nil, err
		}
		repo, err := ledger.NewRepo(dbClient.DB())
		if err != nil {
			dbClient.Close()
			return nil, nil, err
		}
		cleanup := func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing database", err)
			}
		}
		return repo, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger mode %q", cfg.Ledger.Mode())
	}
}

func newOpsServer(port string, health *keeper.HealthJob) *http.Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !health.Healthy() {
			http.Error(w, "degraded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

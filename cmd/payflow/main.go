package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/payflow/payflow/internal/adapter/fsm"
	handler "github.com/payflow/payflow/internal/adapter/http"
	"github.com/payflow/payflow/internal/adapter/otel"
	riveradapter "github.com/payflow/payflow/internal/adapter/river"
	"github.com/payflow/payflow/internal/adapter/sqlite"
	"github.com/payflow/payflow/internal/app"
	"github.com/payflow/payflow/internal/config"
	"github.com/payflow/payflow/internal/provider"
	"github.com/payflow/payflow/internal/provider/mercantil"
	"github.com/payflow/payflow/internal/ratelimit"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Observability ---
	providers, err := otel.Setup(ctx, otel.Config{
		ServiceName:    "payflow",
		ServiceVersion: cfg.Otel.ServiceVersion,
		Environment:    cfg.Otel.Environment,
		Exporter:       cfg.Otel.Exporter,
		Insecure:       cfg.Otel.Environment == "development",
	})
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otel.OpenDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	store, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("preparing store: %w", err)
	}

	sessions := otel.NewTracingRepository(store.Sessions())

	bank := otel.NewTracingAdapter(mercantil.New(mercantil.Config{
		BaseURL:         cfg.Provider.BaseURL,
		CheckoutBaseURL: cfg.Provider.CheckoutBaseURL,
		MerchantID:      cfg.Provider.MerchantID,
		IntegratorID:    cfg.Provider.IntegratorID,
		TerminalID:      cfg.Provider.TerminalID,
		SecretKey:       cfg.Provider.SecretKey,
	}, logger))

	router, err := provider.NewRouter(bank)
	if err != nil {
		return fmt.Errorf("building provider router: %w", err)
	}

	// --- Application ---
	svc := app.NewSessionService(sessions, store.Merchants(), router, fsm.New(), logger)

	// --- Job queue ---
	jobs, err := riveradapter.Setup(ctx, db, svc)
	if err != nil {
		return fmt.Errorf("river setup: %w", err)
	}
	svc.SetReconcileScheduler(riveradapter.NewScheduler(jobs))

	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("starting river: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := jobs.Stop(stopCtx); err != nil {
			logger.Error("river shutdown", "error", err)
		}
	}()

	// --- Adapters (in) ---
	limiter := ratelimit.New(ratelimit.Config{
		Window: time.Duration(cfg.RateLimit.WindowMs) * time.Millisecond,
		Max:    cfg.RateLimit.Max,
	})

	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recoverer)
	mux.Use(otelchi.Middleware("payflow", otelchi.WithChiRoutes(mux)))

	api := humachi.New(mux, huma.DefaultConfig("payflow", "0.1.0"))
	handler.Register(api, svc, limiter)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("payflow listening", "port", cfg.Server.Port)
		logger.Info("api docs", "url", "http://localhost:"+cfg.Server.Port+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-done:
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}

	logger.Info("stopped")
	return nil
}

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/medbridge/claimsync/internal/config"
	"github.com/medbridge/claimsync/internal/draft"
	"github.com/medbridge/claimsync/internal/engine"
	"github.com/medbridge/claimsync/internal/hospital"
	"github.com/medbridge/claimsync/internal/insurer"
	"github.com/medbridge/claimsync/internal/server"
	"github.com/medbridge/claimsync/internal/storage"
	"github.com/medbridge/claimsync/internal/storage/memory"
	"github.com/medbridge/claimsync/internal/storage/sqlite"
	"github.com/medbridge/claimsync/internal/tariff"
	"github.com/medbridge/claimsync/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer("claimsync", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	persist, err := openStorage(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer persist.Close()

	interval, err := cfg.PollInterval()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	hospitalTimeout, err := cfg.HospitalTimeout()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	insurerTimeout, err := cfg.InsurerTimeout()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	hospitalClient := hospital.NewClient(cfg.Hospital.BaseURL,
		hospital.WithHTTPClient(&http.Client{Timeout: hospitalTimeout}))
	insurerClient := insurer.NewClient(cfg.Insurer.BaseURL,
		insurer.WithHTTPClient(&http.Client{Timeout: insurerTimeout}))

	store := engine.NewStore(persist,
		engine.WithTaxRate(cfg.Billing.TaxRate),
		engine.WithStoreLogger(logger),
	)
	poller := engine.NewPoller(store, insurerClient,
		engine.WithInterval(interval),
		engine.WithPollerLogger(logger),
	)
	coordinator := engine.NewCoordinator(store, hospitalClient,
		engine.WithActivator(poller),
		engine.WithLocalParser(draft.NewParser(tariff.Synthetic)),
		engine.WithTariff(tariff.Synthetic),
		engine.WithCoordinatorLogger(logger),
	)
	eng := engine.New(store, coordinator, poller,
		engine.WithOverrider(insurerClient),
		engine.WithLogger(logger),
	)
	defer eng.Close()

	if err := store.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load claims: %v", err)
	}
	// Pick polling back up for claims that were awaiting a decision when
	// the process last stopped.
	poller.Resume()

	srv := server.New(cfg.Server.Port, logger)
	server.NewHandlers(eng).Mount(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("claimsync started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Type),
		slog.String("hospital", cfg.Hospital.BaseURL),
		slog.String("insurer", cfg.Insurer.BaseURL),
		slog.Duration("poll_interval", interval),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("claimsync shutdown complete")
}

func openStorage(cfg *config.Config, logger *slog.Logger) (storage.ClaimStore, error) {
	switch cfg.Storage.Type {
	case "memory":
		logger.Warn("using in-memory storage, claims will not survive restarts")
		return memory.New(), nil
	default:
		return sqlite.New(cfg.Storage.SQLite.Path)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/remitwatch/kestrel/internal/api"
	"github.com/remitwatch/kestrel/internal/audit"
	"github.com/remitwatch/kestrel/internal/bus"
	"github.com/remitwatch/kestrel/internal/cache"
	"github.com/remitwatch/kestrel/internal/cases"
	"github.com/remitwatch/kestrel/internal/detector"
	"github.com/remitwatch/kestrel/internal/domain"
	"github.com/remitwatch/kestrel/internal/repository"
	"github.com/remitwatch/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load .env if present; real env vars win.
	_ = godotenv.Load()

	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := loadConfig()

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Audit sink: durable repository writes, mirrored to the bus for
	// downstream consumers.
	sink := audit.NewBusMirror(audit.NewRepoSink(repo), busImpl, logger)

	runner := detector.NewRunner(repo, cacheImpl, busImpl, cfg.Detectors, logger)
	slog.Info("detector runner initialized", "detectors", runner.Detectors())

	detectorWorker := worker.NewWorker(busImpl, runner, logger)
	if err := detectorWorker.Start(); err != nil {
		slog.Error("failed to start detector worker", "error", err)
		os.Exit(1)
	}
	slog.Info("detector worker started")

	caseManager := cases.NewManager(repo, sink, busImpl, logger)
	if err := caseManager.AttachGuards(cfg.Guards); err != nil {
		slog.Error("failed to attach case guards", "error", err)
		os.Exit(1)
	}

	srv, err := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, sink, caseManager, cfg.Guards, Version)
	if err != nil {
		slog.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so in-flight detector runs drain before the
	// repository closes.
	if err := detectorWorker.Stop(); err != nil {
		slog.Error("failed to stop detector worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadConfig builds the runtime configuration from tier defaults plus
// KESTREL_* environment overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if v := os.Getenv("KESTREL_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}

	// Extra lifecycle guards are supplied as a JSON file of CEL predicates.
	if path := os.Getenv("KESTREL_GUARDS_FILE"); path != "" {
		guards, err := loadGuards(path)
		if err != nil {
			slog.Error("failed to load guards file", "path", path, "error", err)
			os.Exit(1)
		}
		cfg.Guards = guards
		slog.Info("lifecycle guards loaded", "path", path, "count", len(guards))
	}

	return cfg
}

func loadGuards(path string) ([]domain.GuardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var guards []domain.GuardConfig
	if err := json.Unmarshal(data, &guards); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return guards, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║    Remittance Compliance Controls         ║")
	fmt.Println("  ║    Every transfer, accounted for.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /subjects                         - Register a subject")
	fmt.Println("    POST /subjects/{id}/kyc/submissions    - Submit verification documents")
	fmt.Println("    POST /subjects/{id}/kyc/review         - Review a verification")
	fmt.Println("    GET  /subjects/{id}/risk               - Risk score and identity matches")
	fmt.Println("    POST /transactions                     - Create a transfer")
	fmt.Println("    POST /transactions/{id}/transitions    - Move a transfer through its lifecycle")
	fmt.Println("    GET  /alerts                           - List detection alerts")
	fmt.Println("    POST /cases                            - Open an investigation case")
	fmt.Println("    GET  /cases/statistics                 - Case counts by status and severity")
	fmt.Println("    GET  /health                           - Health check")
	fmt.Println("    GET  /metrics                          - Prometheus metrics")
	fmt.Println()
}

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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/jediswimmer/ironcurtain-sub000/internal/arbiter"
	"github.com/jediswimmer/ironcurtain-sub000/internal/auth"
	"github.com/jediswimmer/ironcurtain-sub000/internal/config"
	"github.com/jediswimmer/ironcurtain-sub000/internal/matchmaker"
	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
	"github.com/jediswimmer/ironcurtain-sub000/internal/orders"
	"github.com/jediswimmer/ironcurtain-sub000/internal/ratelimit"
	"github.com/jediswimmer/ironcurtain-sub000/internal/server"
	"github.com/jediswimmer/ironcurtain-sub000/internal/sim"
	"github.com/jediswimmer/ironcurtain-sub000/internal/storage"
	"github.com/jediswimmer/ironcurtain-sub000/internal/telemetry"
	"github.com/jediswimmer/ironcurtain-sub000/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("IRONCURTAIN_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("ironcurtain starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// RunMigrations tracks applied files in schema_migrations and skips
	// duplicates, so errors here indicate real failures.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Matchmaker: faction history and queue outcomes persist through storage,
	// wait estimates come from the trailing hour of recorded outcomes.
	mm := matchmaker.New(matchmaker.Config{
		QueueTimeout:     cfg.QueueTimeout,
		InitialTolerance: cfg.InitialTolerance,
		WidenStep:        cfg.ToleranceStep,
		WidenInterval:    cfg.WidenInterval,
		MaxTolerance:     cfg.MaxTolerance,
		MapPool:          cfg.MapPool,
	}, db, waitOracle{db}, logger)

	// Arbiter registry: matches are provisioned on the external simulator and
	// feed played factions back into the matchmaker's rotation policy.
	simClient := sim.NewClient(cfg.SimulatorURL, cfg.SimulatorTimeout, logger)
	registry := arbiter.NewRegistry(arbiter.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		Retention:      cfg.MatchRetention,
		SimTimeout:     cfg.SimulatorTimeout,
		DeliverRetries: arbiter.DefaultConfig().DeliverRetries,
		Profile:        orders.ProfileByName(cfg.RateProfile),
		SpectatorCap:   cfg.SpectatorCap,
	}, db, mm, simClient, logger)

	limiter := ratelimit.NewMemoryLimiter(10, 30)
	defer func() { _ = limiter.Close() }()

	modes := make([]model.Mode, 0, len(cfg.Modes))
	for _, m := range cfg.Modes {
		modes = append(modes, model.Mode(m))
	}

	srv := server.New(server.ServerConfig{
		Store:               db,
		JWTMgr:              jwtMgr,
		Matchmaker:          mm,
		Registry:            registry,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Modes:               modes,
	})

	// Matchmaker sweep: widen tolerances, evict stale entries, and hand each
	// pairing to the arbiter.
	go matchLoop(ctx, mm, registry, logger, cfg.TickInterval)

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting HTTP first, then cancel matches that
	// are still running so both agents get a clean close frame.
	slog.Info("ironcurtain shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	registry.Shutdown()

	slog.Info("ironcurtain stopped")
	return nil
}

// matchLoop drives the matchmaker tick and creates a match for every pairing
// it emits. A pairing whose provisioning fails still produces a match record
// in the error state, so the agents learn their fate from queue status.
func matchLoop(ctx context.Context, mm *matchmaker.Matchmaker, registry *arbiter.Registry, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Provisioning is a simulator round trip per pairing; run them
			// concurrently so one slow provision does not stall the tick.
			var g errgroup.Group
			for _, pairing := range mm.Tick(ctx) {
				g.Go(func() error {
					m, err := registry.Create(ctx, pairing)
					if err != nil {
						logger.Error("match creation failed",
							"match_id", m.ID,
							"agent_a", pairing.A.AgentID,
							"agent_b", pairing.B.AgentID,
							"error", err)
					}
					return nil
				})
			}
			_ = g.Wait()
		}
	}
}

// waitOracle adapts storage's error-returning wait estimate to the
// matchmaker's optional-value contract.
type waitOracle struct {
	db *storage.DB
}

func (o waitOracle) EstimateWait(ctx context.Context, mode model.Mode) (time.Duration, bool) {
	d, err := o.db.EstimateWait(ctx, mode)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nukeshield/internal/analytics"
	"nukeshield/internal/bot"
	"nukeshield/internal/config"
	"nukeshield/internal/enforcement"
	"nukeshield/internal/engine"
	"nukeshield/internal/executor"
	"nukeshield/internal/metrics"
	"nukeshield/internal/modules/antinuke"
	"nukeshield/internal/modules/antiraid"
	"nukeshield/internal/modules/audit"
	"nukeshield/internal/playbook"
	"nukeshield/internal/policy"
	"nukeshield/internal/ratelimit"
	"nukeshield/internal/state"
	"nukeshield/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const retentionInterval = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store *storage.Store
	if cfg.Storage.DatabaseURL != "" {
		store, err = storage.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			logger.Fatal("storage init failed", zap.Error(err))
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	guilds := state.New(state.DefaultLogCapacity, time.Duration(cfg.Status.ThrottleMillis)*time.Millisecond)
	var sink audit.Sink
	var history analytics.History
	if store != nil {
		sink = store
		history = store
	}
	auditLogger := audit.NewLogger(guilds, sink, logger)
	playbookEngine := playbook.New(playbook.Config{
		QuietPeriod: time.Duration(cfg.Emergency.QuietMinutes) * time.Minute,
	}, auditLogger)

	botSvc, err := bot.New(cfg, logger)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	guard := ratelimit.New(cfg.RateGuard.Limit, time.Duration(cfg.RateGuard.WindowMillis)*time.Millisecond)
	exec := executor.New(executor.ConfigFrom(cfg), botSvc, guard, guilds, playbookEngine, auditLogger, m, logger)
	raid := antiraid.New(antiraid.Config{
		Joins:     cfg.Raid.Joins,
		Window:    time.Duration(cfg.Raid.WindowSeconds) * time.Second,
		Duration:  time.Duration(cfg.Raid.DurationMinutes) * time.Minute,
		AuditOnly: cfg.AuditOnly(),
	}, botSvc, guilds, playbookEngine, auditLogger, logger)

	eng := engine.New(engine.Config{
		SweepInterval:  time.Duration(cfg.Sweep.IntervalSeconds) * time.Second,
		CounterMaxAge:  time.Duration(cfg.Sweep.MaxAgeSeconds) * time.Second,
		StatusInterval: time.Duration(cfg.Sweep.StatusRefreshSeconds) * time.Second,
		ResolveWithin:  time.Duration(cfg.Resolver.StalenessSeconds) * time.Second,
	}, engine.Deps{
		Guilds:      guilds,
		Policy:      policy.New(policy.RulesFromConfig(cfg)),
		Nuke:        antinuke.New(cfg.Limits),
		Raid:        raid,
		Playbook:    playbookEngine,
		Executor:    exec,
		Enforcement: enforcement.New(guilds, exec, auditLogger, exec.MaxTimeout(), logger),
		Guard:       guard,
		Audit:       auditLogger,
		Analytics:   analytics.New(guilds, history),
		Metrics:     m,
		Platform:    botSvc,
		Resolver:    botSvc,
		Directory:   botSvc,
		Status:      botSvc,
		Notifier:    botSvc,
		Logger:      logger,
	})
	botSvc.SetEngine(eng, auditLogger)

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("mode", cfg.Mode), zap.String("preset", cfg.RulePreset))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx)
	})
	if store != nil {
		g.Go(func() error {
			return runRetention(gctx, store, cfg.Storage.RetentionDays, logger)
		})
	}

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown requested")
	case <-gctx.Done():
		logger.Warn("background task stopped", zap.Error(context.Cause(gctx)))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var errs error
	if server != nil {
		errs = multierr.Append(errs, server.Shutdown(shutdownCtx))
	}
	errs = multierr.Append(errs, botSvc.Close())
	errs = multierr.Append(errs, g.Wait())
	if errs != nil {
		logger.Error("shutdown", zap.Error(errs))
	}
}

// runRetention prunes exported activity entries once a day.
func runRetention(ctx context.Context, store *storage.Store, days int, logger *zap.Logger) error {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := store.CleanupAuditLogs(ctx, days)
			if err != nil {
				logger.Warn("audit retention failed", zap.Error(err))
				continue
			}
			logger.Info("audit retention", zap.Int64("removed", removed))
		}
	}
}

// Command conductord runs the agent orchestration daemon: the agent
// registry, the task manager, the cron scheduler, and the HTTP gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/conductor/internal/agent"
	"github.com/basket/conductor/internal/bus"
	"github.com/basket/conductor/internal/cache"
	"github.com/basket/conductor/internal/config"
	"github.com/basket/conductor/internal/cron"
	"github.com/basket/conductor/internal/gateway"
	"github.com/basket/conductor/internal/journal"
	otelPkg "github.com/basket/conductor/internal/otel"
	"github.com/basket/conductor/internal/task"
	"github.com/basket/conductor/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1.0"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	setCeiling := flag.Int("set-max-concurrent", 0, "write max_concurrent to config.yaml and exit")
	setDefaultAgent := flag.String("set-default-agent", "", "write default_agent to config.yaml and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println("conductord", Version)
		return
	}
	if *setCeiling > 0 || *setDefaultAgent != "" {
		home := config.HomeDir()
		if *setCeiling > 0 {
			if err := config.SetMaxConcurrent(home, *setCeiling); err != nil {
				fmt.Fprintln(os.Stderr, "update config:", err)
				os.Exit(1)
			}
			fmt.Printf("max_concurrent set to %d in %s\n", *setCeiling, config.ConfigPath(home))
		}
		if *setDefaultAgent != "" {
			if err := config.SetDefaultAgent(home, *setDefaultAgent); err != nil {
				fmt.Fprintln(os.Stderr, "update config:", err)
				os.Exit(1)
			}
			fmt.Printf("default_agent set to %s in %s\n", *setDefaultAgent, config.ConfigPath(home))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && len(cfg.AllowOrigins) == 0 {
			logger.Warn("allow_origins is empty on non-loopback bind; cross-origin browser connections will be rejected (same-origin only)", "bind_addr", cfg.BindAddr)
		}
	}

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Exporter: cfg.Otel.Exporter,
		Endpoint: cfg.Otel.Endpoint,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	// Redis when configured, in-process memory cache otherwise.
	var taskCache cache.Cache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			fatalStartup(logger, "E_REDIS_CONNECT", err)
		}
		taskCache = rc
		logger.Info("startup phase", "phase", "cache_connected", "backend", "redis", "addr", cfg.Redis.Addr)
	} else {
		taskCache = cache.NewMemory()
		logger.Info("startup phase", "phase", "cache_connected", "backend", "memory")
	}
	defer taskCache.Close()

	jnl, err := journal.Open(cfg.JournalPath())
	if err != nil {
		fatalStartup(logger, "E_JOURNAL_OPEN", err)
	}
	defer jnl.Close()
	logger.Info("startup phase", "phase", "journal_opened", "path", cfg.JournalPath())

	eventBus := bus.New()

	registry := agent.NewRegistry(cfg.DefaultAgent, logger)
	if err := agent.RegisterBuiltins(registry, agent.NewDemoToolkit()); err != nil {
		fatalStartup(logger, "E_AGENT_REGISTER", err)
	}
	logger.Info("startup phase", "phase", "agents_registered", "count", len(registry.List()))

	manager := task.New(registry, task.Config{
		MaxConcurrent:  cfg.MaxConcurrent,
		TaskTTL:        time.Duration(cfg.TaskTTLSeconds) * time.Second,
		WebhookTimeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		Bus:            eventBus,
		Cache:          taskCache,
		Journal:        jnl,
		Recorder:       otelPkg.NewTaskRecorder(metrics),
		Logger:         logger,
	})
	manager.Start(ctx)
	logger.Info("startup phase", "phase", "scheduler_started", "max_concurrent", cfg.MaxConcurrent)

	cronSched := cron.NewScheduler(cron.Config{Logger: logger})
	if err := cronSched.Add("stats", cfg.StatsSchedule, cron.PublishStats(manager, eventBus)); err != nil {
		fatalStartup(logger, "E_CRON_SCHEDULE", err)
	}
	if err := cronSched.Add("journal-retention", cfg.RetentionSchedule,
		cron.SweepJournal(jnl, cfg.RetentionTaskEventsDays, logger)); err != nil {
		fatalStartup(logger, "E_CRON_SCHEDULE", err)
	}
	for _, j := range []struct{ name, expr string }{
		{"stats", cfg.StatsSchedule},
		{"journal-retention", cfg.RetentionSchedule},
	} {
		if next, err := cron.NextRunTime(j.expr, time.Now()); err == nil {
			logger.Info("cron job scheduled", "job", j.name, "expr", j.expr, "next_run", next)
		}
	}
	cronSched.Start(ctx)
	defer cronSched.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		current := cfg
		for range watcher.Events() {
			fresh, err := config.Load()
			if err != nil {
				logger.Error("config reload failed", "error", err)
				continue
			}
			if fresh.Fingerprint() == current.Fingerprint() {
				continue
			}
			if fresh.DefaultAgent != current.DefaultAgent {
				registry.SetDefaultAgent(fresh.DefaultAgent)
			}
			// Concurrency, schedules, and bind address are fixed at
			// startup; flag the drift so operators know a restart applies
			// the rest.
			logger.Warn("config changed on disk; restart to apply non-live settings", "fingerprint", fresh.Fingerprint())
			current = fresh
		}
	}()

	gw := gateway.New(gateway.Config{
		Manager:           manager,
		Registry:          registry,
		Bus:               eventBus,
		Journal:           jnl,
		Logger:            logger,
		AllowOrigins:      cfg.AllowOrigins,
		ConfigFingerprint: cfg.Fingerprint(),
		Metrics:           metrics,
		Tracer:            otelProvider.Tracer,
	})

	handler := gateway.NewCORSMiddleware(cfg.AllowOrigins)(
		gateway.RequestSizeLimitMiddleware(1 << 20)(gw.Handler()))
	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: handler,
	}
	serverErr := make(chan error, 1)
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	// Stop intake first, then drain in-flight work with a bounded timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	drainTimeout := time.Duration(cfg.DrainTimeoutSeconds) * time.Second
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	manager.Drain(drainTimeout)
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"conductor","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

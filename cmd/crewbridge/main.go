package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/scheduler"
	"github.com/mtzanidakis/crewbridge/internal/store"
	"github.com/mtzanidakis/crewbridge/internal/telegram"
	"github.com/mtzanidakis/crewbridge/internal/tracing"
	"github.com/mtzanidakis/crewbridge/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("crewbridge %s\n", version)
		return
	case "gateway":
		err = runGateway()
	case "agents":
		err = runAgents(os.Stdout)
	case "workflows":
		err = runWorkflows(os.Stdout)
	case "run-agent":
		err = runAgent(os.Stdout, os.Args[2:])
	case "run-workflow":
		err = runWorkflow(os.Stdout, os.Args[2:])
	case "status":
		err = runStatus(os.Stdout)
	case "history":
		err = runHistory(os.Stdout, os.Args[2:])
	case "events":
		err = runEvents(os.Stdout, os.Args[2:])
	case "vault":
		err = runVault(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: crewbridge <command>

Commands:
  gateway                                 Start the HTTP API, scheduler, health monitor and bot
  agents                                  List configured agents
  workflows                               List configured workflows
  run-agent <name> <input> [--language <lang>] [--temperature <t>] [--max-iterations <n>]
  run-workflow <name> <input>             Run a workflow and print the result
  status                                  Probe every agent
  history [--kind <k>] [--target <name>] [--limit <n>] [--prune <age>]
  events [--topic <subject>]              Stream events from a running gateway
  vault <command>                         Manage encrypted secrets
  backup -f <file.tar.zst>                Back up the database
  restore -f <file.tar.zst> [-overwrite]  Restore the database
  version                                 Print version
`)
}

// setupLogging installs the configured slog handler as the default logger.
func setupLogging(cfg config.LogConfig, w io.Writer) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log, os.Stderr)
	return cfg, nil
}

func runGateway() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("starting crewbridge gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	events, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer events.Close()
	slog.Info("nats started", "port", bus.Port())

	a, err := newApp(cfg, db, events)
	if err != nil {
		return err
	}
	if err := a.registry.Sync(db); err != nil {
		return fmt.Errorf("sync agent registry: %w", err)
	}

	// Health monitor
	go a.monitor.Start(ctx)

	// Scheduler
	sched := scheduler.New(db, a.bridge, events, cfg.Schedules, cfg.Scheduler)
	if err := sched.Sync(); err != nil {
		return fmt.Errorf("sync schedules: %w", err)
	}
	go sched.Start(ctx)

	// Telegram bot
	if cfg.Telegram.Token != "" {
		bot, err := telegram.NewBot(cfg.Telegram, a.bridge, events)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// HTTP API
	if cfg.Web.Enabled {
		srv := web.NewServer(a.bridge, db, a.secrets, events, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
	return nil
}

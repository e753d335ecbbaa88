package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/clawd/pkg/clawd/config"
	"github.com/jholhewres/clawd/pkg/clawd/gateway"
	"github.com/jholhewres/clawd/pkg/clawd/queue"
	"github.com/jholhewres/clawd/pkg/clawd/scheduler"
	"github.com/jholhewres/clawd/pkg/clawd/sessions"
	"github.com/jholhewres/clawd/pkg/clawd/store"
	"github.com/jholhewres/clawd/pkg/clawd/subagents"
)

// newServeCmd creates the `clawd serve` command that starts the daemon.
func newServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway daemon",
		Long: `Start ClawD as a daemon: the WebSocket gateway, per-session work
lanes, the subagent registry, and the cron scheduler.

Examples:
  clawd serve
  clawd serve --config ./clawd.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}
}

func runServe(cmd *cobra.Command, version string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	logger := buildLogger(cmd, cfg)
	config.ResolveGatewayToken(cfg, logger)

	// ── Persistent state ──
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	runStore, err := subagents.NewFileStore(cfg.SubagentSnapshotPath())
	if err != nil {
		return fmt.Errorf("opening subagent snapshot: %w", err)
	}

	// ── Core components ──
	lanes := queue.NewManager(cfg.Queue, logger)
	registry := subagents.NewRegistry(runStore, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Gateway ──
	server := gateway.New(cfg.Gateway, gateway.ServerInfo{Name: cfg.Name, Version: version}, nil, logger)
	broadcaster := server.Broadcaster()

	// Message delivery goes out as gateway events; the agent host on the
	// other end of the control connection routes them to real channels.
	delivery := &eventDelivery{b: broadcaster}

	// Cron jobs admit through the lanes (session lane when the job has
	// session affinity, global otherwise) and surface as gateway events
	// for the agent host to act on.
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		cronHandler := func(jobCtx context.Context, job *scheduler.Job) (string, error) {
			fire := func(context.Context) error {
				broadcaster.Broadcast("cron.finished", map[string]string{
					"job":     job.ID,
					"command": job.Command,
					"session": job.Session,
				})
				return nil
			}
			var err error
			if job.Session != "" {
				key := sessions.Parse(job.Session)
				err = lanes.EnqueueSession(jobCtx, key.String(), fire)
			} else {
				err = lanes.EnqueueGlobal(jobCtx, fire)
			}
			if err != nil {
				return "", err
			}
			return "dispatched", nil
		}
		sched = scheduler.New(cfg.Scheduler, scheduler.NewSQLiteJobStorage(db), cronHandler, logger)
	}

	handlers := &gateway.Handlers{
		Queue:     lanes,
		Runs:      registry,
		Scheduler: sched,
		Delivery:  delivery,
		Logger:    logger,
	}
	server.SetMethods(handlers.Methods())
	server.SetFeatures(map[string]bool{
		"subagents": true,
		"cron":      cfg.Scheduler.Enabled,
	})
	server.SetSnapshotFunc(func(context.Context) any {
		return map[string]any{
			"lanes":     lanes.Stats(),
			"subagents": registry.List(),
		}
	})

	// ── Subagent lifecycle wiring ──
	registry.SetAnnounceFunc(func(run *subagents.RunRecord) {
		broadcaster.Broadcast("subagent.ended", run)
		if run.RequesterSessionKey != "" && run.Outcome != nil {
			text := fmt.Sprintf("Subagent run %s finished: %s", run.ID, run.Outcome.Status)
			if run.Outcome.Message != "" {
				text += ": " + run.Outcome.Message
			}
			if err := delivery.Deliver(ctx, run.RequesterSessionKey, text); err != nil {
				logger.Warn("failed to notify requester", "run", run.ID, "error", err)
			}
		}
	})
	registry.SetResumeHandlers(
		func(run *subagents.RunRecord) {
			// Re-arm the completion wait that was lost in the restart.
			go func() {
				if _, err := registry.Wait(run.ID, 30*time.Minute); err != nil {
					logger.Warn("resumed wait ended without outcome", "run", run.ID, "error", err)
				}
			}()
		},
		func(run *subagents.RunRecord) {
			lanes.CleanupSession(run.ChildSessionKey)
			if err := registry.MarkCleanupCompleted(run.ID); err != nil {
				logger.Warn("resumed cleanup failed", "run", run.ID, "error", err)
			}
		},
	)
	if err := registry.RestoreOnce(); err != nil {
		logger.Warn("failed to restore subagent runs", "error", err)
	}

	// ── Start everything ──
	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("clawd running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"address", cfg.Gateway.Address,
		"version", version,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		_ = server.Stop(shutdownCtx)
		cancelShutdown()
		if sched != nil {
			sched.Stop()
		}
		lanes.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// eventDelivery surfaces outbound messages as gateway events.
type eventDelivery struct {
	b *gateway.Broadcaster
}

func (d *eventDelivery) Deliver(_ context.Context, sessionKey, text string) error {
	d.b.Broadcast("chat.message", map[string]string{
		"session": sessionKey,
		"text":    text,
	})
	return nil
}

// resolveConfig loads config from an explicit path, discovery, or defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	return config.DefaultConfig(), nil
}

// buildLogger sets up slog: text on a terminal, JSON otherwise, unless the
// config forces a format.
func buildLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch {
	case verbose, cfg.Logging.Level == "debug":
		level = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		level = slog.LevelWarn
	case cfg.Logging.Level == "error":
		level = slog.LevelError
	}

	format := cfg.Logging.Format
	if format == "" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = "text"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"go.olrik.dev/warden/internal/api"
	"go.olrik.dev/warden/internal/core"
	"go.olrik.dev/warden/internal/db"
	"go.olrik.dev/warden/internal/portreclaim"
	"go.olrik.dev/warden/internal/runner"
	"go.olrik.dev/warden/internal/sessionlog"
	"go.olrik.dev/warden/internal/supervisor"
	"go.olrik.dev/warden/internal/telemetry"
)

func NewServeCommand() *cobra.Command {
	var noReclaim bool

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor in the foreground",
		Long: `Run the supervisor in the foreground.

Starts the backend and the frontend, serves the control API and dashboard,
and keeps everything running until interrupted with Ctrl+C.

Any process still listening on the control port or the backend port is
terminated first, unless --no-reclaim is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var reclaimer portreclaim.Reclaimer = portreclaim.NewGopsutil(0)
			if noReclaim {
				reclaimer = portreclaim.Noop{}
			}
			return serve(ctx, core.Config, reclaimer)
		},
	}
	serveCmd.Flags().BoolVar(&noReclaim, "no-reclaim", false, "do not terminate processes holding the ports")

	return serveCmd
}

// serve wires every component together and blocks until ctx is cancelled
func serve(ctx context.Context, cfg *core.Configuration, reclaimer portreclaim.Reclaimer) error {
	slog.Info("Starting warden", "version", core.FormatVersion(core.Version), "config", cfg.ConfigPath)

	logs := sessionlog.NewManager(sessionlog.Options{
		Dir:        cfg.Logs.Dir,
		BufferSize: cfg.Logs.BufferSize,
		Retention:  cfg.Logs.Retention,
		Logger:     slog.Default(),
	})
	if err := logs.Init(); err != nil {
		return fmt.Errorf("failed to initialize session logs: %w", err)
	}
	defer logs.Close()

	// The event store is optional; without it counts start at zero on every run
	var store *db.DB
	if database, err := db.Open(cfg.DatabasePath()); err != nil {
		slog.Error("Failed to open event database, continuing without it", "path", cfg.DatabasePath(), "error", err)
	} else {
		store = database
		defer store.Close()
	}

	portreclaim.ReclaimAll(ctx, reclaimer, portreclaim.DefaultTimeout, cfg.Port, cfg.AppPort)

	supOpts := supervisor.Options{
		Backend:  cfg.Backend,
		Frontend: cfg.Frontend,
		Restart:  cfg.Restart,
		Log:      logs,
	}
	if store != nil {
		supOpts.Events = store
	}
	sup := supervisor.New(supOpts)

	var counter telemetry.ItemCounter = telemetry.NoopCounter{}
	if len(cfg.Counter.Command) > 0 {
		counter = telemetry.CommandCounter{Argv: cfg.Counter.Command, Dir: cfg.Commands.ProjectDir}
	}
	counts := telemetry.NewPoller(counter)
	if err := counts.Refresh(ctx); err != nil {
		slog.Warn("Initial item count failed", "error", err)
	}

	scheduler := cron.New()
	if _, err := logs.ScheduleSweep(scheduler, cfg.Logs.SweepSchedule); err != nil {
		slog.Error("Invalid retention sweep schedule", "schedule", cfg.Logs.SweepSchedule, "error", err)
	}
	if len(cfg.Counter.Command) > 0 {
		if _, err := counts.Schedule(scheduler, cfg.Counter.Interval); err != nil {
			slog.Error("Failed to schedule item counts", "interval", cfg.Counter.Interval, "error", err)
		}
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	dashboard := api.NewDashboard(cfg.Dashboard)
	if err := dashboard.Watch(ctx); err != nil {
		slog.Warn("Dashboard changes will not be picked up", "path", cfg.Dashboard, "error", err)
	}

	apiOpts := api.Options{
		Supervisor: sup,
		Runner:     runner.New(cfg.Commands, logs),
		Logs:       logs,
		Counts:     counts,
		Dashboard:  dashboard,
		AppURL:     cfg.AppURL,
		Versions:   core.RuntimeVersions(),
	}
	if store != nil {
		apiOpts.Interactions = api.NewInteractionStats(store)
		apiOpts.Events = store
	}
	server := api.NewServer(apiOpts)

	if err := sup.Start(); err != nil {
		slog.Error("Failed to start processes", "error", err)
	}

	err := server.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Port))

	slog.Info("Shutting down")
	sup.Stop()
	logs.Flush()
	return err
}

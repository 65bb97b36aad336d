package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orientation-ops/lessonsync/internal/daemon"
	"github.com/orientation-ops/lessonsync/internal/dashboard"
	lessonsync "github.com/orientation-ops/lessonsync/internal/sync"
	"github.com/orientation-ops/lessonsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Sync every class on a fixed interval (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Sync every class immediately, then once per daemon.interval
  2. Run at most daemon.max_concurrent classes at a time, all sharing one
     rate limiter
  3. Reload the template whenever daemon.template_file changes

With --dashboard-port the WebSocket dashboard runs alongside and streams
every sync action.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("dashboard-port")
		if cmd.Flags().Changed("interval") {
			cfg.Daemon.Interval, _ = cmd.Flags().GetDuration("interval")
		}

		ctx, stop := signalContext()
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rs, err := newRemoteStack(st)
		if err != nil {
			return err
		}

		dcfg := &daemon.Config{
			Interval:      cfg.Daemon.Interval,
			MaxConcurrent: cfg.Daemon.MaxConcurrent,
			SyncTimeout:   cfg.Daemon.SyncTimeout,
			TemplateFile:  cfg.Daemon.TemplateFile,
			Logger:        newLogger("daemon"),
		}

		var listener lessonsync.Listener
		if port > 0 {
			server := dashboard.NewServer(&dashboard.Config{Port: port, Logger: newLogger("dashboard")})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()

			handler := dashboard.NewHandler(server, st, nil)
			listener = handler
			dcfg.AfterRound = func(ctx context.Context, _ []daemon.ClassResult) {
				_ = handler.BroadcastStats(ctx)
			}
			fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", port)
		}

		d, err := daemon.NewWithConfig(st, rs.engine(st, listener, false), dcfg)
		if err != nil {
			return err
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Store: %s\n", st.Path())
		fmt.Printf("   Interval: %s, workers: %d\n", cfg.Daemon.Interval, cfg.Daemon.MaxConcurrent)
		if cfg.Daemon.TemplateFile != "" {
			fmt.Printf("   Template: %s\n", cfg.Daemon.TemplateFile)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			return err
		}
		return nil
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve the WebSocket dashboard with periodic stats",
	Long: `Start a WebSocket dashboard server showing per-class lesson statistics.

WebSocket messages include:
- sync_action: one lesson created, updated or linked (from 'lsync daemon')
- sync_complete: a class pass finished
- stats: total, synced, unsynced and inactive lessons per class

This command only publishes stats, refreshed every --refresh. Run
'lsync daemon --dashboard-port' to stream sync activity as well.

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		refresh, _ := cmd.Flags().GetDuration("refresh")

		ctx, stop := signalContext()
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		server := dashboard.NewServer(&dashboard.Config{Port: port, Logger: newLogger("dashboard")})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		handler := dashboard.NewHandler(server, st, nil)

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		publishStats(ctx, handler, refresh)

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Dashboard server stopped")
		return nil
	},
}

// publishStats pushes class stats now and then every interval until ctx ends.
func publishStats(ctx context.Context, handler *dashboard.Handler, every time.Duration) {
	if every <= 0 {
		every = cfg.Daemon.Interval
	}
	logger := newLogger("dashboard")
	if err := handler.BroadcastStats(ctx); err != nil {
		logger.Printf("WARNING: stats refresh failed: %v", err)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := handler.BroadcastStats(ctx); err != nil {
				logger.Printf("WARNING: stats refresh failed: %v", err)
			}
		}
	}
}

func init() {
	daemonCmd.Flags().Int("dashboard-port", 0, "Also serve the dashboard on this port (0 = off)")
	daemonCmd.Flags().Duration("interval", 0, "Override daemon.interval")
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (overrides dashboard.port)")
	dashboardCmd.Flags().Duration("refresh", 0, "Stats refresh interval (default: daemon.interval)")
	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timetracker-dev/tt/internal/daemon"
	"github.com/timetracker-dev/tt/internal/dashboard"
	"github.com/timetracker-dev/tt/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep the queue draining in the background (foreground process)",
	Long: `Run the sync daemon.

The daemon:
  1. Probes the API and drains the queue when connectivity returns
  2. Wakes periodically to retry entries whose backoff has elapsed
  3. Watches the store file so entries queued by other tt processes
     sync without waiting for the next wake
  4. Optionally serves a live WebSocket dashboard

Only one daemon can run per store; a lock file enforces this. Use a
process manager to keep it running in production.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if cmd.Flags().Changed("dashboard") {
			cfg.Daemon.Dashboard, _ = cmd.Flags().GetBool("dashboard")
		}

		logger := daemon.NewLogger(cfg.Daemon.LogPath)
		eng, _, _ := openEngine(logger)
		defer eng.Close()

		d, err := daemon.New(eng, &daemon.Config{
			StorePath:        cfg.Storage.Path,
			DebounceInterval: cfg.Daemon.DebounceInterval.Std(),
			LogPath:          cfg.Daemon.LogPath,
			Logger:           logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			os.Exit(1)
		}

		var dash *dashboard.Server
		var bridge *dashboard.Bridge
		if cfg.Daemon.Dashboard {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:   cfg.Daemon.DashboardPort,
				Logger: logger,
			})
			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			bridge = dashboard.NewBridge(dash, eng.Events(), logger)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Store: %s\n", cfg.Storage.Path)
		fmt.Printf("   API: %s\n", cfg.API.BaseURL)
		if cfg.Daemon.Dashboard {
			fmt.Printf("   Dashboard: http://localhost:%d\n", cfg.Daemon.DashboardPort)
		}
		if cfg.Daemon.LogPath != "" {
			fmt.Printf("   Log: %s\n", cfg.Daemon.LogPath)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Start blocks until the context is cancelled.
		err = d.Start(ctx)

		if bridge != nil {
			bridge.Stop()
		}
		if dash != nil {
			if stopErr := dash.Stop(); stopErr != nil {
				logger.Printf("Error stopping dashboard: %v", stopErr)
			}
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Daemon stopped")
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "serve the live dashboard (overrides config)")
	rootCmd.AddCommand(daemonCmd)
}

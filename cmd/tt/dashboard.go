package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timetracker-dev/tt/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the real-time sync dashboard",
	Long: `Start a WebSocket dashboard server for watching sync activity live.

The server broadcasts engine events to connected clients:
- entry_queued: A new entry landed in the queue
- entry_synced: The server accepted an entry
- entry_failed: A delivery attempt failed
- entry_dropped: An entry was evicted after exhausting its attempts
- sync_started / sync_completed: Pass boundaries
- online / offline: Connectivity transitions

Example usage:
  tt dashboard                   # Start on default port 8080
  tt dashboard --port 9000       # Start on custom port

Connect with a WebSocket client:
  ws://localhost:8080/ws

The daemon serves the same dashboard when dashboard = true is set in
the config; this command is for watching a store the daemon is not
managing.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start dashboard: %v\n", err)
			os.Exit(1)
		}

		// Events only flow while an engine is watching connectivity.
		eng, _, _ := openEngine(nil)
		defer eng.Close()

		bridge := dashboard.NewBridge(server, eng.Events(), nil)
		if err := eng.StartMonitor(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting connectivity monitor: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		bridge.Stop()
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.AddCommand(dashboardCmd)
}

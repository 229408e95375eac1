package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/timetracker-dev/tt/internal/auth"
	"github.com/timetracker-dev/tt/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth, connectivity, and login state",
	Run: func(cmd *cobra.Command, args []string) {
		eng, store, cfg := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		stats, err := eng.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s TimeTracker Status\n\n", ui.RenderAccent("📊"))

		state := ui.RenderWarn("offline")
		if stats.Online {
			state = ui.RenderPass("online")
		}
		fmt.Printf("   Server:    %s (%s)\n", cfg.API.BaseURL, state)

		pending := fmt.Sprintf("%d", stats.PendingEntries)
		if stats.PendingEntries > 0 {
			pending = ui.RenderWarn(pending)
		}
		fmt.Printf("   Pending:   %s\n", pending)

		lastSync := ui.RenderDim("never")
		if stats.LastSync != nil {
			lastSync = stats.LastSync.Local().Format(time.RFC822)
		}
		fmt.Printf("   Last sync: %s\n", lastSync)

		if stats.Dropped > 0 {
			fmt.Printf("   Dropped:   %s\n", ui.RenderFail(fmt.Sprintf("%d", stats.Dropped)))
		}
		fmt.Printf("   Device:    %s\n", stats.DeviceID)

		token, err := auth.NewTokenStore(store).Token(ctx)
		switch {
		case errors.Is(err, auth.ErrNoToken):
			fmt.Printf("   Login:     %s\n", ui.RenderDim("not logged in"))
		case err != nil:
			fmt.Printf("   Login:     %s\n", ui.RenderWarn(fmt.Sprintf("unreadable (%v)", err)))
		case auth.Expired(token, time.Now()):
			fmt.Printf("   Login:     %s\n", ui.RenderWarn("token expired"))
		default:
			fmt.Printf("   Login:     %s\n", ui.RenderPass("logged in"))
		}

		if draft := loadDraft(ctx, eng); draft != nil {
			fmt.Printf("\n%s Tracking for %s\n",
				ui.RenderAccent("▶"), time.Since(draft.StartTime).Round(time.Minute))
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	tsync "github.com/timetracker-dev/tt/internal/sync"
	"github.com/timetracker-dev/tt/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued entries to the server now",
	Long: `Drain the pending queue immediately.

Every pending entry gets one delivery attempt in queue order, ignoring
retry backoff. Entries that fail a third time are dropped from the
queue for good.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, cfg := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("⇅"), cfg.API.BaseURL)

		res, err := eng.Sync(ctx)
		if err != nil {
			if errors.Is(err, tsync.ErrSyncInProgress) {
				fmt.Fprintf(os.Stderr, "Error: another sync is already running (daemon?)\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error syncing: %v\n", err)
			}
			os.Exit(1)
		}

		if res.Attempted() == 0 {
			fmt.Println("Nothing to sync")
			return
		}

		if res.Synced > 0 {
			fmt.Printf("   %s %d synced\n", ui.RenderPass("✓"), res.Synced)
		}
		// Failed counts the final attempts of dropped entries too; only
		// the rest are still in the queue.
		if retrying := res.Failed - res.Dropped; retrying > 0 {
			fmt.Printf("   %s %d failed %s\n", ui.RenderWarn("⚠"), retrying, ui.RenderDim("(will retry)"))
		}
		if res.Dropped > 0 {
			fmt.Printf("   %s %d dropped %s\n", ui.RenderFail("✗"), res.Dropped, ui.RenderDim("(attempts exhausted)"))
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

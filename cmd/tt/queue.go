package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/timetracker-dev/tt/internal/outbox"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the pending write queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries waiting to sync",
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")

		eng, _, _ := openEngine(nil)
		defer eng.Close()

		entries, err := eng.PendingEntries(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing queue: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			if err := printJSON(redactTokens(entries)); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		if len(entries) == 0 {
			fmt.Println("Queue is empty")
			return
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "Method", "Target", "Queued", "Attempts"})
		for _, e := range entries {
			tw.AppendRow(table.Row{
				e.ID,
				e.Method,
				e.TargetURL,
				e.Timestamp.Local().Format(time.DateTime),
				fmt.Sprintf("%d/%d", e.RetryCount, outbox.MaxAttempts),
			})
		}
		tw.Render()
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump the queue as YAML",
	Long: `Write the pending queue to stdout as YAML.

Useful for backing up unsynced work before wiping a store, or for
diagnosing entries stuck on retries. Auth tokens are omitted.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, _ := openEngine(nil)
		defer eng.Close()

		entries, err := eng.PendingEntries(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
			os.Exit(1)
		}

		data, err := yaml.Marshal(redactTokens(entries))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding queue: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
	},
}

// redactTokens copies entries with credentials stripped. Tokens never
// leave the store through the CLI.
func redactTokens(entries []*outbox.Entry) []*outbox.Entry {
	out := make([]*outbox.Entry, len(entries))
	for i, e := range entries {
		clean := *e
		clean.AuthToken = ""
		out[i] = &clean
	}
	return out
}

func init() {
	queueListCmd.Flags().Bool("json", false, "output as JSON")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueExportCmd)
	rootCmd.AddCommand(queueCmd)
}

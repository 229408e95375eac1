package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/timetracker-dev/tt/internal/engine"
	"github.com/timetracker-dev/tt/internal/schema"
	"github.com/timetracker-dev/tt/internal/summary"
	"github.com/timetracker-dev/tt/internal/ui"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize unsynced work with Claude",
	Long: `Generate a standup-style summary of the work still waiting to sync.

Reads the pending queue and the running entry, so it works entirely
offline except for the model call itself. Project names come from the
local cache when available.

Requires an Anthropic API key in TT_ANTHROPIC_API_KEY or
ANTHROPIC_API_KEY.`,
	Run: func(cmd *cobra.Command, args []string) {
		model, _ := cmd.Flags().GetString("model")

		apiKey := viper.GetString("anthropic-api-key")
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			fmt.Fprintf(os.Stderr, "Error: no API key; set TT_ANTHROPIC_API_KEY or ANTHROPIC_API_KEY\n")
			os.Exit(1)
		}

		eng, _, _ := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		entries := pendingTimeEntries(cmd, eng)
		if draft := loadDraft(ctx, eng); draft != nil {
			entries = append(entries, &schema.TimeEntry{
				ProjectID:   draft.ProjectID,
				TaskID:      draft.TaskID,
				StartTime:   draft.StartTime,
				Description: draft.Description,
			})
		}
		if len(entries) == 0 {
			fmt.Println("Nothing to summarize: queue is empty and no entry is running")
			return
		}

		projects, err := eng.CachedProjects(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading project cache: %v\n", err)
			os.Exit(1)
		}

		gen, err := summary.New(&summary.Config{APIKey: apiKey, Model: model})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Summarizing %d entries...\n\n", ui.RenderAccent("✨"), len(entries))
		text, err := gen.Standup(ctx, entries, projects)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating summary: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(text)
	},
}

// pendingTimeEntries decodes the time entries waiting in the queue.
// Queue payloads for other endpoints are skipped.
func pendingTimeEntries(cmd *cobra.Command, eng *engine.Engine) []*schema.TimeEntry {
	queued, err := eng.PendingEntries(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading queue: %v\n", err)
		os.Exit(1)
	}

	var entries []*schema.TimeEntry
	for _, q := range queued {
		if !strings.HasSuffix(q.TargetURL, engine.PathTimeEntries) {
			continue
		}
		var entry schema.TimeEntry
		if err := json.Unmarshal(q.Payload, &entry); err != nil {
			continue
		}
		if entry.StartTime.IsZero() {
			entry.StartTime = q.Timestamp
		}
		entries = append(entries, &entry)
	}
	return entries
}

func init() {
	summaryCmd.Flags().String("model", "", fmt.Sprintf("model to use (default %s)", summary.DefaultModel))
	rootCmd.AddCommand(summaryCmd)
}

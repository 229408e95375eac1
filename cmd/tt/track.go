package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/timetracker-dev/tt/internal/auth"
	"github.com/timetracker-dev/tt/internal/engine"
	"github.com/timetracker-dev/tt/internal/schema"
	"github.com/timetracker-dev/tt/internal/storage"
	"github.com/timetracker-dev/tt/internal/ui"
)

// runningEntryKey is the offline blob holding the in-progress entry.
const runningEntryKey = "running_entry"

// runningDraft is tracked locally until 'tt track stop' turns it into a
// queued time entry.
type runningDraft struct {
	ProjectID   int       `json:"project_id"`
	TaskID      int       `json:"task_id,omitempty"`
	StartTime   time.Time `json:"start_time"`
	Description string    `json:"description"`
}

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Record time entries",
}

var trackStartCmd = &cobra.Command{
	Use:   "start [description]",
	Short: "Start tracking time",
	Long: `Start a running time entry.

The entry lives only in the local store until 'tt track stop' completes
it and queues it for delivery. Times accept natural language:

  tt track start "fixing sync retries" --project 3
  tt track start standup --project 1 --at "10 minutes ago"`,
	Run: func(cmd *cobra.Command, args []string) {
		projectID, _ := cmd.Flags().GetInt("project")
		taskID, _ := cmd.Flags().GetInt("task")
		at, _ := cmd.Flags().GetString("at")

		if projectID <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --project is required\n")
			os.Exit(1)
		}

		eng, _, _ := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		if draft := loadDraft(ctx, eng); draft != nil {
			fmt.Fprintf(os.Stderr, "Error: already tracking since %s; run 'tt track stop' first\n",
				draft.StartTime.Local().Format("15:04"))
			os.Exit(1)
		}

		start := time.Now()
		if at != "" {
			start = parseWhen(at, time.Now())
			if start.IsZero() {
				fmt.Fprintf(os.Stderr, "Error: could not understand time %q\n", at)
				os.Exit(1)
			}
		}

		draft := runningDraft{
			ProjectID:   projectID,
			TaskID:      taskID,
			StartTime:   start.UTC(),
			Description: strings.Join(args, " "),
		}
		data, _ := json.Marshal(draft)
		if err := eng.StoreOfflineData(ctx, runningEntryKey, data); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving running entry: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Tracking started at %s\n", ui.RenderPass("✓"), start.Local().Format("15:04"))
		if draft.Description != "" {
			fmt.Printf("   %s\n", draft.Description)
		}
	},
}

var trackStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop tracking and queue the entry",
	Run: func(cmd *cobra.Command, args []string) {
		at, _ := cmd.Flags().GetString("at")

		eng, store, _ := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		draft := loadDraft(ctx, eng)
		if draft == nil {
			fmt.Fprintf(os.Stderr, "Error: no running entry; start one with 'tt track start'\n")
			os.Exit(1)
		}

		end := time.Now()
		if at != "" {
			end = parseWhen(at, time.Now())
			if end.IsZero() {
				fmt.Fprintf(os.Stderr, "Error: could not understand time %q\n", at)
				os.Exit(1)
			}
		}

		entry := schema.TimeEntry{
			ProjectID:   draft.ProjectID,
			TaskID:      draft.TaskID,
			StartTime:   draft.StartTime,
			Description: draft.Description,
		}
		endUTC := end.UTC()
		entry.EndTime = &endUTC

		id := queueEntry(ctx, eng, store, entry)
		if err := eng.DeleteOfflineData(ctx, runningEntryKey); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to clear running entry: %v\n", err)
		}

		fmt.Printf("%s Tracked %s (queued as %s)\n",
			ui.RenderPass("✓"), entry.Duration().Round(time.Minute), id)
		offlineHint(ctx, eng)
	},
}

var trackAddCmd = &cobra.Command{
	Use:   "add [description]",
	Short: "Queue a completed time entry",
	Long: `Queue a time entry with explicit start and end times.

  tt track add "code review" --project 2 --from "9am" --to "10:30"
  tt track add standup --project 1 --from "15 minutes ago"`,
	Run: func(cmd *cobra.Command, args []string) {
		projectID, _ := cmd.Flags().GetInt("project")
		taskID, _ := cmd.Flags().GetInt("task")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")

		if projectID <= 0 {
			fmt.Fprintf(os.Stderr, "Error: --project is required\n")
			os.Exit(1)
		}
		if from == "" {
			fmt.Fprintf(os.Stderr, "Error: --from is required\n")
			os.Exit(1)
		}
		start := parseWhen(from, time.Now())
		if start.IsZero() {
			fmt.Fprintf(os.Stderr, "Error: could not understand time %q\n", from)
			os.Exit(1)
		}
		end := time.Now()
		if to != "" {
			end = parseWhen(to, time.Now())
			if end.IsZero() {
				fmt.Fprintf(os.Stderr, "Error: could not understand time %q\n", to)
				os.Exit(1)
			}
		}

		eng, store, _ := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		entry := schema.TimeEntry{
			ProjectID:   projectID,
			TaskID:      taskID,
			StartTime:   start.UTC(),
			Description: strings.Join(args, " "),
		}
		endUTC := end.UTC()
		entry.EndTime = &endUTC

		id := queueEntry(ctx, eng, store, entry)
		fmt.Printf("%s Tracked %s (queued as %s)\n",
			ui.RenderPass("✓"), entry.Duration().Round(time.Minute), id)
		offlineHint(ctx, eng)
	},
}

var trackStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running entry, if any",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, _ := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		draft := loadDraft(ctx, eng)
		if draft == nil {
			fmt.Printf("%s Not tracking\n", ui.RenderDim("·"))
			return
		}
		elapsed := time.Since(draft.StartTime).Round(time.Minute)
		fmt.Printf("%s Tracking for %s (since %s)\n",
			ui.RenderAccent("▶"), elapsed, draft.StartTime.Local().Format("15:04"))
		if draft.Description != "" {
			fmt.Printf("   %s\n", draft.Description)
		}
	},
}

// queueEntry validates, serializes, and enqueues a time entry with the
// saved credential. Exits on any failure.
func queueEntry(ctx context.Context, eng *engine.Engine, store storage.Store, entry schema.TimeEntry) string {
	if err := entry.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	token, err := auth.NewTokenStore(store).Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			fmt.Fprintf(os.Stderr, "Error: not logged in; run 'tt login' first\n")
		} else {
			fmt.Fprintf(os.Stderr, "Error reading credentials: %v\n", err)
		}
		os.Exit(1)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding entry: %v\n", err)
		os.Exit(1)
	}

	id, err := eng.Enqueue(ctx, payload, token, eng.URL(engine.PathTimeEntries))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error queueing entry: %v\n", err)
		os.Exit(1)
	}
	return id
}

// loadDraft returns the running entry draft, or nil when none exists.
func loadDraft(ctx context.Context, eng *engine.Engine) *runningDraft {
	data, err := eng.GetOfflineData(ctx, runningEntryKey)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Error reading running entry: %v\n", err)
		os.Exit(1)
	}

	var draft runningDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil
	}
	return &draft
}

// offlineHint tells the user their entry is parked when the API is
// unreachable.
func offlineHint(ctx context.Context, eng *engine.Engine) {
	if !eng.Online(ctx) {
		fmt.Printf("   %s\n", ui.RenderDim("offline: entry will sync when connectivity returns"))
	}
}

// parseWhen reads natural-language times like "10 minutes ago" or
// "yesterday 5pm", falling back to RFC3339 and HH:MM forms. Returns the
// zero time when nothing matches.
func parseWhen(s string, base time.Time) time.Time {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	if r, err := w.Parse(s, base); err == nil && r != nil {
		return r.Time
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("15:04", s); err == nil {
		return time.Date(base.Year(), base.Month(), base.Day(), t.Hour(), t.Minute(), 0, 0, base.Location())
	}
	return time.Time{}
}

func init() {
	trackStartCmd.Flags().IntP("project", "p", 0, "project id")
	trackStartCmd.Flags().IntP("task", "t", 0, "task id")
	trackStartCmd.Flags().String("at", "", "start time (natural language)")
	trackStopCmd.Flags().String("at", "", "end time (natural language)")
	trackAddCmd.Flags().IntP("project", "p", 0, "project id")
	trackAddCmd.Flags().IntP("task", "t", 0, "task id")
	trackAddCmd.Flags().String("from", "", "start time (natural language)")
	trackAddCmd.Flags().String("to", "", "end time (defaults to now)")

	trackCmd.AddCommand(trackStartCmd)
	trackCmd.AddCommand(trackStopCmd)
	trackCmd.AddCommand(trackAddCmd)
	trackCmd.AddCommand(trackStatusCmd)
	rootCmd.AddCommand(trackCmd)
}

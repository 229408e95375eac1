package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/timetracker-dev/tt/internal/auth"
	"github.com/timetracker-dev/tt/internal/engine"
	"github.com/timetracker-dev/tt/internal/schema"
	"github.com/timetracker-dev/tt/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the offline project and task caches",
	Long: `Manage the local read caches.

Projects and tasks are cached as whole snapshots so pickers keep
working offline. Each refresh replaces the previous snapshot; there is
no per-row merging.`,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached projects and tasks",
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")

		eng, _, _ := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		projects, err := eng.CachedProjects(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading project cache: %v\n", err)
			os.Exit(1)
		}
		tasks, err := eng.CachedTasks(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading task cache: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			if err := printJSON(seedFile{Projects: projects, Tasks: tasks}); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		if len(projects) == 0 && len(tasks) == 0 {
			fmt.Println("Cache is empty; run 'tt cache pull' while online")
			return
		}

		if len(projects) > 0 {
			fmt.Printf("%s Projects\n", ui.RenderAccent("▪"))
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Active", "Color"})
			for _, p := range projects {
				tw.AppendRow(table.Row{p.ID, p.Name, p.IsActive, p.Color})
			}
			tw.Render()
		}

		if len(tasks) > 0 {
			fmt.Printf("%s Tasks\n", ui.RenderAccent("▪"))
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Project", "Title", "Status", "Priority"})
			for _, t := range tasks {
				tw.AppendRow(table.Row{t.ID, t.ProjectID, t.Title, t.Status, t.Priority})
			}
			tw.Render()
		}
	},
}

var cachePullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Refresh the caches from the server",
	Run: func(cmd *cobra.Command, args []string) {
		eng, store, cfg := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		token, err := auth.NewTokenStore(store).Token(ctx)
		if err != nil && !errors.Is(err, auth.ErrNoToken) {
			fmt.Fprintf(os.Stderr, "Error reading credentials: %v\n", err)
			os.Exit(1)
		}

		client := &http.Client{Timeout: cfg.Sync.RequestTimeout.Std()}

		var projects []*schema.Project
		if err := fetchJSON(ctx, client, eng.URL(engine.PathProjects), token, &projects); err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching projects: %v\n", err)
			os.Exit(1)
		}
		var tasks []*schema.Task
		if err := fetchJSON(ctx, client, eng.URL(engine.PathTasks), token, &tasks); err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching tasks: %v\n", err)
			os.Exit(1)
		}

		if err := eng.CacheProjects(ctx, projects); err != nil {
			fmt.Fprintf(os.Stderr, "Error caching projects: %v\n", err)
			os.Exit(1)
		}
		if err := eng.CacheTasks(ctx, tasks); err != nil {
			fmt.Fprintf(os.Stderr, "Error caching tasks: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Cached %d projects, %d tasks\n", ui.RenderPass("✓"), len(projects), len(tasks))
	},
}

var cacheSeedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load caches from a YAML file",
	Long: `Replace the caches with the contents of a YAML file.

Useful for provisioning a machine that has never been online:

  projects:
    - id: 1
      name: Platform
  tasks:
    - id: 10
      project_id: 1
      title: Fix retry backoff`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", args[0], err)
			os.Exit(1)
		}

		var seed seedFile
		if err := yaml.Unmarshal(data, &seed); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", args[0], err)
			os.Exit(1)
		}
		for _, p := range seed.Projects {
			p.SetDefaults()
			if err := p.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "Error in %s: %v\n", args[0], err)
				os.Exit(1)
			}
		}
		for _, t := range seed.Tasks {
			t.SetDefaults()
			if err := t.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "Error in %s: %v\n", args[0], err)
				os.Exit(1)
			}
		}

		eng, _, _ := openEngine(nil)
		defer eng.Close()
		ctx := cmd.Context()

		if err := eng.CacheProjects(ctx, seed.Projects); err != nil {
			fmt.Fprintf(os.Stderr, "Error caching projects: %v\n", err)
			os.Exit(1)
		}
		if err := eng.CacheTasks(ctx, seed.Tasks); err != nil {
			fmt.Fprintf(os.Stderr, "Error caching tasks: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Seeded %d projects, %d tasks\n", ui.RenderPass("✓"), len(seed.Projects), len(seed.Tasks))
	},
}

// seedFile is the shape of 'cache seed' input and 'cache show --json'
// output.
type seedFile struct {
	Projects []*schema.Project `json:"projects" yaml:"projects"`
	Tasks    []*schema.Task    `json:"tasks" yaml:"tasks"`
}

// fetchJSON GETs url and decodes the response body into out.
func fetchJSON(ctx context.Context, client *http.Client, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func init() {
	cacheShowCmd.Flags().Bool("json", false, "output as JSON")
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cachePullCmd)
	cacheCmd.AddCommand(cacheSeedCmd)
	rootCmd.AddCommand(cacheCmd)
}

// Package summary turns cached work history into prose using Claude.
//
// It reads only what the offline store already holds (time entries and
// project names), builds one prompt, and asks for a short standup-style
// narrative. Requires connectivity; offline callers should surface the
// error rather than queue the request, since a stale summary has no
// replay value.
package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/timetracker-dev/tt/internal/schema"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Config holds generator settings.
type Config struct {
	// APIKey authenticates against the Anthropic API. Required.
	APIKey string

	// Model overrides DefaultModel.
	Model string

	// MaxTokens bounds the response length. Defaults to 1024.
	MaxTokens int64
}

// Generator produces work summaries from time entries.
type Generator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// New creates a summary generator.
func New(cfg *Config) (*Generator, error) {
	if cfg == nil || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &Generator{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}, nil
}

// Standup narrates the given entries as a short standup update.
func (g *Generator) Standup(ctx context.Context, entries []*schema.TimeEntry, projects []*schema.Project) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("no time entries to summarize")
	}

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(entries, projects))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("model returned no text")
	}
	return out, nil
}

// buildPrompt renders entries oldest first with resolved project names,
// then asks for a grouped plain-prose update.
func buildPrompt(entries []*schema.TimeEntry, projects []*schema.Project) string {
	names := make(map[int]string, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
	}

	sorted := make([]*schema.TimeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	var sb strings.Builder
	sb.WriteString("Summarize the following time tracking entries as a short standup update. ")
	sb.WriteString("Group related work together, mention rough durations, and keep it under 120 words of plain prose.\n\n")

	for _, e := range sorted {
		project := names[e.ProjectID]
		if project == "" {
			project = fmt.Sprintf("project %d", e.ProjectID)
		}

		sb.WriteString("- ")
		sb.WriteString(e.StartTime.Format("2006-01-02 15:04"))
		if e.Running() {
			sb.WriteString(" (still running)")
		} else {
			sb.WriteString(fmt.Sprintf(" (%s)", e.Duration().Round(time.Minute)))
		}
		sb.WriteString(" [" + project + "]")
		if e.Description != "" {
			sb.WriteString(" " + e.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

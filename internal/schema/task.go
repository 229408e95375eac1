package schema

import (
	"fmt"
	"time"
)

// Task status values accepted by the API.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"
)

// Task priority values accepted by the API.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidStatus reports whether s is a recognized task status
func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// ValidPriority reports whether p is a recognized task priority
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Task represents a task as served by the TimeTracker API.
type Task struct {
	ID          int        `json:"id" yaml:"id"`
	ProjectID   int        `json:"project_id" yaml:"project_id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Status      string     `json:"status" yaml:"status"`
	Priority    string     `json:"priority" yaml:"priority"`
	Position    int        `json:"position" yaml:"position"`
	DueAt       *time.Time `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Validate checks if the Task has valid field values
func (t *Task) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("task id is required")
	}
	if t.ProjectID <= 0 {
		return fmt.Errorf("task project id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("task title is required")
	}
	if t.Status != "" && !ValidStatus(t.Status) {
		return fmt.Errorf("invalid task status: %s", t.Status)
	}
	if t.Priority != "" && !ValidPriority(t.Priority) {
		return fmt.Errorf("invalid task priority: %s", t.Priority)
	}
	return nil
}

// SetDefaults fills in zero-value fields with sensible defaults
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
}

// Completed reports whether the task reached a terminal status
func (t *Task) Completed() bool {
	return t.Status == StatusDone || t.Status == StatusCancelled
}

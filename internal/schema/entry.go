package schema

import (
	"fmt"
	"time"
)

// TimeEntry represents a tracked interval of work. Entries composed offline
// carry no ID; the server assigns one when the entry is accepted.
type TimeEntry struct {
	ID          int        `json:"id,omitempty" yaml:"id,omitempty"`
	ProjectID   int        `json:"project_id" yaml:"project_id"`
	TaskID      int        `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	StartTime   time.Time  `json:"start_time" yaml:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Running reports whether the entry is still open (no end time recorded)
func (e *TimeEntry) Running() bool {
	return e.EndTime == nil
}

// Duration returns the tracked interval length. Running entries are measured
// against the current clock.
func (e *TimeEntry) Duration() time.Duration {
	if e.EndTime == nil {
		return time.Since(e.StartTime)
	}
	return e.EndTime.Sub(e.StartTime)
}

// Validate checks if the TimeEntry has valid field values
func (e *TimeEntry) Validate() error {
	if e.ProjectID <= 0 {
		return fmt.Errorf("time entry project id is required")
	}
	if e.StartTime.IsZero() {
		return fmt.Errorf("time entry start time is required")
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return fmt.Errorf("time entry end time %s precedes start time %s",
			e.EndTime.Format(time.RFC3339), e.StartTime.Format(time.RFC3339))
	}
	return nil
}

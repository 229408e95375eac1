package schema

import (
	"strings"
	"testing"
	"time"
)

func TestProject_Validate(t *testing.T) {
	tests := []struct {
		name    string
		project Project
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid project",
			project: Project{ID: 1, Name: "Website Redesign", Color: "#3B82F6", IsActive: true},
			wantErr: false,
		},
		{
			name:    "missing id",
			project: Project{Name: "Website Redesign"},
			wantErr: true,
			errMsg:  "project id is required",
		},
		{
			name:    "missing name",
			project: Project{ID: 1},
			wantErr: true,
			errMsg:  "project name is required",
		},
		{
			name:    "name too long",
			project: Project{ID: 1, Name: strings.Repeat("x", 201)},
			wantErr: true,
			errMsg:  "project name too long",
		},
		{
			name:    "bad color",
			project: Project{ID: 1, Name: "P", Color: "blue"},
			wantErr: true,
			errMsg:  "invalid project color",
		},
		{
			name:    "empty color allowed",
			project: Project{ID: 1, Name: "P"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.project.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestProject_SetDefaults(t *testing.T) {
	p := Project{ID: 1, Name: "P"}
	p.SetDefaults()
	if p.Color != DefaultProjectColor {
		t.Errorf("SetDefaults() color = %q, want %q", p.Color, DefaultProjectColor)
	}

	p2 := Project{ID: 2, Name: "Q", Color: "#FF0000"}
	p2.SetDefaults()
	if p2.Color != "#FF0000" {
		t.Errorf("SetDefaults() overwrote explicit color: %q", p2.Color)
	}
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid task",
			task:    Task{ID: 7, ProjectID: 1, Title: "Write docs", Status: StatusTodo, Priority: PriorityNormal},
			wantErr: false,
		},
		{
			name:    "missing project id",
			task:    Task{ID: 7, Title: "Write docs"},
			wantErr: true,
			errMsg:  "task project id is required",
		},
		{
			name:    "missing title",
			task:    Task{ID: 7, ProjectID: 1},
			wantErr: true,
			errMsg:  "task title is required",
		},
		{
			name:    "bad status",
			task:    Task{ID: 7, ProjectID: 1, Title: "T", Status: "paused"},
			wantErr: true,
			errMsg:  "invalid task status",
		},
		{
			name:    "bad priority",
			task:    Task{ID: 7, ProjectID: 1, Title: "T", Priority: "critical"},
			wantErr: true,
			errMsg:  "invalid task priority",
		},
		{
			name:    "empty status and priority allowed",
			task:    Task{ID: 7, ProjectID: 1, Title: "T"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestTask_SetDefaults(t *testing.T) {
	task := Task{ID: 1, ProjectID: 1, Title: "T"}
	task.SetDefaults()
	if task.Status != StatusTodo {
		t.Errorf("SetDefaults() status = %q, want %q", task.Status, StatusTodo)
	}
	if task.Priority != PriorityNormal {
		t.Errorf("SetDefaults() priority = %q, want %q", task.Priority, PriorityNormal)
	}
}

func TestTask_Completed(t *testing.T) {
	for status, want := range map[string]bool{
		StatusTodo:       false,
		StatusInProgress: false,
		StatusDone:       true,
		StatusCancelled:  true,
	} {
		task := Task{Status: status}
		if got := task.Completed(); got != want {
			t.Errorf("Completed() with status %q = %v, want %v", status, got, want)
		}
	}
}

func TestTimeEntry_Validate(t *testing.T) {
	start := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	before := start.Add(-time.Minute)

	tests := []struct {
		name    string
		entry   TimeEntry
		wantErr bool
		errMsg  string
	}{
		{
			name:    "closed entry",
			entry:   TimeEntry{ProjectID: 1, StartTime: start, EndTime: &end, Description: "standup prep"},
			wantErr: false,
		},
		{
			name:    "running entry",
			entry:   TimeEntry{ProjectID: 1, StartTime: start},
			wantErr: false,
		},
		{
			name:    "missing project",
			entry:   TimeEntry{StartTime: start},
			wantErr: true,
			errMsg:  "time entry project id is required",
		},
		{
			name:    "missing start",
			entry:   TimeEntry{ProjectID: 1},
			wantErr: true,
			errMsg:  "time entry start time is required",
		},
		{
			name:    "end before start",
			entry:   TimeEntry{ProjectID: 1, StartTime: start, EndTime: &before},
			wantErr: true,
			errMsg:  "precedes start time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestTimeEntry_Duration(t *testing.T) {
	start := time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)

	closed := TimeEntry{ProjectID: 1, StartTime: start, EndTime: &end}
	if got := closed.Duration(); got != 90*time.Minute {
		t.Errorf("Duration() = %v, want %v", got, 90*time.Minute)
	}
	if closed.Running() {
		t.Error("Running() = true for closed entry")
	}

	open := TimeEntry{ProjectID: 1, StartTime: time.Now().Add(-time.Hour)}
	if !open.Running() {
		t.Error("Running() = false for open entry")
	}
	if got := open.Duration(); got < 59*time.Minute {
		t.Errorf("Duration() for running entry = %v, want about an hour", got)
	}
}

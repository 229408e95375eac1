package schema

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultProjectColor is assigned when a project has no explicit color.
const DefaultProjectColor = "#3B82F6"

var hexColorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Project represents a project as served by the TimeTracker API.
type Project struct {
	ID          int       `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Color       string    `json:"color,omitempty" yaml:"color,omitempty"`
	IsActive    bool      `json:"is_active" yaml:"is_active"`
	CreatedAt   time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Validate checks if the Project has valid field values
func (p *Project) Validate() error {
	if p.ID <= 0 {
		return fmt.Errorf("project id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if len(p.Name) > 200 {
		return fmt.Errorf("project name too long: %d characters (max 200)", len(p.Name))
	}
	if p.Color != "" && !hexColorRe.MatchString(p.Color) {
		return fmt.Errorf("invalid project color: %s (expected #RRGGBB)", p.Color)
	}
	return nil
}

// SetDefaults fills in zero-value fields with sensible defaults
func (p *Project) SetDefaults() {
	if p.Color == "" {
		p.Color = DefaultProjectColor
	}
}

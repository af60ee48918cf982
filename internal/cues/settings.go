package cues

import (
	"time"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

// Settings is the per-project settings document.
type Settings struct {
	Statuses  []registry.Entry `json:"statuses"`
	FrameRate string           `json:"fpsDefault"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	UpdatedBy string           `json:"updatedBy"`
}

// Clone copies the settings.
func (s Settings) Clone() Settings {
	copied := s
	copied.Statuses = append([]registry.Entry(nil), s.Statuses...)
	return copied
}

// ScheduleStatus is one entry of the schedule board palette.
type ScheduleStatus struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ScheduleBoard maps track ids to dated statuses ("YYYY-MM-DD" -> status name).
type ScheduleBoard struct {
	Statuses []ScheduleStatus             `json:"statuses"`
	Schedule map[string]map[string]string `json:"schedule"`
}

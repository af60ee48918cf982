package cues

import (
	"strings"
	"time"
)

// Filter selects rows for display. Query matches case-insensitively against the
// searchable columns and the latest director text; Status is exact.
type Filter struct {
	Query  string
	Status string
}

// Match reports whether row passes the filter.
func (f Filter) Match(row Row) bool {
	if f.Status != "" && row.Status != f.Status {
		return false
	}
	query := strings.ToLower(strings.TrimSpace(f.Query))
	if query == "" {
		return true
	}
	haystack := []string{
		row.Scene, row.Demo, row.Status, row.Len,
		LatestText(row.DirectorLog),
		row.Reference, row.In, row.Out,
	}
	for _, candidate := range haystack {
		if strings.Contains(strings.ToLower(candidate), query) {
			return true
		}
	}
	return false
}

// Apply filters rows in order.
func (f Filter) Apply(rows []Row) []Row {
	matched := make([]Row, 0, len(rows))
	for _, row := range rows {
		if f.Match(row) {
			matched = append(matched, row)
		}
	}
	return matched
}

// LatestChange reports the newest UpdatedAt across rows and the settings stamp.
func LatestChange(rows []Row, settingsUpdatedAt time.Time, settingsUpdatedBy string) (time.Time, string) {
	latestAt, latestBy := settingsUpdatedAt, settingsUpdatedBy
	for _, row := range rows {
		if row.UpdatedAt.After(latestAt) {
			latestAt, latestBy = row.UpdatedAt, row.UpdatedBy
		}
	}
	return latestAt, latestBy
}

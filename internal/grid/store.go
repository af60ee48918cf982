// Package grid holds a view's in-memory copy of the cue rows, the optimistic overlay
// for edits that have not echoed back yet, and the selection state.
package grid

import (
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

type pendingPatch struct {
	patch cues.RowPatch
	base  time.Time
}

// Store is the row model of one editor view. It is not safe for concurrent use.
type Store struct {
	rows      map[string]cues.Row
	pending   map[string]pendingPatch
	selection []string
	focused   string
	next      map[string]cues.NextSchedule
	loaded    bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		rows:    make(map[string]cues.Row),
		pending: make(map[string]pendingPatch),
		next:    make(map[string]cues.NextSchedule),
	}
}

// ReplaceAll installs a full snapshot. Overlays are dropped when their row vanished,
// carries a newer updatedAt, or already holds the overlaid values; selection and
// focus lose rows that no longer exist.
func (s *Store) ReplaceAll(rows []cues.Row) {
	replaced := make(map[string]cues.Row, len(rows))
	for _, row := range rows {
		replaced[row.ID] = row.Clone()
	}
	s.rows = replaced
	s.loaded = true

	for rowID, overlay := range s.pending {
		row, exists := replaced[rowID]
		if !exists || row.UpdatedAt.After(overlay.base) || overlay.patch.Matches(row) {
			delete(s.pending, rowID)
		}
	}

	kept := s.selection[:0]
	for _, rowID := range s.selection {
		if _, exists := replaced[rowID]; exists {
			kept = append(kept, rowID)
		}
	}
	s.selection = kept
	if _, exists := replaced[s.focused]; !exists {
		s.focused = ""
	}
}

// Loaded reports whether a snapshot has been installed.
func (s *Store) Loaded() bool {
	return s.loaded
}

// ApplyPatch merges an authoritative partial update into one row. It reports false
// when the row is unknown.
func (s *Store) ApplyPatch(rowID string, patch cues.RowPatch) bool {
	row, exists := s.rows[rowID]
	if !exists {
		return false
	}
	patch.Apply(&row)
	s.rows[rowID] = row
	return true
}

// ApplyOptimistic overlays a local edit on a row until the store echoes it back.
// Successive overlays on the same row accumulate.
func (s *Store) ApplyOptimistic(rowID string, patch cues.RowPatch) bool {
	row, exists := s.rows[rowID]
	if !exists {
		return false
	}
	overlay, ok := s.pending[rowID]
	if !ok {
		overlay = pendingPatch{patch: cues.RowPatch{}, base: row.UpdatedAt}
	}
	merged := overlay.patch.Clone()
	if merged.Fields == nil && len(patch.Fields) > 0 {
		merged.Fields = cues.FieldPatch{}
	}
	for field, value := range patch.Fields {
		merged.Fields[field] = value
	}
	for kind, entries := range patch.Logs {
		if merged.Logs == nil {
			merged.Logs = make(map[cues.LogKind][]cues.LogEntry)
		}
		merged.Logs[kind] = entries
	}
	overlay.patch = merged.Clone()
	s.pending[rowID] = overlay
	return true
}

// DiscardPending drops the overlays of the given rows.
func (s *Store) DiscardPending(rowIDs ...string) {
	for _, rowID := range rowIDs {
		delete(s.pending, rowID)
	}
}

// HasPending reports whether a row carries an unconfirmed overlay.
func (s *Store) HasPending(rowID string) bool {
	_, ok := s.pending[rowID]
	return ok
}

// Authoritative returns the row as last delivered by the store, without overlay.
func (s *Store) Authoritative(rowID string) (cues.Row, bool) {
	row, ok := s.rows[rowID]
	if !ok {
		return cues.Row{}, false
	}
	return row.Clone(), true
}

// Get returns the row as displayed: authoritative state, overlay and next schedule.
func (s *Store) Get(rowID string) (cues.Row, bool) {
	row, ok := s.rows[rowID]
	if !ok {
		return cues.Row{}, false
	}
	return s.render(row), true
}

// All returns every displayed row ordered by m.
func (s *Store) All() []cues.Row {
	rows := make([]cues.Row, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, s.render(row))
	}
	sort.SliceStable(rows, func(left, right int) bool {
		return cues.Less(rows[left], rows[right])
	})
	return rows
}

// Len reports the row count.
func (s *Store) Len() int {
	return len(s.rows)
}

// Filter returns the displayed rows that match filter.
func (s *Store) Filter(filter cues.Filter) []cues.Row {
	return filter.Apply(s.All())
}

// NextM returns the marker for a new row.
func (s *Store) NextM() string {
	rows := make([]cues.Row, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	return cues.NextOrdinal(rows)
}

// SetNextSchedule replaces the next-schedule marks merged at render time.
func (s *Store) SetNextSchedule(next map[string]cues.NextSchedule) {
	s.next = make(map[string]cues.NextSchedule, len(next))
	for rowID, mark := range next {
		s.next[rowID] = mark
	}
}

func (s *Store) render(row cues.Row) cues.Row {
	rendered := row.Clone()
	if overlay, ok := s.pending[row.ID]; ok {
		overlay.patch.Apply(&rendered)
	}
	rendered.Next = nil
	if mark, ok := s.next[row.ID]; ok {
		copied := mark
		rendered.Next = &copied
	}
	return rendered
}

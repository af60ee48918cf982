package grid

import (
	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

// Select marks a row as selected. Without additive the selection is replaced. The
// selected row also becomes the inspector focus.
func (s *Store) Select(rowID string, additive bool) bool {
	if _, exists := s.rows[rowID]; !exists {
		return false
	}
	if !additive {
		s.selection = s.selection[:0]
	}
	if !s.IsSelected(rowID) {
		s.selection = append(s.selection, rowID)
	}
	s.focused = rowID
	return true
}

// Deselect removes a row from the selection. Focus moves to the last remaining
// selected row.
func (s *Store) Deselect(rowID string) {
	kept := s.selection[:0]
	for _, selected := range s.selection {
		if selected != rowID {
			kept = append(kept, selected)
		}
	}
	s.selection = kept
	if s.focused == rowID {
		s.focused = ""
		if len(s.selection) > 0 {
			s.focused = s.selection[len(s.selection)-1]
		}
	}
}

// ClearSelection empties the selection and the focus.
func (s *Store) ClearSelection() {
	s.selection = s.selection[:0]
	s.focused = ""
}

// IsSelected reports whether rowID is selected.
func (s *Store) IsSelected(rowID string) bool {
	for _, selected := range s.selection {
		if selected == rowID {
			return true
		}
	}
	return false
}

// SelectedIDs returns the selected row ids in selection order.
func (s *Store) SelectedIDs() []string {
	return append([]string(nil), s.selection...)
}

// Selected returns the displayed selected rows in selection order.
func (s *Store) Selected() []cues.Row {
	rows := make([]cues.Row, 0, len(s.selection))
	for _, rowID := range s.selection {
		if row, ok := s.Get(rowID); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// Focus sets the inspector row without touching the multi-selection.
func (s *Store) Focus(rowID string) bool {
	if _, exists := s.rows[rowID]; !exists {
		return false
	}
	s.focused = rowID
	return true
}

// Focused returns the inspector row.
func (s *Store) Focused() (cues.Row, bool) {
	if s.focused == "" {
		return cues.Row{}, false
	}
	return s.Get(s.focused)
}

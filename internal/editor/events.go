package editor

import (
	"github.com/MarcoPoloResearchLab/cuesheet/internal/bridge"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

// Event is a typed domain event accepted by Session.Dispatch. UI layers translate
// their raw callbacks into these.
type Event interface {
	eventName() string
}

// CellEditRequested is a committed in-place cell change.
type CellEditRequested struct {
	RowID    string
	Field    cues.Field
	NewValue string
	OldValue string
}

// RowsReordered carries the complete new visual order of the rows.
type RowsReordered struct {
	RowIDs []string
}

// RemoteSelectionReceived is a message from the schedule board.
type RemoteSelectionReceived struct {
	Message bridge.Message
}

// RowSelected selects a row. Additive extends the multi-selection.
type RowSelected struct {
	RowID    string
	Additive bool
}

// RowDeselected removes a row from the selection.
type RowDeselected struct {
	RowID string
}

// SelectionCleared empties the selection.
type SelectionCleared struct{}

// UndoRequested reverts the most recent undoable unit.
type UndoRequested struct{}

// RowAddRequested appends a new row.
type RowAddRequested struct{}

// RowsDeleteRequested deletes the selected rows, or the focused row.
type RowsDeleteRequested struct {
	Confirmed bool
}

// LogAppendRequested appends an entry to a row log.
type LogAppendRequested struct {
	RowID string
	Kind  cues.LogKind
	Text  string
}

// LogArchiveRequested archives, or with Restore un-archives, the entry at ViewIndex
// of the log view the user sees.
type LogArchiveRequested struct {
	RowID        string
	Kind         cues.LogKind
	ViewIndex    int
	ShowArchived bool
	Restore      bool
}

// LogDeleteRequested hard-deletes the entry at ViewIndex.
type LogDeleteRequested struct {
	RowID        string
	Kind         cues.LogKind
	ViewIndex    int
	ShowArchived bool
	Confirmed    bool
}

// BulkModeToggled switches bulk propagation of edits.
type BulkModeToggled struct {
	Enabled bool
}

// GuestSimulationToggled switches the admin-only limited-role preview.
type GuestSimulationToggled struct {
	Enabled bool
}

// StatusesSaveRequested replaces the project status registry.
type StatusesSaveRequested struct {
	Statuses []registry.Entry
}

// FrameRateChanged sets the project frame rate.
type FrameRateChanged struct {
	FrameRate string
}

// InspectorSaveRequested writes the detail panel fields to the focused row, or
// creates a row when nothing is focused.
type InspectorSaveRequested struct {
	Fields cues.FieldPatch
}

// SnapshotReceived installs an authoritative snapshot from the store.
type SnapshotReceived struct {
	Snapshot docstore.Snapshot
}

func (CellEditRequested) eventName() string       { return "cell_edit" }
func (RowsReordered) eventName() string           { return "rows_reordered" }
func (RemoteSelectionReceived) eventName() string { return "remote_selection" }
func (RowSelected) eventName() string             { return "row_select" }
func (RowDeselected) eventName() string           { return "row_deselect" }
func (SelectionCleared) eventName() string        { return "selection_clear" }
func (UndoRequested) eventName() string           { return "undo" }
func (RowAddRequested) eventName() string         { return "row_add" }
func (RowsDeleteRequested) eventName() string     { return "rows_delete" }
func (LogAppendRequested) eventName() string      { return "log_append" }
func (LogArchiveRequested) eventName() string     { return "log_archive" }
func (LogDeleteRequested) eventName() string      { return "log_delete" }
func (BulkModeToggled) eventName() string         { return "bulk_mode" }
func (GuestSimulationToggled) eventName() string  { return "guest_simulation" }
func (StatusesSaveRequested) eventName() string   { return "statuses_save" }
func (FrameRateChanged) eventName() string        { return "frame_rate" }
func (InspectorSaveRequested) eventName() string  { return "inspector_save" }
func (SnapshotReceived) eventName() string        { return "snapshot" }

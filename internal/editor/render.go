package editor

import (
	"time"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/references"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

// RowView is a displayed row with its resolved tags and log previews.
type RowView struct {
	cues.Row
	StatusTag       registry.Tag `json:"statusTag"`
	LenTag          registry.Tag `json:"lenTag"`
	DirectorPreview string       `json:"directorPreview"`
	CommentPreview  string       `json:"commentPreview"`
	Selected        bool         `json:"selected"`
	Pending         bool         `json:"pending"`
}

// State is a read-only picture of the session for rendering.
type State struct {
	Rows            []RowView        `json:"rows"`
	Settings        cues.Settings    `json:"settings"`
	Lengths         []registry.Entry `json:"lengths"`
	BulkMode        bool             `json:"bulkMode"`
	GuestSimulation bool             `json:"guestSimulation"`
	FullAccess      bool             `json:"fullAccess"`
	Admin           bool             `json:"admin"`
	UndoDepth       int              `json:"undoDepth"`
	LatestChangeAt  time.Time        `json:"latestChangeAt"`
	LatestChangeBy  string           `json:"latestChangeBy"`
}

// Inspector is the detail panel for the focused row.
type Inspector struct {
	Row            *RowView          `json:"row,omitempty"`
	EditableFields []cues.Field      `json:"editableFields"`
	CanCreate      bool              `json:"canCreate"`
	Links          []references.Link `json:"links"`
	SelectedCount  int               `json:"selectedCount"`
}

// State returns the filtered rows and session flags.
func (s *Session) State(filter cues.Filter) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	gate := s.gate()
	all := s.rows.All()
	latestAt, latestBy := cues.LatestChange(all, s.settings.UpdatedAt, s.settings.UpdatedBy)
	filtered := filter.Apply(all)
	views := make([]RowView, 0, len(filtered))
	for _, row := range filtered {
		views = append(views, s.renderRow(row))
	}
	admin := s.actor != nil && s.actor.Admin
	return State{
		Rows:            views,
		Settings:        s.settings.Clone(),
		Lengths:         s.lengths.Entries(),
		BulkMode:        s.effectiveBulkMode(),
		GuestSimulation: s.guestSimulation,
		FullAccess:      gate.FullAccess(),
		Admin:           admin,
		UndoDepth:       s.history.Len(),
		LatestChangeAt:  latestAt,
		LatestChangeBy:  cues.FormatByName(latestBy),
	}
}

// Inspector returns the detail panel state.
func (s *Session) Inspector() Inspector {
	s.mu.Lock()
	defer s.mu.Unlock()

	gate := s.gate()
	editable := make([]cues.Field, 0, len(inspectorFields))
	for _, field := range inspectorFields {
		if gate.CanEditField(field) {
			editable = append(editable, field)
		}
	}
	inspector := Inspector{
		EditableFields: editable,
		CanCreate:      gate.CanEditAll(),
		Links:          []references.Link{},
		SelectedCount:  len(s.rows.SelectedIDs()),
	}
	if focused, ok := s.rows.Focused(); ok {
		view := s.renderRow(focused)
		inspector.Row = &view
		inspector.Links = references.Links(focused.Reference, references.PreviewLimit)
	}
	return inspector
}

func (s *Session) renderRow(row cues.Row) RowView {
	return RowView{
		Row:             row,
		StatusTag:       s.statuses.Resolve(row.Status),
		LenTag:          s.lengths.Resolve(row.Len),
		DirectorPreview: cues.Preview(cues.LatestText(row.DirectorLog), cues.PreviewLength),
		CommentPreview:  cues.Preview(cues.LatestText(row.CommentLog), cues.PreviewLength),
		Selected:        s.rows.IsSelected(row.ID),
		Pending:         s.rows.HasPending(row.ID),
	}
}

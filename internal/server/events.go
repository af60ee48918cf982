package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/bridge"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/editor"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

var errUnknownEventType = errors.New("unknown event type")

// eventRequest is the wire form of a view event. Only the fields of the named type
// are read.
type eventRequest struct {
	Type         string            `json:"type"`
	RowID        string            `json:"row_id"`
	RowIDs       []string          `json:"row_ids"`
	Field        string            `json:"field"`
	Value        string            `json:"value"`
	OldValue     string            `json:"old_value"`
	Additive     bool              `json:"additive"`
	Confirmed    bool              `json:"confirmed"`
	Enabled      bool              `json:"enabled"`
	Kind         string            `json:"kind"`
	Text         string            `json:"text"`
	Index        int               `json:"index"`
	ShowArchived bool              `json:"show_archived"`
	Restore      bool              `json:"restore"`
	Statuses     []registry.Entry  `json:"statuses"`
	FrameRate    string            `json:"frame_rate"`
	Fields       map[string]string `json:"fields"`
	Message      json.RawMessage   `json:"message"`
}

func (r eventRequest) toEvent() (editor.Event, error) {
	switch r.Type {
	case "cell_edit":
		field, err := cues.ParseField(r.Field)
		if err != nil {
			return nil, err
		}
		return editor.CellEditRequested{RowID: r.RowID, Field: field, NewValue: r.Value, OldValue: r.OldValue}, nil
	case "rows_reordered":
		return editor.RowsReordered{RowIDs: r.RowIDs}, nil
	case "remote_selection":
		message, err := bridge.Decode(r.Message)
		if err != nil {
			return nil, err
		}
		return editor.RemoteSelectionReceived{Message: message}, nil
	case "row_select":
		return editor.RowSelected{RowID: r.RowID, Additive: r.Additive}, nil
	case "row_deselect":
		return editor.RowDeselected{RowID: r.RowID}, nil
	case "selection_clear":
		return editor.SelectionCleared{}, nil
	case "undo":
		return editor.UndoRequested{}, nil
	case "row_add":
		return editor.RowAddRequested{}, nil
	case "rows_delete":
		return editor.RowsDeleteRequested{Confirmed: r.Confirmed}, nil
	case "log_append", "log_archive", "log_delete":
		kind, err := cues.ParseLogKind(r.Kind)
		if err != nil {
			return nil, err
		}
		switch r.Type {
		case "log_append":
			return editor.LogAppendRequested{RowID: r.RowID, Kind: kind, Text: r.Text}, nil
		case "log_archive":
			return editor.LogArchiveRequested{RowID: r.RowID, Kind: kind, ViewIndex: r.Index, ShowArchived: r.ShowArchived, Restore: r.Restore}, nil
		default:
			return editor.LogDeleteRequested{RowID: r.RowID, Kind: kind, ViewIndex: r.Index, ShowArchived: r.ShowArchived, Confirmed: r.Confirmed}, nil
		}
	case "bulk_mode":
		return editor.BulkModeToggled{Enabled: r.Enabled}, nil
	case "guest_simulation":
		return editor.GuestSimulationToggled{Enabled: r.Enabled}, nil
	case "statuses_save":
		return editor.StatusesSaveRequested{Statuses: r.Statuses}, nil
	case "frame_rate":
		return editor.FrameRateChanged{FrameRate: r.FrameRate}, nil
	case "inspector_save":
		fields := make(cues.FieldPatch, len(r.Fields))
		for raw, value := range r.Fields {
			field, err := cues.ParseField(raw)
			if err != nil {
				return nil, err
			}
			fields[field] = value
		}
		return editor.InspectorSaveRequested{Fields: fields}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEventType, r.Type)
	}
}

type outcomeResponse struct {
	Status string   `json:"status"`
	Notice string   `json:"notice,omitempty"`
	RowIDs []string `json:"row_ids,omitempty"`
	Error  string   `json:"error,omitempty"`
}

var outcomeErrorCodes = []struct {
	err  error
	code string
}{
	{editor.ErrNotSignedIn, "not_signed_in"},
	{editor.ErrPermissionDenied, "permission_denied"},
	{editor.ErrFieldNotEditable, "field_not_editable"},
	{editor.ErrInvalidValue, "invalid_value"},
	{editor.ErrRowNotFound, "row_not_found"},
	{editor.ErrNoSelection, "no_selection"},
	{editor.ErrConfirmationRequired, "confirmation_required"},
	{editor.ErrNothingToUndo, "nothing_to_undo"},
	{editor.ErrPlanLimit, "plan_limit"},
	{editor.ErrWriteFailed, "write_failed"},
	{editor.ErrSessionClosed, "view_closed"},
	{bridge.ErrForeignProject, "foreign_project"},
	{bridge.ErrUnsupportedMessage, "unsupported_message"},
	{bridge.ErrMissingCueID, "missing_cue_id"},
}

func newOutcomeResponse(outcome editor.Outcome) outcomeResponse {
	response := outcomeResponse{Status: string(outcome.Status), Notice: outcome.Notice, RowIDs: outcome.RowIDs}
	if outcome.Err == nil {
		return response
	}
	response.Error = "failed"
	for _, candidate := range outcomeErrorCodes {
		if errors.Is(outcome.Err, candidate.err) {
			response.Error = candidate.code
			break
		}
	}
	return response
}

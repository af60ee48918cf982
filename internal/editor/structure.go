package editor

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/timecode"
)

func (s *Session) handleReorder(ctx context.Context, event RowsReordered) Outcome {
	if !s.gate().CanEditAll() {
		s.view.RowsChanged(s.rows.All())
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}
	if !s.isPermutation(event.RowIDs) {
		s.view.RowsChanged(s.rows.All())
		return rejected(ErrInvalidValue, noticeInvalidOrder)
	}

	writes := make([]docstore.RowWrite, 0, len(event.RowIDs))
	for index, rowID := range event.RowIDs {
		row, _ := s.rows.Get(rowID)
		marker := strconv.Itoa(index + 1)
		if row.M == marker {
			continue
		}
		writes = append(writes, docstore.RowWrite{RowID: rowID, Patch: cues.RowPatch{Fields: cues.FieldPatch{cues.FieldM: marker}}})
	}
	if len(writes) == 0 {
		return ignored()
	}
	return s.commitFieldWrites(ctx, "editor.reorder", writes, nil, "")
}

func (s *Session) isPermutation(rowIDs []string) bool {
	if len(rowIDs) != s.rows.Len() {
		return false
	}
	seen := make(map[string]struct{}, len(rowIDs))
	for _, rowID := range rowIDs {
		if _, duplicate := seen[rowID]; duplicate {
			return false
		}
		if _, exists := s.rows.Get(rowID); !exists {
			return false
		}
		seen[rowID] = struct{}{}
	}
	return true
}

func (s *Session) handleAddRow(ctx context.Context) Outcome {
	if !s.gate().CanEditAll() {
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}
	return s.createRow(ctx, cues.Row{M: s.rows.NextM()})
}

func (s *Session) createRow(ctx context.Context, row cues.Row) Outcome {
	created, err := s.store.CreateRow(ctx, s.projectID, row, s.actorName())
	if err != nil {
		s.logError("editor.add_row", "create_failed", err)
		if errors.Is(err, docstore.ErrPlanLimit) {
			return Outcome{Status: StatusFailed, Notice: noticePlanLimit, Err: errors.Join(ErrPlanLimit, err)}
		}
		return failed(err, noticeWriteFailed)
	}
	s.pendingFocus = created.ID
	return applied("", created.ID)
}

func (s *Session) handleDeleteRows(ctx context.Context, event RowsDeleteRequested) Outcome {
	if !s.gate().CanEditAll() {
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}
	targets := s.rows.SelectedIDs()
	if len(targets) == 0 {
		if focused, ok := s.rows.Focused(); ok {
			targets = []string{focused.ID}
		}
	}
	if len(targets) == 0 {
		return rejected(ErrNoSelection, noticeNoSelection)
	}
	if !event.Confirmed {
		return needsConfirmation(confirmDeleteRowsNotice(len(targets)))
	}
	if err := s.store.DeleteRows(ctx, s.projectID, targets); err != nil {
		s.logError("editor.delete_rows", "delete_failed", err, zap.Strings("row_ids", targets))
		return failed(err, noticeWriteFailed)
	}
	s.rows.ClearSelection()
	return applied("", targets...)
}

var inspectorFields = []cues.Field{
	cues.FieldV, cues.FieldDemo, cues.FieldScene, cues.FieldLen, cues.FieldStatus,
	cues.FieldReference, cues.FieldIn, cues.FieldOut,
}

func (s *Session) handleInspectorSave(ctx context.Context, event InspectorSaveRequested) Outcome {
	gate := s.gate()
	if !gate.SignedIn() {
		return rejected(ErrNotSignedIn, noticeSignIn)
	}

	fields := cues.FieldPatch{}
	for _, field := range inspectorFields {
		value, provided := event.Fields[field]
		if !provided || !gate.CanEditField(field) {
			continue
		}
		fields[field] = value
	}
	if len(fields) == 0 {
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}
	for _, field := range []cues.Field{cues.FieldStatus, cues.FieldLen} {
		if value, ok := fields[field]; ok {
			if outcome, valid := s.validateTag(field, value); !valid {
				return outcome
			}
		}
	}

	focused, hasFocus := s.rows.Focused()
	if !hasFocus {
		if !gate.CanEditAll() {
			return rejected(ErrPermissionDenied, noticePermissionDenied)
		}
		row := cues.Row{M: s.rows.NextM()}
		for field, value := range fields {
			row.Set(field, value)
		}
		row.Interval = timecode.Interval(row.In, row.Out, s.frameRate())
		return s.createRow(ctx, row)
	}

	merged := focused
	after := cues.FieldPatch{}
	for field, value := range fields {
		merged.Set(field, value)
		if focused.Value(field) != value {
			after[field] = value
		}
	}
	if interval := timecode.Interval(merged.In, merged.Out, s.frameRate()); interval != focused.Interval {
		_, touchesIn := fields[cues.FieldIn]
		_, touchesOut := fields[cues.FieldOut]
		if touchesIn || touchesOut {
			after[cues.FieldInterval] = interval
		}
	}
	if len(after) == 0 {
		return ignored()
	}
	writes := []docstore.RowWrite{{RowID: focused.ID, Patch: cues.RowPatch{Fields: after}}}
	return s.commitFieldWrites(ctx, "editor.inspector_save", writes, nil, "")
}

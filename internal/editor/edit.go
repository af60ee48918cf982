package editor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/permissions"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/timecode"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/undo"
)

var bulkFields = map[cues.Field]struct{}{
	cues.FieldStatus: {},
	cues.FieldLen:    {},
	cues.FieldScene:  {},
	cues.FieldDemo:   {},
	cues.FieldIn:     {},
	cues.FieldOut:    {},
}

// BulkEligible reports whether edits to field propagate in bulk mode.
func BulkEligible(field cues.Field) bool {
	_, ok := bulkFields[field]
	return ok
}

func (s *Session) handleCellEdit(ctx context.Context, event CellEditRequested) Outcome {
	row, found := s.rows.Get(event.RowID)
	if !found {
		s.view.SetCell(withApplying(ctx), event.RowID, event.Field, event.OldValue)
		return rejected(ErrRowNotFound, noticeRowMissing)
	}
	gate := s.gate()
	if !gate.SignedIn() {
		s.revertCell(ctx, row, event.Field)
		return rejected(ErrNotSignedIn, noticeSignIn)
	}
	if !permissions.Editable(event.Field) {
		s.revertCell(ctx, row, event.Field)
		return rejected(ErrFieldNotEditable, noticeFieldNotEditable)
	}
	if !gate.CanEditField(event.Field) {
		s.revertCell(ctx, row, event.Field)
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}

	value := event.NewValue
	if event.Field == cues.FieldStatus || event.Field == cues.FieldLen {
		value = strings.TrimSpace(value)
	}
	if outcome, ok := s.validateTag(event.Field, value); !ok {
		s.revertCell(ctx, row, event.Field)
		return outcome
	}

	targets := s.editTargets(row.ID, event.Field)
	writes := make([]docstore.RowWrite, 0, len(targets))
	unit := make(undo.Unit, 0, len(targets))
	for _, targetID := range targets {
		target, ok := s.rows.Get(targetID)
		if !ok {
			continue
		}
		before, after := s.fieldChange(target, event.Field, value)
		if before == nil {
			continue
		}
		writes = append(writes, docstore.RowWrite{RowID: targetID, Patch: cues.RowPatch{Fields: after}})
		unit = append(unit, undo.Entry{RowID: targetID, Before: before, After: after})
	}
	if len(writes) == 0 {
		return ignored()
	}

	return s.commitFieldWrites(ctx, "editor.cell_edit", writes, func() {
		s.history.Push(unit)
	}, "")
}

// fieldChange computes the before/after patches for setting field on row, including
// the derived interval for timecode boundaries. A nil before means no change.
func (s *Session) fieldChange(row cues.Row, field cues.Field, value string) (cues.FieldPatch, cues.FieldPatch) {
	before := cues.FieldPatch{}
	after := cues.FieldPatch{}
	if row.Value(field) != value {
		before[field] = row.Value(field)
		after[field] = value
	}
	if field.IsTimecodeBoundary() {
		in, out := row.In, row.Out
		if field == cues.FieldIn {
			in = value
		} else {
			out = value
		}
		interval := timecode.Interval(in, out, s.frameRate())
		if interval != row.Interval {
			before[cues.FieldInterval] = row.Interval
			after[cues.FieldInterval] = interval
		}
	}
	if len(after) == 0 {
		return nil, nil
	}
	return before, after
}

// editTargets resolves the rows an edit applies to. In effective bulk mode with two or
// more rows selected, the edit covers the selection and the edited row.
func (s *Session) editTargets(rowID string, field cues.Field) []string {
	if !s.effectiveBulkMode() || !BulkEligible(field) {
		return []string{rowID}
	}
	selected := s.rows.SelectedIDs()
	if len(selected) < 2 {
		return []string{rowID}
	}
	if !s.rows.IsSelected(rowID) {
		selected = append(selected, rowID)
	}
	return selected
}

func (s *Session) effectiveBulkMode() bool {
	return s.bulkMode && s.gate().CanEditAll()
}

func (s *Session) validateTag(field cues.Field, value string) (Outcome, bool) {
	switch field {
	case cues.FieldStatus:
		if err := s.statuses.Validate(value); err != nil {
			return rejected(ErrInvalidValue, noticeInvalidStatus), false
		}
	case cues.FieldLen:
		if err := s.lengths.Validate(value); err != nil {
			return rejected(ErrInvalidValue, noticeInvalidLength), false
		}
	}
	return Outcome{}, true
}

// revertCell restores the displayed value of a cell without re-entering the editor.
func (s *Session) revertCell(ctx context.Context, row cues.Row, field cues.Field) {
	s.view.SetCell(withApplying(ctx), row.ID, field, row.Value(field))
}

// commitFieldWrites overlays the writes, pushes the new cell values, commits them in
// one batch and reconciles on failure. onSuccess runs after a successful commit.
func (s *Session) commitFieldWrites(ctx context.Context, operation string, writes []docstore.RowWrite, onSuccess func(), notice string) Outcome {
	rowIDs := make([]string, 0, len(writes))
	for _, write := range writes {
		s.rows.ApplyOptimistic(write.RowID, write.Patch)
		s.applyCells(ctx, write.RowID, write.Patch.Fields)
		rowIDs = append(rowIDs, write.RowID)
	}

	if _, err := s.store.Commit(ctx, s.projectID, docstore.Batch{Rows: writes, By: s.actorName()}); err != nil {
		s.logError(operation, "commit_failed", err, zap.Strings("row_ids", rowIDs))
		s.rows.DiscardPending(rowIDs...)
		for _, write := range writes {
			if row, ok := s.rows.Get(write.RowID); ok {
				s.applyCells(ctx, write.RowID, currentValues(row, write.Patch.Fields))
			}
		}
		return failed(err, noticeWriteFailed)
	}
	if onSuccess != nil {
		onSuccess()
	}
	s.view.RowsChanged(s.rows.All())
	return applied(notice, rowIDs...)
}

func currentValues(row cues.Row, fields cues.FieldPatch) cues.FieldPatch {
	values := make(cues.FieldPatch, len(fields))
	for field := range fields {
		values[field] = row.Value(field)
	}
	return values
}

func (s *Session) handleUndo(ctx context.Context) Outcome {
	if !s.gate().CanEditAll() {
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}
	unit, ok := s.history.Pop()
	if !ok {
		return rejected(ErrNothingToUndo, noticeNothingToUndo)
	}

	restore := unit.Inverse()
	writes := make([]docstore.RowWrite, 0, len(restore))
	for _, entry := range unit {
		patch, pending := restore[entry.RowID]
		if !pending {
			continue
		}
		delete(restore, entry.RowID)
		if _, exists := s.rows.Get(entry.RowID); !exists {
			continue
		}
		writes = append(writes, docstore.RowWrite{RowID: entry.RowID, Patch: cues.RowPatch{Fields: patch}})
	}
	if len(writes) == 0 {
		return rejected(ErrNothingToUndo, noticeNothingToUndo)
	}

	outcome := s.commitFieldWrites(ctx, "editor.undo", writes, nil, noticeUndone)
	if outcome.Status == StatusFailed {
		s.history.Push(unit)
	}
	return outcome
}

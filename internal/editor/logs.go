package editor

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

// Log operations read the row's current entries, build the new slice and issue the
// write while the session lock is held, so no other local action can interleave
// between the read and the write.

func (s *Session) handleLogAppend(ctx context.Context, event LogAppendRequested) Outcome {
	row, outcome, ok := s.logTarget(event.RowID, event.Kind)
	if !ok {
		return outcome
	}
	entryID, err := s.store.NewID()
	if err != nil {
		s.logError("editor.log_append", "id_generation_failed", err, zap.String("row_id", row.ID))
		return failed(err, noticeWriteFailed)
	}
	entry, err := cues.NewLogEntry(entryID, registry.NormalizeText(event.Text), s.store.Now(), s.actorName(), row.V)
	if err != nil {
		return rejected(ErrInvalidValue, noticeEmptyLogText)
	}
	return s.commitLog(ctx, "editor.log_append", row.ID, event.Kind, cues.AppendEntry(row.Log(event.Kind), entry))
}

func (s *Session) handleLogArchive(ctx context.Context, event LogArchiveRequested) Outcome {
	row, outcome, ok := s.logTarget(event.RowID, event.Kind)
	if !ok {
		return outcome
	}
	entries := row.Log(event.Kind)
	target, err := cues.EntryAt(entries, event.ShowArchived, event.ViewIndex)
	if err != nil {
		return rejected(ErrInvalidValue, noticeEntryMissing)
	}
	updated, err := cues.SetArchived(entries, target, !event.Restore, s.store.Now(), s.actorName())
	if err != nil {
		return rejected(ErrInvalidValue, noticeEntryMissing)
	}
	operation := "editor.log_archive"
	if event.Restore {
		operation = "editor.log_restore"
	}
	return s.commitLog(ctx, operation, row.ID, event.Kind, updated)
}

func (s *Session) handleLogDelete(ctx context.Context, event LogDeleteRequested) Outcome {
	row, outcome, ok := s.logTarget(event.RowID, event.Kind)
	if !ok {
		return outcome
	}
	entries := row.Log(event.Kind)
	target, err := cues.EntryAt(entries, event.ShowArchived, event.ViewIndex)
	if err != nil {
		return rejected(ErrInvalidValue, noticeEntryMissing)
	}
	if !event.Confirmed {
		return needsConfirmation("Delete this entry? This cannot be undone.")
	}
	updated, err := cues.RemoveEntry(entries, target)
	if err != nil {
		return rejected(ErrInvalidValue, noticeEntryMissing)
	}
	return s.commitLog(ctx, "editor.log_delete", row.ID, event.Kind, updated)
}

func (s *Session) logTarget(rowID string, kind cues.LogKind) (cues.Row, Outcome, bool) {
	gate := s.gate()
	if !gate.SignedIn() {
		return cues.Row{}, rejected(ErrNotSignedIn, noticeSignIn), false
	}
	if _, err := cues.ParseLogKind(string(kind)); err != nil {
		return cues.Row{}, rejected(ErrInvalidValue, ""), false
	}
	if !gate.CanManageLog(kind) {
		return cues.Row{}, rejected(ErrPermissionDenied, noticePermissionDenied), false
	}
	row, found := s.rows.Get(rowID)
	if !found {
		return cues.Row{}, rejected(ErrRowNotFound, noticeRowMissing), false
	}
	return row, Outcome{}, true
}

func (s *Session) commitLog(ctx context.Context, operation string, rowID string, kind cues.LogKind, entries []cues.LogEntry) Outcome {
	patch := cues.RowPatch{Logs: map[cues.LogKind][]cues.LogEntry{kind: entries}}
	s.rows.ApplyOptimistic(rowID, patch)
	if _, err := s.store.Commit(ctx, s.projectID, docstore.Batch{
		Rows: []docstore.RowWrite{{RowID: rowID, Patch: patch}},
		By:   s.actorName(),
	}); err != nil {
		s.logError(operation, "commit_failed", err, zap.String("row_id", rowID), zap.String("log", string(kind)))
		s.rows.DiscardPending(rowID)
		s.view.RowsChanged(s.rows.All())
		return failed(err, noticeWriteFailed)
	}
	s.view.RowsChanged(s.rows.All())
	return applied("", rowID)
}

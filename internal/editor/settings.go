package editor

import (
	"context"
	"strconv"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/timecode"
)

func (s *Session) handleBulkMode(event BulkModeToggled) Outcome {
	if event.Enabled && !s.gate().CanEditAll() {
		s.bulkMode = false
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}
	s.bulkMode = event.Enabled
	return applied("")
}

func (s *Session) handleGuestSimulation(event GuestSimulationToggled) Outcome {
	if s.actor == nil || !s.actor.Admin {
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}
	s.guestSimulation = event.Enabled
	if !s.gate().CanEditAll() {
		s.bulkMode = false
	}
	if event.Enabled {
		return applied(noticeGuestOn)
	}
	return applied(noticeGuestOff)
}

func (s *Session) handleSaveStatuses(ctx context.Context, event StatusesSaveRequested) Outcome {
	if !s.gate().CanEditAll() {
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}
	statuses := registry.NormalizeStatuses(event.Statuses)
	if len(statuses) == 0 {
		return rejected(ErrInvalidValue, noticeEmptyStatuses)
	}
	if _, err := s.store.Commit(ctx, s.projectID, docstore.Batch{
		Settings: &docstore.SettingsWrite{Statuses: statuses},
		By:       s.actorName(),
	}); err != nil {
		s.logError("editor.save_statuses", "commit_failed", err)
		return failed(err, noticeWriteFailed)
	}
	return applied("")
}

// handleFrameRate writes the new rate together with every interval it changes, so the
// interval never disagrees with the committed rate.
func (s *Session) handleFrameRate(ctx context.Context, event FrameRateChanged) Outcome {
	if !s.gate().CanEditAll() {
		return rejected(ErrPermissionDenied, noticePermissionDenied)
	}
	fps, ok := timecode.ParseFrameRate(event.FrameRate)
	if !ok {
		return rejected(ErrInvalidValue, noticeInvalidFrameRate)
	}
	frameRate := strconv.Itoa(fps)
	if frameRate == s.settings.FrameRate {
		return ignored()
	}

	var writes []docstore.RowWrite
	for _, row := range s.rows.All() {
		authoritative, _ := s.rows.Authoritative(row.ID)
		interval := timecode.Interval(authoritative.In, authoritative.Out, fps)
		if interval == authoritative.Interval {
			continue
		}
		writes = append(writes, docstore.RowWrite{
			RowID: row.ID,
			Patch: cues.RowPatch{Fields: cues.FieldPatch{cues.FieldInterval: interval}},
		})
	}
	if _, err := s.store.Commit(ctx, s.projectID, docstore.Batch{
		Rows:     writes,
		Settings: &docstore.SettingsWrite{FrameRate: frameRate},
		By:       s.actorName(),
	}); err != nil {
		s.logError("editor.frame_rate", "commit_failed", err)
		return failed(err, noticeWriteFailed)
	}
	rowIDs := make([]string, 0, len(writes))
	for _, write := range writes {
		rowIDs = append(rowIDs, write.RowID)
	}
	return applied("", rowIDs...)
}

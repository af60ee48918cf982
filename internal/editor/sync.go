package editor

import (
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/bridge"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/schedule"
)

func (s *Session) handleSnapshot(snapshot docstore.Snapshot) Outcome {
	if snapshot.ProjectID != s.projectID {
		return ignored()
	}
	if snapshot.Sequence != 0 && snapshot.Sequence <= s.lastSequence[snapshot.Topic] {
		return ignored()
	}
	s.lastSequence[snapshot.Topic] = snapshot.Sequence

	switch snapshot.Topic {
	case docstore.TopicRows:
		s.rows.ReplaceAll(snapshot.Rows)
		if s.pendingFocus != "" && s.rows.Select(s.pendingFocus, false) {
			s.pendingFocus = ""
		}
		s.view.RowsChanged(s.rows.All())
		s.refreshPreview()
	case docstore.TopicSettings:
		if !snapshot.Found {
			return ignored()
		}
		s.installSettings(snapshot)
		s.view.SettingsChanged(s.settings.Clone())
	case docstore.TopicSchedule:
		s.rows.SetNextSchedule(schedule.NextMap(snapshot.Board, s.clock()))
		s.view.RowsChanged(s.rows.All())
	default:
		return ignored()
	}
	return applied("")
}

func (s *Session) installSettings(snapshot docstore.Snapshot) {
	settings := snapshot.Settings.Clone()
	statuses, err := registry.New(settings.Statuses)
	if err != nil {
		s.logger.Warn("stored statuses rejected, normalizing",
			zap.Error(err), zap.Int64("sequence", snapshot.Sequence))
		settings.Statuses = registry.NormalizeStatuses(settings.Statuses)
		statuses = registry.MustNew(settings.Statuses)
	}
	s.settings = settings
	s.statuses = statuses
}

func (s *Session) handleSelect(event RowSelected) Outcome {
	if !s.rows.Select(event.RowID, event.Additive) {
		return rejected(ErrRowNotFound, noticeRowMissing)
	}
	return applied("")
}

func (s *Session) handleRemoteSelection(event RemoteSelectionReceived) Outcome {
	selection, err := bridge.Resolve(event.Message, s.projectID)
	if err != nil {
		s.logger.Debug("schedule selection dropped", zap.Error(err), zap.String("type", event.Message.Type))
		return Outcome{Status: StatusIgnored, Err: err}
	}
	s.remote = &selection
	s.refreshPreview()
	return applied("", selection.RowID)
}

func (s *Session) refreshPreview() {
	if s.remote == nil {
		return
	}
	row, found := s.rows.Get(s.remote.RowID)
	s.view.PreviewChanged(bridge.BuildPreview(*s.remote, row, found))
}

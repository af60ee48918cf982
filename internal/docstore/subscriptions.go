package docstore

import (
	"context"

	"go.uber.org/zap"
)

// SubscribeRows streams full row-set snapshots of a project ordered by m, starting
// with the current state.
func (s *Store) SubscribeRows(ctx context.Context, projectID string) (<-chan Snapshot, func(), error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	initial, err := s.rowsSnapshotLocked(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	stream, cleanup := s.notifier.Subscribe(ctx, initial)
	return stream, cleanup, nil
}

// SubscribeSettings streams settings document snapshots, starting with the current state.
func (s *Store) SubscribeSettings(ctx context.Context, projectID string) (<-chan Snapshot, func(), error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	initial, err := s.settingsSnapshotLocked(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	stream, cleanup := s.notifier.Subscribe(ctx, initial)
	return stream, cleanup, nil
}

// SubscribeSchedule streams schedule board snapshots, starting with the current state.
func (s *Store) SubscribeSchedule(ctx context.Context, projectID string) (<-chan Snapshot, func(), error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	initial, err := s.scheduleSnapshotLocked(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	stream, cleanup := s.notifier.Subscribe(ctx, initial)
	return stream, cleanup, nil
}

func (s *Store) nextSnapshot(projectID string, topic Topic) Snapshot {
	s.sequence++
	return Snapshot{ProjectID: projectID, Topic: topic, Sequence: s.sequence, At: s.Now()}
}

func (s *Store) rowsSnapshotLocked(ctx context.Context, projectID string) (Snapshot, error) {
	rows, err := s.ListRows(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot := s.nextSnapshot(projectID, TopicRows)
	snapshot.Rows = rows
	snapshot.Found = true
	return snapshot, nil
}

func (s *Store) settingsSnapshotLocked(ctx context.Context, projectID string) (Snapshot, error) {
	settings, found, err := s.GetSettings(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot := s.nextSnapshot(projectID, TopicSettings)
	snapshot.Settings = settings
	snapshot.Found = found
	return snapshot, nil
}

func (s *Store) scheduleSnapshotLocked(ctx context.Context, projectID string) (Snapshot, error) {
	board, found, err := s.GetScheduleBoard(ctx, projectID)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot := s.nextSnapshot(projectID, TopicSchedule)
	snapshot.Board = board
	snapshot.Found = found
	return snapshot, nil
}

// The publish helpers run after a successful commit. A reload failure does not undo
// the commit; subscribers catch up on the next publish.
func (s *Store) publishRowsLocked(ctx context.Context, projectID string) {
	snapshot, err := s.rowsSnapshotLocked(context.WithoutCancel(ctx), projectID)
	if err != nil {
		s.loggerOrDefault().Warn("rows snapshot reload failed", zap.String("project_id", projectID), zap.Error(err))
		return
	}
	s.notifier.Publish(snapshot)
}

func (s *Store) publishSettingsLocked(ctx context.Context, projectID string) {
	snapshot, err := s.settingsSnapshotLocked(context.WithoutCancel(ctx), projectID)
	if err != nil {
		s.loggerOrDefault().Warn("settings snapshot reload failed", zap.String("project_id", projectID), zap.Error(err))
		return
	}
	s.notifier.Publish(snapshot)
}

func (s *Store) publishScheduleLocked(ctx context.Context, projectID string) {
	snapshot, err := s.scheduleSnapshotLocked(context.WithoutCancel(ctx), projectID)
	if err != nil {
		s.loggerOrDefault().Warn("schedule snapshot reload failed", zap.String("project_id", projectID), zap.Error(err))
		return
	}
	s.notifier.Publish(snapshot)
}

// Package docstore is the project document store: cue rows, the settings document and
// the schedule board persisted through GORM, with atomic multi-row commits and
// snapshot subscriptions that deliver a total order of committed states per project.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

var noOpLogger = zap.NewNop()

// StoreConfig wires a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Notifier   *Notifier
	Logger     *zap.Logger
	// MaxRowsPerProject caps row creation; zero means unlimited.
	MaxRowsPerProject int
}

// Store persists project documents and publishes snapshots after every commit.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	notifier   *Notifier
	logger     *zap.Logger
	maxRows    int

	// writeMu orders commit, reload and publish so subscribers observe committed
	// states in commit order.
	writeMu  sync.Mutex
	sequence int64
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewNotifier()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	maxRows := cfg.MaxRowsPerProject
	if maxRows < 0 {
		maxRows = 0
	}
	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		notifier:   notifier,
		logger:     logger,
		maxRows:    maxRows,
	}, nil
}

// RowWrite is one row's part of a batch.
type RowWrite struct {
	RowID string
	Patch cues.RowPatch
}

// SettingsWrite patches the settings document. Empty fields are left unchanged.
type SettingsWrite struct {
	Statuses  []registry.Entry
	FrameRate string
}

// Batch is an all-or-nothing write. Every touched document receives the same
// updatedAt/updatedBy stamp.
type Batch struct {
	Rows     []RowWrite
	Settings *SettingsWrite
	By       string
}

// Now returns the store clock truncated to the persisted precision.
func (s *Store) Now() time.Time {
	return fromMillis(toMillis(s.clock()))
}

// NewID issues an identifier from the store's provider.
func (s *Store) NewID() (string, error) {
	return s.idProvider.NewID()
}

// Commit applies batch atomically and returns the shared stamp. A batch naming a row
// the project does not hold fails as a whole.
func (s *Store) Commit(ctx context.Context, projectID string, batch Batch) (time.Time, error) {
	if len(batch.Rows) == 0 && batch.Settings == nil {
		return time.Time{}, newStoreError(opCommit, "empty_batch", ErrEmptyBatch)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stamp := s.Now()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, write := range batch.Rows {
			updates, err := rowUpdates(write.Patch)
			if err != nil {
				s.logError(opCommit, "encode_failed", err, zap.String("project_id", projectID), zap.String("row_id", write.RowID))
				return newStoreError(opCommit, "encode_failed", err)
			}
			updates["updated_at_ms"] = toMillis(stamp)
			updates["updated_by"] = batch.By
			result := tx.Model(&CueRowRecord{}).
				Where("project_id = ? AND row_id = ?", projectID, write.RowID).
				Updates(updates)
			if result.Error != nil {
				s.logError(opCommit, "row_update_failed", result.Error, zap.String("project_id", projectID), zap.String("row_id", write.RowID))
				return newStoreError(opCommit, "row_update_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				return newStoreError(opCommit, "row_missing", ErrRowMissing)
			}
		}
		if batch.Settings != nil {
			updates := map[string]any{
				"updated_at_ms": toMillis(stamp),
				"updated_by":    batch.By,
			}
			if batch.Settings.Statuses != nil {
				encoded, err := encodeStatuses(batch.Settings.Statuses)
				if err != nil {
					return newStoreError(opCommit, "encode_failed", err)
				}
				updates["statuses_json"] = encoded
			}
			if batch.Settings.FrameRate != "" {
				updates["fps_default"] = batch.Settings.FrameRate
			}
			result := tx.Model(&ProjectSettingsRecord{}).Where("project_id = ?", projectID).Updates(updates)
			if result.Error != nil {
				s.logError(opCommit, "settings_update_failed", result.Error, zap.String("project_id", projectID))
				return newStoreError(opCommit, "settings_update_failed", result.Error)
			}
			if result.RowsAffected == 0 {
				return newStoreError(opCommit, "settings_missing", ErrSettingsMissing)
			}
		}
		return nil
	})
	if txErr != nil {
		return time.Time{}, txErr
	}

	if len(batch.Rows) > 0 {
		s.publishRowsLocked(ctx, projectID)
	}
	if batch.Settings != nil {
		s.publishSettingsLocked(ctx, projectID)
	}
	return stamp, nil
}

func rowUpdates(patch cues.RowPatch) (map[string]any, error) {
	updates := make(map[string]any, len(patch.Fields)+len(patch.Logs)+2)
	for field, value := range patch.Fields {
		column, ok := fieldColumns[field]
		if !ok {
			return nil, cues.ErrUnknownField
		}
		updates[column] = value
	}
	for kind, entries := range patch.Logs {
		column, ok := logColumns[kind]
		if !ok {
			return nil, cues.ErrUnknownLogKind
		}
		encoded, err := encodeLog(entries)
		if err != nil {
			return nil, err
		}
		updates[column] = encoded
	}
	return updates, nil
}

// CreateRow inserts a new row with a store-assigned id.
func (s *Store) CreateRow(ctx context.Context, projectID string, row cues.Row, by string) (cues.Row, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rowID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRow, "id_generation_failed", err, zap.String("project_id", projectID))
		return cues.Row{}, newStoreError(opCreateRow, "id_generation_failed", err)
	}
	stamp := s.Now()
	row.ID = rowID
	row.CreatedAt, row.CreatedBy = stamp, by
	row.UpdatedAt, row.UpdatedBy = stamp, by
	row.Next = nil
	record, err := newCueRowRecord(projectID, row)
	if err != nil {
		return cues.Row{}, newStoreError(opCreateRow, "encode_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.maxRows > 0 {
			var count int64
			if err := tx.Model(&CueRowRecord{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
				s.logError(opCreateRow, "count_failed", err, zap.String("project_id", projectID))
				return newStoreError(opCreateRow, "count_failed", err)
			}
			if count >= int64(s.maxRows) {
				return newStoreError(opCreateRow, "plan_limit", ErrPlanLimit)
			}
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opCreateRow, "insert_failed", err, zap.String("project_id", projectID))
			return newStoreError(opCreateRow, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return cues.Row{}, txErr
	}
	s.publishRowsLocked(ctx, projectID)
	return row, nil
}

// DeleteRows removes every listed row or none of them.
func (s *Store) DeleteRows(ctx context.Context, projectID string, rowIDs []string) error {
	if len(rowIDs) == 0 {
		return newStoreError(opDeleteRows, "empty_batch", ErrEmptyBatch)
	}
	unique := make(map[string]struct{}, len(rowIDs))
	for _, rowID := range rowIDs {
		unique[rowID] = struct{}{}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("project_id = ? AND row_id IN ?", projectID, rowIDs).Delete(&CueRowRecord{})
		if result.Error != nil {
			s.logError(opDeleteRows, "delete_failed", result.Error, zap.String("project_id", projectID))
			return newStoreError(opDeleteRows, "delete_failed", result.Error)
		}
		if result.RowsAffected != int64(len(unique)) {
			return newStoreError(opDeleteRows, "row_missing", ErrRowMissing)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}
	s.publishRowsLocked(ctx, projectID)
	return nil
}

// GetRow loads a single row.
func (s *Store) GetRow(ctx context.Context, projectID string, rowID string) (cues.Row, error) {
	var record CueRowRecord
	err := s.db.WithContext(ctx).Where("project_id = ? AND row_id = ?", projectID, rowID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cues.Row{}, newStoreError(opGetRow, "row_missing", ErrRowMissing)
	}
	if err != nil {
		s.logError(opGetRow, reasonQueryFailed, err, zap.String("project_id", projectID), zap.String("row_id", rowID))
		return cues.Row{}, newStoreError(opGetRow, reasonQueryFailed, err)
	}
	row, err := record.Row()
	if err != nil {
		s.logError(opDecodeRecord, "row_decode_failed", err, zap.String("project_id", projectID), zap.String("row_id", rowID))
		return cues.Row{}, newStoreError(opGetRow, "decode_failed", err)
	}
	return row, nil
}

// ListRows loads every row of a project ordered by m.
func (s *Store) ListRows(ctx context.Context, projectID string) ([]cues.Row, error) {
	var records []CueRowRecord
	if err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&records).Error; err != nil {
		s.logError(opListRows, reasonQueryFailed, err, zap.String("project_id", projectID))
		return nil, newStoreError(opListRows, reasonQueryFailed, err)
	}
	rows := make([]cues.Row, 0, len(records))
	for _, record := range records {
		row, err := record.Row()
		if err != nil {
			s.logError(opDecodeRecord, "row_decode_failed", err, zap.String("project_id", projectID), zap.String("row_id", record.RowID))
			return nil, newStoreError(opListRows, "decode_failed", err)
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(left, right int) bool {
		return cues.Less(rows[left], rows[right])
	})
	return rows, nil
}

// EnsureSettings returns the settings document, creating it from seed when absent.
func (s *Store) EnsureSettings(ctx context.Context, projectID string, seed cues.Settings, by string) (cues.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created := false
	var record ProjectSettingsRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("project_id = ?", projectID).Take(&record).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opEnsureSettings, reasonQueryFailed, err, zap.String("project_id", projectID))
			return newStoreError(opEnsureSettings, reasonQueryFailed, err)
		}
		encoded, err := encodeStatuses(seed.Statuses)
		if err != nil {
			return newStoreError(opEnsureSettings, "encode_failed", err)
		}
		stamp := toMillis(s.Now())
		record = ProjectSettingsRecord{
			ProjectID:       projectID,
			StatusesJSON:    encoded,
			FrameRate:       seed.FrameRate,
			CreatedAtMillis: stamp,
			UpdatedAtMillis: stamp,
			UpdatedBy:       by,
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opEnsureSettings, "insert_failed", err, zap.String("project_id", projectID))
			return newStoreError(opEnsureSettings, "insert_failed", err)
		}
		created = true
		return nil
	})
	if txErr != nil {
		return cues.Settings{}, txErr
	}
	settings, err := record.Settings()
	if err != nil {
		s.logError(opDecodeRecord, "settings_decode_failed", err, zap.String("project_id", projectID))
		return cues.Settings{}, newStoreError(opEnsureSettings, "decode_failed", err)
	}
	if created {
		s.publishSettingsLocked(ctx, projectID)
	}
	return settings, nil
}

// GetSettings loads the settings document. found is false when it was never seeded.
func (s *Store) GetSettings(ctx context.Context, projectID string) (cues.Settings, bool, error) {
	var record ProjectSettingsRecord
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cues.Settings{}, false, nil
	}
	if err != nil {
		s.logError(opGetSettings, reasonQueryFailed, err, zap.String("project_id", projectID))
		return cues.Settings{}, false, newStoreError(opGetSettings, reasonQueryFailed, err)
	}
	settings, err := record.Settings()
	if err != nil {
		s.logError(opDecodeRecord, "settings_decode_failed", err, zap.String("project_id", projectID))
		return cues.Settings{}, false, newStoreError(opGetSettings, "decode_failed", err)
	}
	return settings, true, nil
}

// SaveScheduleBoard replaces the project's schedule board.
func (s *Store) SaveScheduleBoard(ctx context.Context, projectID string, board cues.ScheduleBoard, by string) error {
	encoded, err := json.Marshal(board)
	if err != nil {
		return newStoreError(opSaveSchedule, "encode_failed", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record := ScheduleBoardRecord{
		ProjectID:       projectID,
		BoardJSON:       string(encoded),
		UpdatedAtMillis: toMillis(s.Now()),
		UpdatedBy:       by,
	}
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opSaveSchedule, "save_failed", err, zap.String("project_id", projectID))
		return newStoreError(opSaveSchedule, "save_failed", err)
	}
	s.publishScheduleLocked(ctx, projectID)
	return nil
}

// GetScheduleBoard loads the schedule board. found is false when none was saved.
func (s *Store) GetScheduleBoard(ctx context.Context, projectID string) (cues.ScheduleBoard, bool, error) {
	var record ScheduleBoardRecord
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cues.ScheduleBoard{}, false, nil
	}
	if err != nil {
		s.logError(opGetSchedule, reasonQueryFailed, err, zap.String("project_id", projectID))
		return cues.ScheduleBoard{}, false, newStoreError(opGetSchedule, reasonQueryFailed, err)
	}
	var board cues.ScheduleBoard
	if err := json.Unmarshal([]byte(record.BoardJSON), &board); err != nil {
		s.logError(opDecodeRecord, "board_decode_failed", err, zap.String("project_id", projectID))
		return cues.ScheduleBoard{}, false, newStoreError(opGetSchedule, "decode_failed", err)
	}
	return board, true, nil
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("document store error", attrs...)
}

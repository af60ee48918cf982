package docstore

import (
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

// BackfillLogEntryIDs assigns ids to log entries persisted without one. Entries that
// already carry an id are untouched. It returns the number of rows rewritten.
func BackfillLogEntryIDs(db *gorm.DB, ids IDProvider) (int, error) {
	if db == nil {
		return 0, newStoreError(opBackfillLogIDs, "missing_database", errMissingDatabase)
	}
	if ids == nil {
		return 0, newStoreError(opBackfillLogIDs, "missing_id_provider", errMissingIDProvider)
	}
	var records []CueRowRecord
	if err := db.Find(&records).Error; err != nil {
		return 0, newStoreError(opBackfillLogIDs, reasonQueryFailed, err)
	}
	rewritten := 0
	for _, record := range records {
		updates := make(map[string]any, len(logColumns))
		for kind, raw := range map[cues.LogKind]string{
			cues.LogDirector: record.DirectorLogJSON,
			cues.LogComment:  record.CommentLogJSON,
		} {
			entries, err := decodeLog(raw)
			if err != nil {
				return rewritten, newStoreError(opBackfillLogIDs, "decode_failed", err)
			}
			changed := false
			for index := range entries {
				if entries[index].ID != "" {
					continue
				}
				id, err := ids.NewID()
				if err != nil {
					return rewritten, newStoreError(opBackfillLogIDs, "id_generation_failed", err)
				}
				entries[index].ID = id
				changed = true
			}
			if !changed {
				continue
			}
			encoded, err := encodeLog(entries)
			if err != nil {
				return rewritten, newStoreError(opBackfillLogIDs, "encode_failed", err)
			}
			updates[logColumns[kind]] = encoded
		}
		if len(updates) == 0 {
			continue
		}
		if err := db.Model(&CueRowRecord{}).
			Where("project_id = ? AND row_id = ?", record.ProjectID, record.RowID).
			Updates(updates).Error; err != nil {
			return rewritten, newStoreError(opBackfillLogIDs, "update_failed", err)
		}
		rewritten++
	}
	return rewritten, nil
}

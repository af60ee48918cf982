package docstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

// CueRowRecord is the persisted form of a cue row. Logs are stored as JSON arrays.
type CueRowRecord struct {
	ProjectID       string `gorm:"column:project_id;primaryKey;size:190;not null;index:idx_cue_rows_project_updated,priority:1"`
	RowID           string `gorm:"column:row_id;primaryKey;size:190;not null"`
	M               string `gorm:"column:m;size:32;not null;default:''"`
	V               string `gorm:"column:v;type:text;not null;default:''"`
	Demo            string `gorm:"column:demo;type:text;not null;default:''"`
	Scene           string `gorm:"column:scene;type:text;not null;default:''"`
	Len             string `gorm:"column:len;size:64;not null;default:''"`
	Status          string `gorm:"column:status;size:190;not null;default:''"`
	Reference       string `gorm:"column:reference;type:text;not null;default:''"`
	In              string `gorm:"column:tc_in;size:32;not null;default:''"`
	Out             string `gorm:"column:tc_out;size:32;not null;default:''"`
	Interval        string `gorm:"column:interval;size:32;not null;default:''"`
	DirectorLogJSON string `gorm:"column:director_log_json;type:text;not null;default:'[]'"`
	CommentLogJSON  string `gorm:"column:comment_log_json;type:text;not null;default:'[]'"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	CreatedBy       string `gorm:"column:created_by;size:190;not null;default:''"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null;index:idx_cue_rows_project_updated,priority:2"`
	UpdatedBy       string `gorm:"column:updated_by;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (CueRowRecord) TableName() string {
	return "cue_rows"
}

// ProjectSettingsRecord is the persisted per-project settings document.
type ProjectSettingsRecord struct {
	ProjectID       string `gorm:"column:project_id;primaryKey;size:190;not null"`
	StatusesJSON    string `gorm:"column:statuses_json;type:text;not null;default:'[]'"`
	FrameRate       string `gorm:"column:fps_default;size:16;not null;default:''"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
	UpdatedBy       string `gorm:"column:updated_by;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (ProjectSettingsRecord) TableName() string {
	return "project_settings"
}

// ScheduleBoardRecord is the persisted schedule board of a project.
type ScheduleBoardRecord struct {
	ProjectID       string `gorm:"column:project_id;primaryKey;size:190;not null"`
	BoardJSON       string `gorm:"column:board_json;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
	UpdatedBy       string `gorm:"column:updated_by;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (ScheduleBoardRecord) TableName() string {
	return "schedule_boards"
}

// Models lists every table the store owns, for schema migration.
func Models() []any {
	return []any{&CueRowRecord{}, &ProjectSettingsRecord{}, &ScheduleBoardRecord{}}
}

var fieldColumns = map[cues.Field]string{
	cues.FieldM:         "m",
	cues.FieldV:         "v",
	cues.FieldDemo:      "demo",
	cues.FieldScene:     "scene",
	cues.FieldLen:       "len",
	cues.FieldStatus:    "status",
	cues.FieldReference: "reference",
	cues.FieldIn:        "tc_in",
	cues.FieldOut:       "tc_out",
	cues.FieldInterval:  "interval",
}

var logColumns = map[cues.LogKind]string{
	cues.LogDirector: "director_log_json",
	cues.LogComment:  "comment_log_json",
}

func toMillis(value time.Time) int64 {
	return value.UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Row converts the record into the domain row.
func (r CueRowRecord) Row() (cues.Row, error) {
	directorLog, err := decodeLog(r.DirectorLogJSON)
	if err != nil {
		return cues.Row{}, fmt.Errorf("row %s director log: %w", r.RowID, err)
	}
	commentLog, err := decodeLog(r.CommentLogJSON)
	if err != nil {
		return cues.Row{}, fmt.Errorf("row %s comment log: %w", r.RowID, err)
	}
	return cues.Row{
		ID:          r.RowID,
		M:           r.M,
		V:           r.V,
		Demo:        r.Demo,
		Scene:       r.Scene,
		Len:         r.Len,
		Status:      r.Status,
		Reference:   r.Reference,
		In:          r.In,
		Out:         r.Out,
		Interval:    r.Interval,
		DirectorLog: directorLog,
		CommentLog:  commentLog,
		CreatedAt:   fromMillis(r.CreatedAtMillis),
		CreatedBy:   r.CreatedBy,
		UpdatedAt:   fromMillis(r.UpdatedAtMillis),
		UpdatedBy:   r.UpdatedBy,
	}, nil
}

func newCueRowRecord(projectID string, row cues.Row) (CueRowRecord, error) {
	directorLog, err := encodeLog(row.DirectorLog)
	if err != nil {
		return CueRowRecord{}, err
	}
	commentLog, err := encodeLog(row.CommentLog)
	if err != nil {
		return CueRowRecord{}, err
	}
	return CueRowRecord{
		ProjectID:       projectID,
		RowID:           row.ID,
		M:               row.M,
		V:               row.V,
		Demo:            row.Demo,
		Scene:           row.Scene,
		Len:             row.Len,
		Status:          row.Status,
		Reference:       row.Reference,
		In:              row.In,
		Out:             row.Out,
		Interval:        row.Interval,
		DirectorLogJSON: directorLog,
		CommentLogJSON:  commentLog,
		CreatedAtMillis: toMillis(row.CreatedAt),
		CreatedBy:       row.CreatedBy,
		UpdatedAtMillis: toMillis(row.UpdatedAt),
		UpdatedBy:       row.UpdatedBy,
	}, nil
}

// Settings converts the record into the domain settings document.
func (r ProjectSettingsRecord) Settings() (cues.Settings, error) {
	var statuses []registry.Entry
	if err := json.Unmarshal([]byte(r.StatusesJSON), &statuses); err != nil {
		return cues.Settings{}, fmt.Errorf("settings %s statuses: %w", r.ProjectID, err)
	}
	return cues.Settings{
		Statuses:  statuses,
		FrameRate: r.FrameRate,
		CreatedAt: fromMillis(r.CreatedAtMillis),
		UpdatedAt: fromMillis(r.UpdatedAtMillis),
		UpdatedBy: r.UpdatedBy,
	}, nil
}

func decodeLog(raw string) ([]cues.LogEntry, error) {
	if raw == "" {
		return nil, nil
	}
	var entries []cues.LogEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries, nil
}

func encodeLog(entries []cues.LogEntry) (string, error) {
	if entries == nil {
		entries = []cues.LogEntry{}
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func encodeStatuses(statuses []registry.Entry) (string, error) {
	if statuses == nil {
		statuses = []registry.Entry{}
	}
	encoded, err := json.Marshal(statuses)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

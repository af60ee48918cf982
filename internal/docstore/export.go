package docstore

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

const (
	opExport       = "docstore.export"
	opListProjects = "docstore.list_projects"
)

// ProjectExport is a point-in-time copy of every document of a project.
type ProjectExport struct {
	ProjectID  string              `json:"projectId"`
	ExportedAt time.Time           `json:"exportedAt"`
	Settings   *cues.Settings      `json:"settings,omitempty"`
	Rows       []cues.Row          `json:"rows"`
	Board      *cues.ScheduleBoard `json:"scheduleBoard,omitempty"`
}

// Export reads the project's rows, settings and schedule board under the write lock so
// the three documents come from the same committed state.
func (s *Store) Export(ctx context.Context, projectID string) (ProjectExport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rows, err := s.ListRows(ctx, projectID)
	if err != nil {
		return ProjectExport{}, err
	}
	export := ProjectExport{ProjectID: projectID, ExportedAt: s.Now(), Rows: rows}
	if export.Rows == nil {
		export.Rows = []cues.Row{}
	}

	settings, found, err := s.GetSettings(ctx, projectID)
	if err != nil {
		return ProjectExport{}, err
	}
	if found {
		export.Settings = &settings
	}
	board, found, err := s.GetScheduleBoard(ctx, projectID)
	if err != nil {
		return ProjectExport{}, err
	}
	if found {
		export.Board = &board
	}
	s.logger.Debug("project exported", zap.String("operation", opExport), zap.String("project_id", projectID), zap.Int("rows", len(rows)))
	return export, nil
}

// ProjectSummary describes one project for listings.
type ProjectSummary struct {
	ProjectID string
	RowCount  int
	UpdatedAt time.Time
	Seeded    bool
}

type projectAggregate struct {
	ProjectID       string
	RowCount        int
	UpdatedAtMillis int64
}

// ListProjects summarizes every project holding rows or settings, most recently
// updated first.
func (s *Store) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	var aggregates []projectAggregate
	if err := s.db.WithContext(ctx).
		Model(&CueRowRecord{}).
		Select("project_id, COUNT(*) AS row_count, MAX(updated_at_ms) AS updated_at_millis").
		Group("project_id").
		Scan(&aggregates).Error; err != nil {
		s.logError(opListProjects, reasonQueryFailed, err)
		return nil, newStoreError(opListProjects, reasonQueryFailed, err)
	}
	var settings []ProjectSettingsRecord
	if err := s.db.WithContext(ctx).Find(&settings).Error; err != nil {
		s.logError(opListProjects, reasonQueryFailed, err)
		return nil, newStoreError(opListProjects, reasonQueryFailed, err)
	}

	summaries := make(map[string]*ProjectSummary, len(aggregates)+len(settings))
	for _, aggregate := range aggregates {
		summaries[aggregate.ProjectID] = &ProjectSummary{
			ProjectID: aggregate.ProjectID,
			RowCount:  aggregate.RowCount,
			UpdatedAt: fromMillis(aggregate.UpdatedAtMillis),
		}
	}
	for _, record := range settings {
		summary, ok := summaries[record.ProjectID]
		if !ok {
			summary = &ProjectSummary{ProjectID: record.ProjectID}
			summaries[record.ProjectID] = summary
		}
		summary.Seeded = true
		if updated := fromMillis(record.UpdatedAtMillis); updated.After(summary.UpdatedAt) {
			summary.UpdatedAt = updated
		}
	}

	list := make([]ProjectSummary, 0, len(summaries))
	for _, summary := range summaries {
		list = append(list, *summary)
	}
	sort.Slice(list, func(left, right int) bool {
		if !list[left].UpdatedAt.Equal(list[right].UpdatedAt) {
			return list[left].UpdatedAt.After(list[right].UpdatedAt)
		}
		return list[left].ProjectID < list[right].ProjectID
	})
	return list, nil
}

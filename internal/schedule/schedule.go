// Package schedule derives each cue's next upcoming schedule-board mark.
package schedule

import (
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

const (
	dateLayout   = "2006-01-02"
	labelLayout  = "2006/01/02"
	noneStatus   = "none"
	defaultColor = "#6fd6ff"
)

// NextMap returns, per track id, the nearest mark dated today or later whose status
// is not "none". Malformed dates are skipped.
func NextMap(board cues.ScheduleBoard, today time.Time) map[string]cues.NextSchedule {
	colors := make(map[string]string, len(board.Statuses))
	for _, status := range board.Statuses {
		if status.Name != "" && status.Color != "" {
			colors[status.Name] = status.Color
		}
	}
	todayKey := today.Format(dateLayout)

	next := make(map[string]cues.NextSchedule, len(board.Schedule))
	for trackID, marks := range board.Schedule {
		dates := make([]string, 0, len(marks))
		for date, status := range marks {
			status = strings.TrimSpace(status)
			if status == "" || status == noneStatus {
				continue
			}
			if _, err := time.Parse(dateLayout, date); err != nil {
				continue
			}
			if date < todayKey {
				continue
			}
			dates = append(dates, date)
		}
		if len(dates) == 0 {
			continue
		}
		sort.Strings(dates)
		date := dates[0]
		status := strings.TrimSpace(marks[date])
		parsed, _ := time.Parse(dateLayout, date)
		color, ok := colors[status]
		if !ok {
			color = defaultColor
		}
		next[trackID] = cues.NextSchedule{
			Status:    status,
			Date:      date,
			DateLabel: parsed.Format(labelLayout),
			Color:     color,
		}
	}
	return next
}

// Merge attaches next-schedule marks to a copy of rows. Rows without a mark get nil.
func Merge(rows []cues.Row, next map[string]cues.NextSchedule) []cues.Row {
	merged := make([]cues.Row, len(rows))
	for index, row := range rows {
		merged[index] = row
		merged[index].Next = nil
		if mark, ok := next[row.ID]; ok {
			copied := mark
			merged[index].Next = &copied
		}
	}
	return merged
}

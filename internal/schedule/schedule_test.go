package schedule

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

func TestNextMapPicksNearestUpcomingMark(testContext *testing.T) {
	board := cues.ScheduleBoard{
		Statuses: []cues.ScheduleStatus{{Name: "mix", Color: "#ff0000"}},
		Schedule: map[string]map[string]string{
			"cue-1": {
				"2024-05-01": "mix",
				"2024-05-10": "mix",
				"2024-05-03": "none",
				"2024-04-30": "mix",
			},
			"cue-2": {"2024-05-02": "record"},
			"cue-3": {"2024-04-01": "mix", "garbage": "mix"},
		},
	}
	today := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

	got := NextMap(board, today)
	want := map[string]cues.NextSchedule{
		"cue-1": {Status: "mix", Date: "2024-05-01", DateLabel: "2024/05/01", Color: "#ff0000"},
		"cue-2": {Status: "record", Date: "2024-05-02", DateLabel: "2024/05/02", Color: defaultColor},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		testContext.Fatalf("next schedule mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeReplacesPreviousMarks(testContext *testing.T) {
	stale := cues.NextSchedule{Status: "old"}
	rows := []cues.Row{{ID: "cue-1", Next: &stale}, {ID: "cue-2"}}
	merged := Merge(rows, map[string]cues.NextSchedule{"cue-2": {Status: "mix"}})
	if merged[0].Next != nil {
		testContext.Fatalf("expected stale mark to be cleared, got %+v", merged[0].Next)
	}
	if merged[1].Next == nil || merged[1].Next.Status != "mix" {
		testContext.Fatalf("expected mix mark, got %+v", merged[1].Next)
	}
	if rows[0].Next == nil {
		testContext.Fatalf("input rows must not be modified")
	}
}

package editor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/bridge"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

func orderedIDs(rows []cues.Row) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID+"="+row.M)
	}
	return ids
}

func TestReorderRewritesDenseMarkers(t *testing.T) {
	h := newHarness(t, fullActor,
		cues.Row{ID: "a", M: "5", UpdatedAt: testNow},
		cues.Row{ID: "b", M: "10", UpdatedAt: testNow},
		cues.Row{ID: "c", M: "intro", UpdatedAt: testNow},
	)

	outcome := h.dispatch(t, RowsReordered{RowIDs: []string{"c", "a", "b"}})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	h.sync(t)
	var rows []cues.Row
	for _, view := range h.session.State(cues.Filter{}).Rows {
		rows = append(rows, view.Row)
	}
	if diff := cmp.Diff([]string{"c=1", "a=2", "b=3"}, orderedIDs(rows)); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}

	if again := h.dispatch(t, RowsReordered{RowIDs: []string{"c", "a", "b"}}); again.Status != StatusIgnored {
		t.Fatalf("expected unchanged order to be ignored, got %+v", again)
	}
}

func TestReorderRejectsPartialPermutation(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	for _, order := range [][]string{{"r1", "r2"}, {"r1", "r1", "r2"}, {"r1", "r2", "ghost"}} {
		outcome := h.dispatch(t, RowsReordered{RowIDs: order})
		if !errors.Is(outcome.Err, ErrInvalidValue) {
			t.Fatalf("expected %v to be rejected, got %+v", order, outcome)
		}
	}
	if h.store.commitCount() != 0 {
		t.Fatalf("expected no writes")
	}

	limited := newHarness(t, guestActor, timedRows()...)
	if outcome := limited.dispatch(t, RowsReordered{RowIDs: []string{"r3", "r2", "r1"}}); !errors.Is(outcome.Err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %+v", outcome)
	}
}

func TestAddRowFocusesCreatedRow(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	outcome := h.dispatch(t, RowAddRequested{})
	if outcome.Status != StatusApplied || len(outcome.RowIDs) != 1 {
		t.Fatalf("expected one created row, got %+v", outcome)
	}
	created := h.store.row(outcome.RowIDs[0])
	if created.M != "4" {
		t.Fatalf("expected marker 4, got %q", created.M)
	}
	h.sync(t)
	inspector := h.session.Inspector()
	if inspector.Row == nil || inspector.Row.ID != created.ID {
		t.Fatalf("expected created row focused, got %+v", inspector.Row)
	}
}

func TestAddRowReportsPlanLimit(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.store.failCreate = fmt.Errorf("create: %w", docstore.ErrPlanLimit)
	outcome := h.dispatch(t, RowAddRequested{})
	if !errors.Is(outcome.Err, ErrPlanLimit) || outcome.Notice != noticePlanLimit {
		t.Fatalf("expected plan limit, got %+v", outcome)
	}
}

func TestDeleteRowsNeedsConfirmation(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	if outcome := h.dispatch(t, RowsDeleteRequested{Confirmed: true}); !errors.Is(outcome.Err, ErrNoSelection) {
		t.Fatalf("expected no selection, got %+v", outcome)
	}
	h.dispatch(t, RowSelected{RowID: "r1"})
	h.dispatch(t, RowSelected{RowID: "r2", Additive: true})

	prompt := h.dispatch(t, RowsDeleteRequested{})
	if prompt.Status != StatusNeedsConfirmation || prompt.Notice != "Delete 2 rows? This cannot be undone." {
		t.Fatalf("expected confirmation prompt, got %+v", prompt)
	}
	if len(h.store.deletes) != 0 {
		t.Fatalf("expected nothing deleted before confirmation")
	}

	if outcome := h.dispatch(t, RowsDeleteRequested{Confirmed: true}); outcome.Status != StatusApplied {
		t.Fatalf("expected delete to apply, got %+v", outcome)
	}
	if diff := cmp.Diff([][]string{{"r1", "r2"}}, h.store.deletes); diff != "" {
		t.Fatalf("delete mismatch (-want +got):\n%s", diff)
	}
	h.sync(t)
	state := h.session.State(cues.Filter{})
	if len(state.Rows) != 1 || state.Rows[0].ID != "r3" {
		t.Fatalf("expected only r3 to remain, got %+v", state.Rows)
	}
	if h.session.Inspector().SelectedCount != 0 {
		t.Fatalf("expected selection cleared")
	}
}

func TestInspectorSave(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, RowSelected{RowID: "r3"})

	outcome := h.dispatch(t, InspectorSaveRequested{Fields: cues.FieldPatch{
		cues.FieldScene: "finale",
		cues.FieldIn:    "00:00:01:00",
		cues.FieldOut:   "00:00:03:12",
		cues.FieldM:     "99",
	}})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	want := cues.FieldPatch{
		cues.FieldScene:    "finale",
		cues.FieldIn:       "00:00:01:00",
		cues.FieldOut:      "00:00:03:12",
		cues.FieldInterval: "00:00:02:12",
	}
	if diff := cmp.Diff(want, h.store.commits[0].Rows[0].Patch.Fields); diff != "" {
		t.Fatalf("inspector patch mismatch (-want +got):\n%s", diff)
	}

	h.dispatch(t, SelectionCleared{})
	created := h.dispatch(t, InspectorSaveRequested{Fields: cues.FieldPatch{cues.FieldScene: "tag", cues.FieldStatus: "wip"}})
	if created.Status != StatusApplied || len(created.RowIDs) != 1 {
		t.Fatalf("expected a row to be created, got %+v", created)
	}
	row := h.store.row(created.RowIDs[0])
	if row.Scene != "tag" || row.Status != "wip" || row.M != "4" {
		t.Fatalf("unexpected created row %+v", row)
	}
}

func TestInspectorSaveForLimitedAccess(t *testing.T) {
	h := newHarness(t, guestActor, timedRows()...)
	if outcome := h.dispatch(t, InspectorSaveRequested{Fields: cues.FieldPatch{cues.FieldReference: "x"}}); !errors.Is(outcome.Err, ErrPermissionDenied) {
		t.Fatalf("expected creation to be denied without focus, got %+v", outcome)
	}
	h.dispatch(t, RowSelected{RowID: "r1"})
	outcome := h.dispatch(t, InspectorSaveRequested{Fields: cues.FieldPatch{cues.FieldReference: "https://example.com", cues.FieldScene: "nope"}})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected reference save, got %+v", outcome)
	}
	if diff := cmp.Diff(cues.FieldPatch{cues.FieldReference: "https://example.com"}, h.store.commits[0].Rows[0].Patch.Fields); diff != "" {
		t.Fatalf("expected only the reference to be written (-want +got):\n%s", diff)
	}
}

func loggedRow() cues.Row {
	base := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
	archivedAt := base.Add(time.Hour)
	return cues.Row{
		ID: "r1", M: "1", V: "v3", UpdatedAt: testNow,
		DirectorLog: []cues.LogEntry{
			{ID: "e1", Text: "first", At: base, By: "dir@example.com", Archived: true, ArchivedAt: &archivedAt, ArchivedBy: "dir@example.com"},
			{ID: "e2", Text: "second", At: base.Add(2 * time.Hour), By: "dir@example.com"},
			{ID: "e3", Text: "third", At: base.Add(3 * time.Hour), By: "dir@example.com"},
		},
	}
}

func TestLogAppend(t *testing.T) {
	h := newHarness(t, guestActor, loggedRow())
	outcome := h.dispatch(t, LogAppendRequested{RowID: "r1", Kind: cues.LogDirector, Text: "  tighten the hit  "})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	entries := h.store.row("r1").DirectorLog
	appended := entries[len(entries)-1]
	if appended.Text != "tighten the hit" || appended.By != guestActor.Email || appended.V != "v3" || appended.ID == "" {
		t.Fatalf("unexpected appended entry %+v", appended)
	}
	if !appended.At.Equal(h.store.Now().Add(-time.Second)) {
		t.Fatalf("expected server timestamp, got %v", appended.At)
	}

	if denied := h.dispatch(t, LogAppendRequested{RowID: "r1", Kind: cues.LogComment, Text: "hi"}); !errors.Is(denied.Err, ErrPermissionDenied) {
		t.Fatalf("expected comment log to require full access, got %+v", denied)
	}
	if empty := h.dispatch(t, LogAppendRequested{RowID: "r1", Kind: cues.LogDirector, Text: "   "}); !errors.Is(empty.Err, ErrInvalidValue) {
		t.Fatalf("expected empty text to be rejected, got %+v", empty)
	}
}

func TestLogArchiveTargetsVisibleEntry(t *testing.T) {
	h := newHarness(t, fullActor, loggedRow())

	outcome := h.dispatch(t, LogArchiveRequested{RowID: "r1", Kind: cues.LogDirector, ViewIndex: 0})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	archived := map[string]bool{}
	for _, entry := range h.store.row("r1").DirectorLog {
		archived[entry.ID] = entry.Archived
	}
	if diff := cmp.Diff(map[string]bool{"e1": true, "e2": true, "e3": false}, archived); diff != "" {
		t.Fatalf("archive mismatch (-want +got):\n%s", diff)
	}

	h.sync(t)
	restore := h.dispatch(t, LogArchiveRequested{RowID: "r1", Kind: cues.LogDirector, ViewIndex: 0, ShowArchived: true, Restore: true})
	if restore.Status != StatusApplied {
		t.Fatalf("expected restore, got %+v", restore)
	}
	first := h.store.row("r1").DirectorLog[0]
	if first.Archived || first.ArchivedAt != nil || first.ArchivedBy != "" {
		t.Fatalf("expected restored entry without stamps, got %+v", first)
	}
}

func TestLogDeleteNeedsConfirmation(t *testing.T) {
	h := newHarness(t, fullActor, loggedRow())
	prompt := h.dispatch(t, LogDeleteRequested{RowID: "r1", Kind: cues.LogDirector, ViewIndex: 1})
	if prompt.Status != StatusNeedsConfirmation {
		t.Fatalf("expected confirmation, got %+v", prompt)
	}
	h.dispatch(t, LogDeleteRequested{RowID: "r1", Kind: cues.LogDirector, ViewIndex: 1, Confirmed: true})
	var remaining []string
	for _, entry := range h.store.row("r1").DirectorLog {
		remaining = append(remaining, entry.ID)
	}
	if diff := cmp.Diff([]string{"e1", "e2"}, remaining); diff != "" {
		t.Fatalf("delete mismatch (-want +got):\n%s", diff)
	}
	if missing := h.dispatch(t, LogDeleteRequested{RowID: "r1", Kind: cues.LogDirector, ViewIndex: 5, Confirmed: true}); !errors.Is(missing.Err, ErrInvalidValue) {
		t.Fatalf("expected out-of-range index to be rejected, got %+v", missing)
	}
}

func TestLogWriteFailureDropsOverlay(t *testing.T) {
	h := newHarness(t, fullActor, loggedRow())
	h.store.failCommit = errors.New("offline")
	h.dispatch(t, LogAppendRequested{RowID: "r1", Kind: cues.LogComment, Text: "note"})
	if got := len(h.displayed(t, "r1").CommentLog); got != 0 {
		t.Fatalf("expected overlay discarded, got %d entries", got)
	}
}

func TestFrameRateChangeRewritesIntervalsInOneBatch(t *testing.T) {
	rows := append(timedRows(), cues.Row{ID: "r4", M: "4", In: "00:00:10:20", Out: "00:00:11:05", Interval: "00:00:00:09", UpdatedAt: testNow})
	h := newHarness(t, fullActor, rows...)

	outcome := h.dispatch(t, FrameRateChanged{FrameRate: " 30 "})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	batch := h.store.commits[0]
	if batch.Settings == nil || batch.Settings.FrameRate != "30" {
		t.Fatalf("expected the frame rate in the batch, got %+v", batch.Settings)
	}
	if len(batch.Rows) != 1 || batch.Rows[0].RowID != "r4" || batch.Rows[0].Patch.Fields[cues.FieldInterval] != "00:00:00:15" {
		t.Fatalf("expected only r4 to be recomputed, got %+v", batch.Rows)
	}

	h.dispatch(t, SnapshotReceived{Snapshot: h.store.settingsSnapshot()})
	if again := h.dispatch(t, FrameRateChanged{FrameRate: "30"}); again.Status != StatusIgnored {
		t.Fatalf("expected unchanged rate to be ignored, got %+v", again)
	}
	if invalid := h.dispatch(t, FrameRateChanged{FrameRate: "0"}); !errors.Is(invalid.Err, ErrInvalidValue) {
		t.Fatalf("expected invalid rate to be rejected, got %+v", invalid)
	}
}

func TestSaveStatusesReplacesRegistry(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	if empty := h.dispatch(t, StatusesSaveRequested{Statuses: []registry.Entry{{Label: "  "}}}); !errors.Is(empty.Err, ErrInvalidValue) {
		t.Fatalf("expected empty list to be rejected, got %+v", empty)
	}

	outcome := h.dispatch(t, StatusesSaveRequested{Statuses: []registry.Entry{{Label: " hold ", Color: "#123456"}, {Label: "hold"}}})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	want := []registry.Entry{{Value: "hold", Label: "hold", Color: "#123456"}}
	if diff := cmp.Diff(want, h.store.commits[0].Settings.Statuses); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}

	h.dispatch(t, SnapshotReceived{Snapshot: h.store.settingsSnapshot()})
	if edit := h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldStatus, NewValue: "hold"}); edit.Status != StatusApplied {
		t.Fatalf("expected new status to be accepted, got %+v", edit)
	}
	if edit := h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldStatus, NewValue: "wip"}); !errors.Is(edit.Err, ErrInvalidValue) {
		t.Fatalf("expected removed status to be rejected, got %+v", edit)
	}
}

func TestRemoteSelectionBuildsPreview(t *testing.T) {
	row := loggedRow()
	row.Reference = "https://youtu.be/dQw4w9WgXcQ"
	h := newHarness(t, fullActor, row)

	outcome := h.dispatch(t, RemoteSelectionReceived{Message: bridge.Message{
		Type: bridge.MessageTrackSelect, CueID: testProjectID + "__r1", TrackID: "t9", TrackName: "Main theme",
	}})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	preview := h.view.previews[len(h.view.previews)-1]
	if !preview.Found || preview.RowID != "r1" || preview.TrackName != "Main theme" {
		t.Fatalf("unexpected preview %+v", preview)
	}
	if len(preview.DirectorLog) != 3 || preview.DirectorLog[0].Text != "third" || len(preview.References) != 1 {
		t.Fatalf("unexpected preview contents %+v", preview)
	}

	foreign := h.dispatch(t, RemoteSelectionReceived{Message: bridge.Message{Type: bridge.MessageTrackSelect, CueID: "other__r1"}})
	if foreign.Status != StatusIgnored || !errors.Is(foreign.Err, bridge.ErrForeignProject) {
		t.Fatalf("expected foreign cue to be ignored, got %+v", foreign)
	}
	other := h.dispatch(t, RemoteSelectionReceived{Message: bridge.Message{Type: "SCHEDULE_PROJECT_SELECT", CueID: "r1"}})
	if other.Status != StatusIgnored {
		t.Fatalf("expected other message types to be ignored, got %+v", other)
	}
}

func TestStaleAndForeignSnapshotsAreIgnored(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	stale := h.store.rowsSnapshot()
	h.sync(t)
	if outcome := h.dispatch(t, SnapshotReceived{Snapshot: stale}); outcome.Status != StatusIgnored {
		t.Fatalf("expected stale snapshot to be ignored, got %+v", outcome)
	}
	foreign := h.store.rowsSnapshot()
	foreign.ProjectID = "elsewhere"
	if outcome := h.dispatch(t, SnapshotReceived{Snapshot: foreign}); outcome.Status != StatusIgnored {
		t.Fatalf("expected foreign snapshot to be ignored, got %+v", outcome)
	}
}

func TestScheduleSnapshotMarksNextDate(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, SnapshotReceived{Snapshot: docstore.Snapshot{
		ProjectID: testProjectID,
		Topic:     docstore.TopicSchedule,
		Sequence:  100,
		Found:     true,
		Board: cues.ScheduleBoard{
			Statuses: []cues.ScheduleStatus{{Name: "mix", Color: "#ff0000"}},
			Schedule: map[string]map[string]string{"r2": {"2024-08-30": "mix", "2024-09-03": "mix"}},
		},
	}})
	next := h.displayed(t, "r2").Next
	if next == nil || next.Date != "2024-09-03" || next.Color != "#ff0000" {
		t.Fatalf("unexpected next schedule %+v", next)
	}
}

type startedView struct {
	NopView
	rows chan []cues.Row
}

func (v *startedView) RowsChanged(rows []cues.Row) {
	select {
	case v.rows <- rows:
	default:
	}
}

func TestSessionAgainstDocumentStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:editor_session?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(docstore.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := docstore.NewStore(docstore.StoreConfig{Database: db, IDProvider: docstore.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	created, err := store.CreateRow(ctx, testProjectID, cues.Row{M: "1", In: "00:00:10:00"}, "seed")
	if err != nil {
		t.Fatalf("failed to seed row: %v", err)
	}

	view := &startedView{rows: make(chan []cues.Row, 16)}
	session, err := NewSession(Config{ProjectID: testProjectID, Actor: fullActor, Store: store, View: view})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := session.Start(ctx); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	defer session.Close()

	waitForRow := func(match func(cues.Row) bool) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case rows := <-view.rows:
				for _, row := range rows {
					if row.ID == created.ID && match(row) {
						return
					}
				}
			case <-deadline:
				t.Fatalf("timed out waiting for row update")
			}
		}
	}
	waitForRow(func(cues.Row) bool { return true })

	outcome := session.Dispatch(ctx, CellEditRequested{RowID: created.ID, Field: cues.FieldOut, NewValue: "00:00:12:12"})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	waitForRow(func(row cues.Row) bool { return row.Interval == "00:00:02:12" && row.UpdatedBy == fullActor.Email })

	stored, err := store.GetRow(ctx, testProjectID, created.ID)
	if err != nil {
		t.Fatalf("failed to load row: %v", err)
	}
	if stored.Out != "00:00:12:12" || stored.Interval != "00:00:02:12" {
		t.Fatalf("unexpected stored row %+v", stored)
	}
}

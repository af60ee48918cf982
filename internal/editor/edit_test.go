package editor

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

func TestCellEditRecomputesInterval(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)

	outcome := h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldOut, NewValue: "00:00:09:00", OldValue: "00:00:12:12"})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	if h.store.commitCount() != 1 {
		t.Fatalf("expected one commit, got %d", h.store.commitCount())
	}
	want := cues.FieldPatch{cues.FieldOut: "00:00:09:00", cues.FieldInterval: "-00:00:01:00"}
	if diff := cmp.Diff(want, h.store.commits[0].Rows[0].Patch.Fields); diff != "" {
		t.Fatalf("commit mismatch (-want +got):\n%s", diff)
	}
	if value, _ := h.view.lastCell("r1", cues.FieldInterval); value != "-00:00:01:00" {
		t.Fatalf("expected interval cell to be pushed, got %q", value)
	}
	if h.store.commits[0].By != fullActor.Email {
		t.Fatalf("expected commit by %s, got %s", fullActor.Email, h.store.commits[0].By)
	}

	if got := h.displayed(t, "r1").Interval; got != "-00:00:01:00" {
		t.Fatalf("expected optimistic interval, got %q", got)
	}
	h.sync(t)
	state := h.session.State(cues.Filter{})
	for _, row := range state.Rows {
		if row.Pending {
			t.Fatalf("expected overlay to be reconciled after snapshot, row %s pending", row.ID)
		}
	}
	if state.UndoDepth != 1 {
		t.Fatalf("expected one undo unit, got %d", state.UndoDepth)
	}
}

func TestCellEditWithUnparsableBoundaryClearsInterval(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldIn, NewValue: "soon"})
	if got := h.store.commits[0].Rows[0].Patch.Fields[cues.FieldInterval]; got != "" {
		t.Fatalf("expected empty interval, got %q", got)
	}
}

func TestBulkEditCoversSelectionAndEditedRow(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, BulkModeToggled{Enabled: true})
	h.dispatch(t, RowSelected{RowID: "r1"})
	h.dispatch(t, RowSelected{RowID: "r2", Additive: true})

	outcome := h.dispatch(t, CellEditRequested{RowID: "r3", Field: cues.FieldStatus, NewValue: " wip "})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	if h.store.commitCount() != 1 {
		t.Fatalf("expected a single batch, got %d commits", h.store.commitCount())
	}
	written := make([]string, 0, 3)
	for _, write := range h.store.commits[0].Rows {
		written = append(written, write.RowID)
		if write.Patch.Fields[cues.FieldStatus] != "wip" {
			t.Fatalf("expected trimmed status on %s, got %+v", write.RowID, write.Patch.Fields)
		}
	}
	if diff := cmp.Diff([]string{"r1", "r2", "r3"}, written); diff != "" {
		t.Fatalf("bulk targets mismatch (-want +got):\n%s", diff)
	}
}

func TestBulkTimecodeEditRecomputesEachInterval(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, BulkModeToggled{Enabled: true})
	h.dispatch(t, RowSelected{RowID: "r1"})
	h.dispatch(t, RowSelected{RowID: "r2", Additive: true})

	h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldIn, NewValue: "00:00:00:00"})
	intervals := map[string]string{}
	for _, write := range h.store.commits[0].Rows {
		intervals[write.RowID] = write.Patch.Fields[cues.FieldInterval]
	}
	want := map[string]string{"r1": "00:00:12:12", "r2": "00:01:01:00"}
	if diff := cmp.Diff(want, intervals); diff != "" {
		t.Fatalf("interval mismatch (-want +got):\n%s", diff)
	}
}

func TestBulkModeSkipsIneligibleFields(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, BulkModeToggled{Enabled: true})
	h.dispatch(t, RowSelected{RowID: "r1"})
	h.dispatch(t, RowSelected{RowID: "r2", Additive: true})

	h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldReference, NewValue: "https://example.com/a"})
	if rows := h.store.commits[0].Rows; len(rows) != 1 || rows[0].RowID != "r1" {
		t.Fatalf("expected only the edited row, got %+v", rows)
	}
}

func TestBulkEditFailureLeavesEveryRowUntouched(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, BulkModeToggled{Enabled: true})
	h.dispatch(t, RowSelected{RowID: "r1"})
	h.dispatch(t, RowSelected{RowID: "r2", Additive: true})
	h.dispatch(t, RowSelected{RowID: "r3", Additive: true})
	h.store.failCommit = errors.New("offline")

	outcome := h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldScene, NewValue: "chase"})
	if outcome.Status != StatusFailed || !errors.Is(outcome.Err, ErrWriteFailed) {
		t.Fatalf("expected write failure, got %+v", outcome)
	}
	for _, rowID := range []string{"r1", "r2", "r3"} {
		if h.store.row(rowID).Scene != "" {
			t.Fatalf("expected %s untouched in the store", rowID)
		}
		if h.displayed(t, rowID).Scene != "" {
			t.Fatalf("expected %s overlay to be discarded", rowID)
		}
		if value, _ := h.view.lastCell(rowID, cues.FieldScene); value != "" {
			t.Fatalf("expected %s cell to be restored, got %q", rowID, value)
		}
	}
	if depth := h.session.State(cues.Filter{}).UndoDepth; depth != 0 {
		t.Fatalf("expected no undo unit, got %d", depth)
	}
	if len(h.view.notices) == 0 || h.view.notices[len(h.view.notices)-1] != noticeWriteFailed {
		t.Fatalf("expected failure notice, got %v", h.view.notices)
	}
}

func TestEditRejections(t *testing.T) {
	testCases := []struct {
		name    string
		setup   func(*harness)
		edit    CellEditRequested
		wantErr error
	}{
		{
			name:    "signed out",
			edit:    CellEditRequested{RowID: "r1", Field: cues.FieldScene, NewValue: "x"},
			wantErr: ErrNotSignedIn,
		},
		{
			name:    "calculated column",
			edit:    CellEditRequested{RowID: "r1", Field: cues.FieldInterval, NewValue: "00:00:01:00"},
			wantErr: ErrFieldNotEditable,
		},
		{
			name:    "field outside the schema",
			edit:    CellEditRequested{RowID: "r1", Field: cues.Field("foo"), NewValue: "x"},
			wantErr: ErrFieldNotEditable,
		},
		{
			name:    "unknown status",
			edit:    CellEditRequested{RowID: "r1", Field: cues.FieldStatus, NewValue: "bogus"},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "unknown length",
			edit:    CellEditRequested{RowID: "r1", Field: cues.FieldLen, NewValue: "forever"},
			wantErr: ErrInvalidValue,
		},
		{
			name:    "missing row",
			edit:    CellEditRequested{RowID: "ghost", Field: cues.FieldScene, NewValue: "x", OldValue: "y"},
			wantErr: ErrRowNotFound,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			actor := fullActor
			if testCase.wantErr == ErrNotSignedIn {
				actor = nil
			}
			h := newHarness(t, actor, timedRows()...)
			outcome := h.dispatch(t, testCase.edit)
			if outcome.Status != StatusRejected || !errors.Is(outcome.Err, testCase.wantErr) {
				t.Fatalf("expected %v, got %+v", testCase.wantErr, outcome)
			}
			if h.store.commitCount() != 0 {
				t.Fatalf("expected no writes")
			}
			if _, pushed := h.view.lastCell(testCase.edit.RowID, testCase.edit.Field); !pushed {
				t.Fatalf("expected the cell to be reverted")
			}
		})
	}
}

func TestLimitedAccessRevertsWithoutReentry(t *testing.T) {
	h := newHarness(t, guestActor, timedRows()...)
	h.view.echo = true

	outcome := h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldStatus, NewValue: "wip", OldValue: ""})
	if !errors.Is(outcome.Err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %+v", outcome)
	}
	if h.store.commitCount() != 0 {
		t.Fatalf("expected no write")
	}
	if value, _ := h.view.lastCell("r1", cues.FieldStatus); value != "" {
		t.Fatalf("expected status reverted to empty, got %q", value)
	}
	if len(h.view.echoOutcomes) != 1 || h.view.echoOutcomes[0].Status != StatusIgnored {
		t.Fatalf("expected the reverted cell to be ignored, got %+v", h.view.echoOutcomes)
	}

	reference := h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldReference, NewValue: "https://youtu.be/abc"})
	if reference.Status != StatusApplied {
		t.Fatalf("expected limited access to edit references, got %+v", reference)
	}
}

func TestProgrammaticCellsAreNotReapplied(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.view.echo = true
	h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldOut, NewValue: "00:00:20:00"})
	if h.store.commitCount() != 1 {
		t.Fatalf("expected exactly one commit, got %d", h.store.commitCount())
	}
	for _, echoed := range h.view.echoOutcomes {
		if echoed.Status != StatusIgnored {
			t.Fatalf("expected echoed cells to be ignored, got %+v", echoed)
		}
	}
}

func TestUndoRevertsOneUnit(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, BulkModeToggled{Enabled: true})
	h.dispatch(t, RowSelected{RowID: "r1"})
	h.dispatch(t, RowSelected{RowID: "r2", Additive: true})
	h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldStatus, NewValue: "wip"})
	h.sync(t)

	outcome := h.dispatch(t, UndoRequested{})
	if outcome.Status != StatusApplied || outcome.Notice != noticeUndone {
		t.Fatalf("expected undo to apply, got %+v", outcome)
	}
	if h.store.commitCount() != 2 || len(h.store.commits[1].Rows) != 2 {
		t.Fatalf("expected undo as one two-row batch, got %+v", h.store.commits)
	}
	h.sync(t)
	for _, rowID := range []string{"r1", "r2"} {
		if status := h.store.row(rowID).Status; status != "" {
			t.Fatalf("expected %s status restored, got %q", rowID, status)
		}
	}

	again := h.dispatch(t, UndoRequested{})
	if !errors.Is(again.Err, ErrNothingToUndo) || again.Notice != noticeNothingToUndo {
		t.Fatalf("expected nothing to undo, got %+v", again)
	}
}

func TestUndoRestoresIntervalWithBoundary(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldOut, NewValue: "00:00:09:00"})
	h.sync(t)
	h.dispatch(t, UndoRequested{})
	h.sync(t)
	row := h.store.row("r1")
	if row.Out != "00:00:12:12" || row.Interval != "00:00:02:12" {
		t.Fatalf("expected boundary and interval restored, got %+v", row)
	}
}

func TestUndoKeepsUnitWhenCommitFails(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldScene, NewValue: "chase"})
	h.sync(t)

	h.store.failCommit = errors.New("offline")
	if outcome := h.dispatch(t, UndoRequested{}); outcome.Status != StatusFailed {
		t.Fatalf("expected failure, got %+v", outcome)
	}
	if depth := h.session.State(cues.Filter{}).UndoDepth; depth != 1 {
		t.Fatalf("expected the unit to stay on the stack, got depth %d", depth)
	}
	h.store.failCommit = nil
	if outcome := h.dispatch(t, UndoRequested{}); outcome.Status != StatusApplied {
		t.Fatalf("expected retry to apply, got %+v", outcome)
	}
}

func TestUndoRequiresFullAccess(t *testing.T) {
	h := newHarness(t, guestActor, timedRows()...)
	h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldReference, NewValue: "https://example.com"})
	outcome := h.dispatch(t, UndoRequested{})
	if !errors.Is(outcome.Err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %+v", outcome)
	}
}

func TestGuestSimulation(t *testing.T) {
	h := newHarness(t, adminActor, timedRows()...)
	h.dispatch(t, BulkModeToggled{Enabled: true})

	outcome := h.dispatch(t, GuestSimulationToggled{Enabled: true})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected applied, got %+v", outcome)
	}
	state := h.session.State(cues.Filter{})
	if state.BulkMode || state.FullAccess || !state.GuestSimulation {
		t.Fatalf("expected guest view without bulk mode, got %+v", state)
	}
	if edit := h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldStatus, NewValue: "wip"}); !errors.Is(edit.Err, ErrPermissionDenied) {
		t.Fatalf("expected status edit to be denied, got %+v", edit)
	}
	if edit := h.dispatch(t, CellEditRequested{RowID: "r1", Field: cues.FieldReference, NewValue: "https://example.com"}); edit.Status != StatusApplied {
		t.Fatalf("expected reference edit to apply, got %+v", edit)
	}
	if bulk := h.dispatch(t, BulkModeToggled{Enabled: true}); !errors.Is(bulk.Err, ErrPermissionDenied) {
		t.Fatalf("expected bulk mode to be refused, got %+v", bulk)
	}

	h.dispatch(t, GuestSimulationToggled{Enabled: false})
	if !h.session.State(cues.Filter{}).FullAccess {
		t.Fatalf("expected full access restored")
	}
}

func TestGuestSimulationRequiresAdmin(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	if outcome := h.dispatch(t, GuestSimulationToggled{Enabled: true}); !errors.Is(outcome.Err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %+v", outcome)
	}
}

func TestSessionClosedRejectsEvents(t *testing.T) {
	h := newHarness(t, fullActor, timedRows()...)
	h.session.Close()
	if outcome := h.dispatch(t, UndoRequested{}); !errors.Is(outcome.Err, ErrSessionClosed) {
		t.Fatalf("expected closed session, got %+v", outcome)
	}
}

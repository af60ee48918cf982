package editor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/bridge"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/permissions"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
)

const testProjectID = "project-1"

var (
	testNow    = time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	fullActor  = &permissions.Actor{UserID: "u-full", Email: "lead@example.com", Role: permissions.Role{FullAccess: true}}
	adminActor = &permissions.Actor{UserID: "u-admin", Email: "admin@example.com", Role: permissions.Role{FullAccess: true}, Admin: true}
	guestActor = &permissions.Actor{UserID: "u-guest", Email: "guest@example.com", Role: permissions.Role{Limited: true}}
)

type fakeStore struct {
	mu            sync.Mutex
	rows          map[string]cues.Row
	settings      cues.Settings
	settingsFound bool
	commits       []docstore.Batch
	deletes       [][]string
	failCommit    error
	failCreate    error
	failDelete    error
	nextID        int
	sequence      int64
	now           time.Time
}

func newFakeStore(rows ...cues.Row) *fakeStore {
	store := &fakeStore{rows: make(map[string]cues.Row), now: testNow}
	for _, row := range rows {
		store.rows[row.ID] = row.Clone()
	}
	return store
}

func (f *fakeStore) Commit(_ context.Context, projectID string, batch docstore.Batch) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommit != nil {
		return time.Time{}, f.failCommit
	}
	for _, write := range batch.Rows {
		if _, ok := f.rows[write.RowID]; !ok {
			return time.Time{}, docstore.ErrRowMissing
		}
	}
	if batch.Settings != nil && !f.settingsFound {
		return time.Time{}, docstore.ErrSettingsMissing
	}
	f.now = f.now.Add(time.Second)
	for _, write := range batch.Rows {
		row := f.rows[write.RowID]
		write.Patch.Apply(&row)
		row.UpdatedAt, row.UpdatedBy = f.now, batch.By
		f.rows[write.RowID] = row
	}
	if batch.Settings != nil {
		if batch.Settings.Statuses != nil {
			f.settings.Statuses = batch.Settings.Statuses
		}
		if batch.Settings.FrameRate != "" {
			f.settings.FrameRate = batch.Settings.FrameRate
		}
		f.settings.UpdatedAt, f.settings.UpdatedBy = f.now, batch.By
	}
	f.commits = append(f.commits, batch)
	return f.now, nil
}

func (f *fakeStore) CreateRow(_ context.Context, _ string, row cues.Row, by string) (cues.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return cues.Row{}, f.failCreate
	}
	f.nextID++
	f.now = f.now.Add(time.Second)
	row.ID = fmt.Sprintf("new-%d", f.nextID)
	row.CreatedAt, row.CreatedBy = f.now, by
	row.UpdatedAt, row.UpdatedBy = f.now, by
	f.rows[row.ID] = row
	return row, nil
}

func (f *fakeStore) DeleteRows(_ context.Context, _ string, rowIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		return f.failDelete
	}
	for _, rowID := range rowIDs {
		delete(f.rows, rowID)
	}
	f.deletes = append(f.deletes, append([]string(nil), rowIDs...))
	return nil
}

func (f *fakeStore) EnsureSettings(_ context.Context, _ string, seed cues.Settings, by string) (cues.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settingsFound {
		f.settings = seed.Clone()
		f.settings.UpdatedBy = by
		f.settingsFound = true
	}
	return f.settings.Clone(), nil
}

func (f *fakeStore) SubscribeRows(context.Context, string) (<-chan docstore.Snapshot, func(), error) {
	stream := make(chan docstore.Snapshot, 1)
	stream <- f.rowsSnapshot()
	return stream, func() {}, nil
}

func (f *fakeStore) SubscribeSettings(context.Context, string) (<-chan docstore.Snapshot, func(), error) {
	stream := make(chan docstore.Snapshot, 1)
	stream <- f.settingsSnapshot()
	return stream, func() {}, nil
}

func (f *fakeStore) SubscribeSchedule(context.Context, string) (<-chan docstore.Snapshot, func(), error) {
	return make(chan docstore.Snapshot), func() {}, nil
}

func (f *fakeStore) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("id-%d", f.nextID), nil
}

func (f *fakeStore) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeStore) rowsSnapshot() docstore.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence++
	rows := make([]cues.Row, 0, len(f.rows))
	for _, row := range f.rows {
		rows = append(rows, row.Clone())
	}
	sort.SliceStable(rows, func(left, right int) bool { return cues.Less(rows[left], rows[right]) })
	return docstore.Snapshot{ProjectID: testProjectID, Topic: docstore.TopicRows, Sequence: f.sequence, Rows: rows, Found: true}
}

func (f *fakeStore) settingsSnapshot() docstore.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence++
	return docstore.Snapshot{ProjectID: testProjectID, Topic: docstore.TopicSettings, Sequence: f.sequence, Settings: f.settings.Clone(), Found: f.settingsFound}
}

func (f *fakeStore) row(rowID string) cues.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[rowID].Clone()
}

func (f *fakeStore) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

type cellSet struct {
	rowID string
	field cues.Field
	value string
}

type recordingView struct {
	mu           sync.Mutex
	session      *Session
	echo         bool
	cells        []cellSet
	echoOutcomes []Outcome
	notices      []string
	rowsChanged  [][]cues.Row
	previews     []bridge.Preview
	settings     []cues.Settings
}

func (v *recordingView) SetCell(ctx context.Context, rowID string, field cues.Field, value string) {
	v.mu.Lock()
	v.cells = append(v.cells, cellSet{rowID: rowID, field: field, value: value})
	echo, session := v.echo, v.session
	v.mu.Unlock()
	if echo && session != nil {
		outcome := session.Dispatch(ctx, CellEditRequested{RowID: rowID, Field: field, NewValue: value})
		v.mu.Lock()
		v.echoOutcomes = append(v.echoOutcomes, outcome)
		v.mu.Unlock()
	}
}

func (v *recordingView) Notify(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, message)
}

func (v *recordingView) RowsChanged(rows []cues.Row) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rowsChanged = append(v.rowsChanged, rows)
}

func (v *recordingView) SettingsChanged(settings cues.Settings) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.settings = append(v.settings, settings)
}

func (v *recordingView) PreviewChanged(preview bridge.Preview) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.previews = append(v.previews, preview)
}

func (v *recordingView) lastCell(rowID string, field cues.Field) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for index := len(v.cells) - 1; index >= 0; index-- {
		if v.cells[index].rowID == rowID && v.cells[index].field == field {
			return v.cells[index].value, true
		}
	}
	return "", false
}

type harness struct {
	session *Session
	store   *fakeStore
	view    *recordingView
}

func newHarness(t *testing.T, actor *permissions.Actor, rows ...cues.Row) *harness {
	t.Helper()
	store := newFakeStore(rows...)
	store.settings = cues.Settings{Statuses: registry.DefaultStatuses(), FrameRate: "24"}
	store.settingsFound = true
	view := &recordingView{}
	session, err := NewSession(Config{
		ProjectID: testProjectID,
		Actor:     actor,
		Store:     store,
		View:      view,
		Clock:     func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	view.session = session
	h := &harness{session: session, store: store, view: view}
	h.dispatch(t, SnapshotReceived{Snapshot: store.settingsSnapshot()})
	h.sync(t)
	return h
}

func (h *harness) dispatch(t *testing.T, event Event) Outcome {
	t.Helper()
	return h.session.Dispatch(context.Background(), event)
}

// sync delivers the store's current rows as the next snapshot.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	outcome := h.dispatch(t, SnapshotReceived{Snapshot: h.store.rowsSnapshot()})
	if outcome.Status != StatusApplied {
		t.Fatalf("expected snapshot to apply, got %+v", outcome)
	}
}

func (h *harness) displayed(t *testing.T, rowID string) cues.Row {
	t.Helper()
	for _, row := range h.session.State(cues.Filter{}).Rows {
		if row.ID == rowID {
			return row.Row
		}
	}
	t.Fatalf("row %s not displayed", rowID)
	return cues.Row{}
}

func timedRows() []cues.Row {
	return []cues.Row{
		{ID: "r1", M: "1", In: "00:00:10:00", Out: "00:00:12:12", Interval: "00:00:02:12", UpdatedAt: testNow},
		{ID: "r2", M: "2", In: "00:01:00:00", Out: "00:01:01:00", Interval: "00:00:01:00", UpdatedAt: testNow},
		{ID: "r3", M: "3", UpdatedAt: testNow},
	}
}

// Package editor is the cue sheet edit engine of one project view. A Session owns the
// view's row store, selection, undo stack and toggles, and serializes every user
// action and store snapshot through Dispatch.
package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/bridge"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/docstore"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/grid"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/permissions"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/registry"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/timecode"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/undo"
)

var (
	errMissingStore = errors.New("store is required")
	noOpLogger      = zap.NewNop()
)

// Store is the document store surface the session needs.
type Store interface {
	Commit(ctx context.Context, projectID string, batch docstore.Batch) (time.Time, error)
	CreateRow(ctx context.Context, projectID string, row cues.Row, by string) (cues.Row, error)
	DeleteRows(ctx context.Context, projectID string, rowIDs []string) error
	EnsureSettings(ctx context.Context, projectID string, seed cues.Settings, by string) (cues.Settings, error)
	SubscribeRows(ctx context.Context, projectID string) (<-chan docstore.Snapshot, func(), error)
	SubscribeSettings(ctx context.Context, projectID string) (<-chan docstore.Snapshot, func(), error)
	SubscribeSchedule(ctx context.Context, projectID string) (<-chan docstore.Snapshot, func(), error)
	NewID() (string, error)
	Now() time.Time
}

// View receives render updates. Calls are made while the session is locked, so
// implementations must not block. A view that echoes SetCell back as a cell edit
// must dispatch with the context it was handed.
type View interface {
	SetCell(ctx context.Context, rowID string, field cues.Field, value string)
	Notify(message string)
	RowsChanged(rows []cues.Row)
	SettingsChanged(settings cues.Settings)
	PreviewChanged(preview bridge.Preview)
}

// Config wires a Session.
type Config struct {
	ProjectID        string
	Actor            *permissions.Actor
	Store            Store
	View             View
	Clock            func() time.Time
	Logger           *zap.Logger
	UndoCapacity     int
	SeedStatuses     []registry.Entry
	DefaultFrameRate string
	// InitialCueID is focused once it arrives in a snapshot.
	InitialCueID string
}

// Session is the explicit context object of one open project view.
type Session struct {
	projectID        string
	actor            *permissions.Actor
	store            Store
	view             View
	clock            func() time.Time
	logger           *zap.Logger
	seedStatuses     []registry.Entry
	defaultFrameRate string

	mu              sync.Mutex
	rows            *grid.Store
	settings        cues.Settings
	statuses        registry.Registry
	lengths         registry.Registry
	history         *undo.Stack
	bulkMode        bool
	guestSimulation bool
	pendingFocus    string
	lastSequence    map[docstore.Topic]int64
	remote          *bridge.Selection
	closed          bool

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewSession validates the configuration and constructs an idle session.
func NewSession(cfg Config) (*Session, error) {
	projectID, err := cues.NewProjectID(cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	view := cfg.View
	if view == nil {
		view = NopView{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	seed := registry.NormalizeStatuses(cfg.SeedStatuses)
	if len(seed) == 0 {
		seed = registry.DefaultStatuses()
	}
	frameRate := cfg.DefaultFrameRate
	if _, ok := timecode.ParseFrameRate(frameRate); !ok {
		frameRate = "24"
	}
	var actor *permissions.Actor
	if cfg.Actor != nil {
		copied := *cfg.Actor
		actor = &copied
	}
	return &Session{
		projectID:        projectID,
		actor:            actor,
		store:            cfg.Store,
		view:             view,
		clock:            clock,
		logger:           logger.With(zap.String("project_id", projectID)),
		seedStatuses:     seed,
		defaultFrameRate: frameRate,
		rows:             grid.NewStore(),
		settings:         cues.Settings{Statuses: seed, FrameRate: frameRate},
		statuses:         registry.MustNew(seed),
		lengths:          registry.MustNew(registry.LengthBuckets()),
		history:          undo.NewStack(cfg.UndoCapacity),
		pendingFocus:     cfg.InitialCueID,
		lastSequence:     make(map[docstore.Topic]int64),
	}, nil
}

// ProjectID returns the project the session edits.
func (s *Session) ProjectID() string {
	return s.projectID
}

// Start seeds the settings document when absent, subscribes to the project and
// applies snapshots until ctx ends or Close is called.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)

	by := ""
	if s.actor != nil {
		by = s.actor.Name()
	}
	if _, err := s.store.EnsureSettings(runCtx, s.projectID, cues.Settings{Statuses: s.seedStatuses, FrameRate: s.defaultFrameRate}, by); err != nil {
		cancel()
		s.logError("editor.start", "ensure_settings_failed", err)
		return err
	}

	rowsStream, rowsCleanup, err := s.store.SubscribeRows(runCtx, s.projectID)
	if err != nil {
		cancel()
		s.logError("editor.start", "subscribe_rows_failed", err)
		return err
	}
	settingsStream, settingsCleanup, err := s.store.SubscribeSettings(runCtx, s.projectID)
	if err != nil {
		rowsCleanup()
		cancel()
		s.logError("editor.start", "subscribe_settings_failed", err)
		return err
	}
	scheduleStream, scheduleCleanup, err := s.store.SubscribeSchedule(runCtx, s.projectID)
	if err != nil {
		rowsCleanup()
		settingsCleanup()
		cancel()
		s.logError("editor.start", "subscribe_schedule_failed", err)
		return err
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		defer rowsCleanup()
		defer settingsCleanup()
		defer scheduleCleanup()
		for {
			var snapshot docstore.Snapshot
			select {
			case <-runCtx.Done():
				return
			case snapshot = <-rowsStream:
			case snapshot = <-settingsStream:
			case snapshot = <-scheduleStream:
			}
			s.Dispatch(runCtx, SnapshotReceived{Snapshot: snapshot})
		}
	}()
	return nil
}

// Close stops the subscription loop and waits for it to exit. Later events are
// rejected with ErrSessionClosed.
func (s *Session) Close() {
	s.lifecycleMu.Lock()
	cancel, done := s.cancel, s.done
	s.lifecycleMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type applyingKey struct{}

func withApplying(ctx context.Context) context.Context {
	return context.WithValue(ctx, applyingKey{}, true)
}

func isApplying(ctx context.Context) bool {
	applying, _ := ctx.Value(applyingKey{}).(bool)
	return applying
}

// Dispatch handles one event. Events raised while the session is programmatically
// setting cells are dropped.
func (s *Session) Dispatch(ctx context.Context, event Event) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	if isApplying(ctx) {
		return ignored()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return rejected(ErrSessionClosed, "")
	}

	var outcome Outcome
	switch typed := event.(type) {
	case CellEditRequested:
		outcome = s.handleCellEdit(ctx, typed)
	case UndoRequested:
		outcome = s.handleUndo(ctx)
	case RowsReordered:
		outcome = s.handleReorder(ctx, typed)
	case RowAddRequested:
		outcome = s.handleAddRow(ctx)
	case RowsDeleteRequested:
		outcome = s.handleDeleteRows(ctx, typed)
	case RowSelected:
		outcome = s.handleSelect(typed)
	case RowDeselected:
		s.rows.Deselect(typed.RowID)
		outcome = applied("")
	case SelectionCleared:
		s.rows.ClearSelection()
		outcome = applied("")
	case RemoteSelectionReceived:
		outcome = s.handleRemoteSelection(typed)
	case LogAppendRequested:
		outcome = s.handleLogAppend(ctx, typed)
	case LogArchiveRequested:
		outcome = s.handleLogArchive(ctx, typed)
	case LogDeleteRequested:
		outcome = s.handleLogDelete(ctx, typed)
	case BulkModeToggled:
		outcome = s.handleBulkMode(typed)
	case GuestSimulationToggled:
		outcome = s.handleGuestSimulation(typed)
	case StatusesSaveRequested:
		outcome = s.handleSaveStatuses(ctx, typed)
	case FrameRateChanged:
		outcome = s.handleFrameRate(ctx, typed)
	case InspectorSaveRequested:
		outcome = s.handleInspectorSave(ctx, typed)
	case SnapshotReceived:
		outcome = s.handleSnapshot(typed.Snapshot)
	default:
		outcome = rejected(ErrUnknownEvent, "")
	}
	if event != nil && outcome.Status != StatusApplied {
		s.logger.Debug("event not applied",
			zap.String("event", event.eventName()),
			zap.String("status", string(outcome.Status)),
			zap.Error(outcome.Err))
	}
	if outcome.Notice != "" {
		s.view.Notify(outcome.Notice)
	}
	return outcome
}

func (s *Session) gate() permissions.Gate {
	return permissions.NewGate(s.actor).WithGuestSimulation(s.guestSimulation)
}

func (s *Session) actorName() string {
	if s.actor == nil {
		return ""
	}
	return s.actor.Name()
}

func (s *Session) frameRate() int {
	if fps, ok := timecode.ParseFrameRate(s.settings.FrameRate); ok {
		return fps
	}
	fps, _ := timecode.ParseFrameRate(s.defaultFrameRate)
	return fps
}

// applyCells pushes programmatic cell values to the view under the applying guard.
func (s *Session) applyCells(ctx context.Context, rowID string, patch cues.FieldPatch) {
	applyingCtx := withApplying(ctx)
	for _, field := range cues.ScalarFields() {
		if value, ok := patch[field]; ok {
			s.view.SetCell(applyingCtx, rowID, field, value)
		}
	}
}

func (s *Session) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("editor session error", attrs...)
}

// NopView discards every render update.
type NopView struct{}

func (NopView) SetCell(context.Context, string, cues.Field, string) {}
func (NopView) Notify(string)                                       {}
func (NopView) RowsChanged([]cues.Row)                              {}
func (NopView) SettingsChanged(cues.Settings)                       {}
func (NopView) PreviewChanged(bridge.Preview)                       {}

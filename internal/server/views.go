package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/bridge"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
	"github.com/MarcoPoloResearchLab/cuesheet/internal/editor"
)

const (
	StreamEventRows      = "rows"
	StreamEventSettings  = "settings"
	StreamEventCell      = "cell"
	StreamEventNotice    = "notice"
	StreamEventPreview   = "preview"
	streamEventHeartbeat = "heartbeat"
	outboxBufferSize     = 64
)

var (
	errViewNotFound = errors.New("view not found")
	errTooManyViews = errors.New("too many open views")
)

type streamEvent struct {
	Type    string
	Payload any
}

type cellPayload struct {
	RowID string     `json:"rowId"`
	Field cues.Field `json:"field"`
	Value string     `json:"value"`
}

type noticePayload struct {
	Message string `json:"message"`
}

// viewOutbox is the editor.View of one open view. The session calls it while locked,
// so every push is non-blocking. A rows, settings or preview event replaces any
// queued event of the same type, since each carries a full snapshot. When the queue
// is full the oldest snapshot is evicted first; cell and notice events are evicted
// only when nothing else is queued.
type viewOutbox struct {
	mu    sync.Mutex
	queue []streamEvent
	limit int
	ready chan struct{}
}

func newViewOutbox(size int) *viewOutbox {
	return &viewOutbox{limit: size, ready: make(chan struct{}, 1)}
}

func isSnapshot(eventType string) bool {
	switch eventType {
	case StreamEventRows, StreamEventSettings, StreamEventPreview:
		return true
	default:
		return false
	}
}

func (o *viewOutbox) push(event streamEvent) {
	o.mu.Lock()
	if isSnapshot(event.Type) {
		o.removeFirst(func(queued streamEvent) bool { return queued.Type == event.Type })
	}
	if o.limit > 0 && len(o.queue) >= o.limit {
		if !o.removeFirst(func(queued streamEvent) bool { return isSnapshot(queued.Type) }) {
			o.queue = o.queue[1:]
		}
	}
	o.queue = append(o.queue, event)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *viewOutbox) removeFirst(match func(streamEvent) bool) bool {
	for index, queued := range o.queue {
		if match(queued) {
			o.queue = append(o.queue[:index], o.queue[index+1:]...)
			return true
		}
	}
	return false
}

// drain removes and returns every queued event in order.
func (o *viewOutbox) drain() []streamEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	events := o.queue
	o.queue = nil
	return events
}

func (o *viewOutbox) SetCell(_ context.Context, rowID string, field cues.Field, value string) {
	o.push(streamEvent{Type: StreamEventCell, Payload: cellPayload{RowID: rowID, Field: field, Value: value}})
}

func (o *viewOutbox) Notify(message string) {
	o.push(streamEvent{Type: StreamEventNotice, Payload: noticePayload{Message: message}})
}

func (o *viewOutbox) RowsChanged(rows []cues.Row) {
	o.push(streamEvent{Type: StreamEventRows, Payload: rows})
}

func (o *viewOutbox) SettingsChanged(settings cues.Settings) {
	o.push(streamEvent{Type: StreamEventSettings, Payload: settings})
}

func (o *viewOutbox) PreviewChanged(preview bridge.Preview) {
	o.push(streamEvent{Type: StreamEventPreview, Payload: preview})
}

type openView struct {
	id        string
	projectID string
	userID    string
	session   *editor.Session
	outbox    *viewOutbox
	done      chan struct{}
	closeOnce sync.Once

	// streams counts attached SSE streams; lastSeen is the unix nano time of the
	// last request or stream detach.
	streams  atomic.Int32
	lastSeen atomic.Int64
}

func newOpenView(id, projectID, userID string, session *editor.Session, outbox *viewOutbox, now time.Time) *openView {
	view := &openView{id: id, projectID: projectID, userID: userID, session: session, outbox: outbox, done: make(chan struct{})}
	view.touch(now)
	return view
}

func (v *openView) touch(now time.Time) {
	v.lastSeen.Store(now.UnixNano())
}

// idle reports whether no stream is attached and nothing touched the view since cutoff.
func (v *openView) idle(cutoff time.Time) bool {
	return v.streams.Load() == 0 && v.lastSeen.Load() < cutoff.UnixNano()
}

// shutdown closes the session and ends any attached stream.
func (v *openView) shutdown() {
	v.closeOnce.Do(func() {
		v.session.Close()
		close(v.done)
	})
}

type viewRegistry struct {
	mu    sync.RWMutex
	views map[string]*openView
}

func newViewRegistry() *viewRegistry {
	return &viewRegistry{views: make(map[string]*openView)}
}

func newViewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// add registers view unless its owner already holds limit views. A non-positive
// limit disables the cap.
func (r *viewRegistry) add(view *openView, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > 0 && r.countLocked(view.userID) >= limit {
		return errTooManyViews
	}
	r.views[view.id] = view
	return nil
}

func (r *viewRegistry) count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked(userID)
}

func (r *viewRegistry) countLocked(userID string) int {
	total := 0
	for _, view := range r.views {
		if view.userID == userID {
			total++
		}
	}
	return total
}

// lookup returns the view when it exists and belongs to userID.
func (r *viewRegistry) lookup(viewID string, userID string) (*openView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	view, ok := r.views[viewID]
	if !ok || view.userID != userID {
		return nil, errViewNotFound
	}
	return view, nil
}

func (r *viewRegistry) remove(viewID string, userID string) (*openView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	view, ok := r.views[viewID]
	if !ok || view.userID != userID {
		return nil, errViewNotFound
	}
	delete(r.views, viewID)
	return view, nil
}

// reap removes and returns the views that went idle before cutoff.
func (r *viewRegistry) reap(cutoff time.Time) []*openView {
	r.mu.Lock()
	defer r.mu.Unlock()
	var idle []*openView
	for viewID, view := range r.views {
		if view.idle(cutoff) {
			idle = append(idle, view)
			delete(r.views, viewID)
		}
	}
	return idle
}

func (r *viewRegistry) drain() []*openView {
	r.mu.Lock()
	defer r.mu.Unlock()
	views := make([]*openView, 0, len(r.views))
	for viewID, view := range r.views {
		views = append(views, view)
		delete(r.views, viewID)
	}
	return views
}

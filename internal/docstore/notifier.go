package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

// Topic names the document a subscription follows.
type Topic string

const (
	TopicRows     Topic = "rows"
	TopicSettings Topic = "settings"
	TopicSchedule Topic = "schedule"
)

// Snapshot is the full current state of one topic of a project. Sequence increases
// with every publish across the store, so later snapshots always carry a larger value.
type Snapshot struct {
	ProjectID string
	Topic     Topic
	Sequence  int64
	At        time.Time
	Rows      []cues.Row
	Settings  cues.Settings
	Board     cues.ScheduleBoard
	Found     bool
}

// Notifier fans snapshots out to per-project subscribers. Each subscriber holds at
// most one pending snapshot: a newer one replaces an unread older one.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[subscriptionKey]map[int64]*subscriber
	nextID      int64
}

type subscriptionKey struct {
	projectID string
	topic     Topic
}

type subscriber struct {
	id     int64
	mu     sync.Mutex
	stream chan Snapshot
}

// NewNotifier constructs an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[subscriptionKey]map[int64]*subscriber)}
}

// Subscribe registers a subscriber for the project and topic of initial, which is
// queued as the first snapshot. The cleanup func and context cancellation both
// unregister it; the stream is never closed.
func (n *Notifier) Subscribe(ctx context.Context, initial Snapshot) (<-chan Snapshot, func()) {
	key := subscriptionKey{projectID: initial.ProjectID, topic: initial.Topic}
	entry := &subscriber{
		id:     n.nextSequence(),
		stream: make(chan Snapshot, 1),
	}
	entry.stream <- initial
	n.register(key, entry)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { n.unregister(key, entry.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return entry.stream, cleanup
}

// Publish delivers snapshot to every subscriber of its project and topic.
func (n *Notifier) Publish(snapshot Snapshot) {
	key := subscriptionKey{projectID: snapshot.ProjectID, topic: snapshot.Topic}
	n.mu.RLock()
	subscribers := n.subscribers[key]
	copies := make([]*subscriber, 0, len(subscribers))
	for _, entry := range subscribers {
		copies = append(copies, entry)
	}
	n.mu.RUnlock()
	for _, entry := range copies {
		entry.deliver(snapshot)
	}
}

func (s *subscriber) deliver(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.stream <- snapshot:
		return
	default:
	}
	select {
	case <-s.stream:
	default:
	}
	select {
	case s.stream <- snapshot:
	default:
	}
}

// Subscribers reports how many subscribers follow a project topic.
func (n *Notifier) Subscribers(projectID string, topic Topic) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers[subscriptionKey{projectID: projectID, topic: topic}])
}

func (n *Notifier) nextSequence() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	return n.nextID
}

func (n *Notifier) register(key subscriptionKey, entry *subscriber) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subscribers[key]; !ok {
		n.subscribers[key] = make(map[int64]*subscriber)
	}
	n.subscribers[key][entry.id] = entry
}

func (n *Notifier) unregister(key subscriptionKey, subscriberID int64) {
	n.mu.Lock()
	subscribers := n.subscribers[key]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(n.subscribers, key)
		}
	}
	n.mu.Unlock()
}

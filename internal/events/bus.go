// Package events is the in-process fan-out for job lifecycle
// notifications. Subscribers attach to topics (per-job, per-user, or the
// public channel); publishes never block the scan pipeline, so a slow
// subscriber drops events rather than stalling a worker.
package events

import (
	"sync"
	"time"

	"github.com/raysh454/kansa/internal/model"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypeQueued    Type = "scan.queued"
	TypeStarted   Type = "scan.started"
	TypeCompleted Type = "scan.completed"
	TypeFailed    Type = "scan.failed"
)

// Event is one lifecycle notification. Score/Severity/ScanID/Duration are
// only set on completion.
type Event struct {
	Type       Type           `json:"type"`
	JobID      string         `json:"job_id"`
	URL        string         `json:"url"`
	Timestamp  time.Time      `json:"timestamp"`
	ScanID     string         `json:"scan_id,omitempty"`
	Score      int            `json:"score,omitempty"`
	Severity   model.Severity `json:"severity,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// PublicTopic receives every lifecycle event.
const PublicTopic = "public"

// JobTopic names the per-job channel.
func JobTopic(jobID string) string { return "job:" + jobID }

// UserTopic names the per-requester channel.
func UserTopic(userID string) string { return "user:" + userID }

type subscriber struct {
	ch chan Event
}

// Bus fans events out to topic subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[int]*subscriber
	nextID int
	buffer int
	closed bool
}

// NewBus creates a Bus whose subscriber channels hold up to buffer
// undelivered events each.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{
		subs:   make(map[string]map[int]*subscriber),
		buffer: buffer,
	}
}

// Subscribe attaches to a topic. The returned cancel func detaches and
// closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.buffer)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]*subscriber)
	}
	b.subs[topic][id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if m, ok := b.subs[topic]; ok {
				if s, ok := m[id]; ok {
					delete(m, id)
					close(s.ch)
				}
				if len(m) == 0 {
					delete(b.subs, topic)
				}
			}
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every subscriber of topic. Sends are
// non-blocking; a full subscriber buffer drops the event.
func (b *Bus) Publish(topic string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close detaches and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, m := range b.subs {
		for id, sub := range m {
			delete(m, id)
			close(sub.ch)
		}
		delete(b.subs, topic)
	}
}

// Package events carries engine notifications to observers: the daemon
// log, the dashboard bridge, and tests.
//
// Delivery is best-effort. A subscriber that stops draining its channel
// loses events rather than blocking the reconciler; dropped deliveries are
// counted, not queued.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an engine notification.
type Type string

const (
	// TypeEntryQueued fires when a mutation lands in the write queue.
	TypeEntryQueued Type = "entry_queued"

	// TypeEntrySynced fires when the server accepts a queued mutation.
	TypeEntrySynced Type = "entry_synced"

	// TypeEntryFailed fires when a delivery attempt fails and the entry
	// stays queued for another pass.
	TypeEntryFailed Type = "entry_failed"

	// TypeEntryDropped fires when an entry exhausts its attempts and is
	// evicted. This is the engine's data-loss signal.
	TypeEntryDropped Type = "entry_dropped"

	// TypeSyncStarted and TypeSyncCompleted bracket a reconciliation
	// pass.
	TypeSyncStarted   Type = "sync_started"
	TypeSyncCompleted Type = "sync_completed"

	// TypeOnline and TypeOffline report connectivity transitions.
	TypeOnline  Type = "online"
	TypeOffline Type = "offline"
)

// Event is one notification. Data holds the JSON-encoded payload, shaped
// per type, so observers can forward events to the dashboard wire format
// without re-encoding.
type Event struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EntryData is the payload for entry lifecycle events.
type EntryData struct {
	ID         string `json:"id"`
	TargetURL  string `json:"target_url"`
	Method     string `json:"method"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

// SyncData is the payload for sync_started and sync_completed.
type SyncData struct {
	Pending  int           `json:"pending"`
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Dropped  int           `json:"dropped"`
	Deferred int           `json:"deferred,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// ConnectivityData is the payload for online and offline.
type ConnectivityData struct {
	Reason string `json:"reason,omitempty"`
}

// Emitter fans events out to subscribers. A nil Emitter is valid and
// discards everything, so components can emit unconditionally.
type Emitter struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	dropped atomic.Uint64
}

// NewEmitter creates an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan Event)}
}

// Subscribe registers a new observer and returns its channel along with a
// cancel function. The channel buffers buf events; once full, further
// events to this subscriber are dropped.
func (e *Emitter) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Emit encodes payload and delivers the event to every subscriber without
// blocking. Subscribers with full buffers miss this event.
func (e *Emitter) Emit(t Type, payload any) {
	if e == nil {
		return
	}

	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return
		}
		data = encoded
	}
	ev := Event{Type: t, Timestamp: time.Now().UTC(), Data: data}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (e *Emitter) Dropped() uint64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// SubscriberCount returns the number of active subscribers.
func (e *Emitter) SubscriberCount() int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

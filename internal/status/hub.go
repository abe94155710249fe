// Package status holds process-wide connectivity, sync state and user
// notifications. A Hub is created once by the application and injected into
// the services that report to it.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a user-visible message
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// EventKind identifies what changed in an Event
type EventKind int

const (
	EventOnline EventKind = iota
	EventSyncing
	EventNotification
)

// Event is delivered to subscribers on every state change
type Event struct {
	Kind         EventKind
	Online       bool
	Syncing      bool
	Notification *Notification
}

// State is a point-in-time copy of the hub
type State struct {
	Online   bool
	Syncing  bool
	LastSync time.Time
	Pending  int
}

const maxNotifications = 50

// Hub is the process-wide status store
type Hub struct {
	mu            sync.Mutex
	online        bool
	syncing       bool
	lastSync      time.Time
	pending       int
	notifications []Notification
	subscribers   map[int]func(Event)
	nextSub       int
	closed        bool
}

// NewHub creates a hub. Connectivity starts as given.
func NewHub(online bool) *Hub {
	return &Hub{
		online:      online,
		subscribers: make(map[int]func(Event)),
	}
}

// Subscribe registers fn for future events and returns a function that
// removes it. Callbacks run synchronously on the goroutine that changed the
// state and must not call back into the hub.
func (h *Hub) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return func() {}
	}

	id := h.nextSub
	h.nextSub++
	h.subscribers[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subscribers, id)
	}
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// SetOnline records connectivity. It returns true when the value changed.
func (h *Hub) SetOnline(online bool) bool {
	h.mu.Lock()
	if h.closed || h.online == online {
		h.mu.Unlock()
		return false
	}
	h.online = online
	h.mu.Unlock()

	h.publish(Event{Kind: EventOnline, Online: online})
	return true
}

// Online reports the last known connectivity
func (h *Hub) Online() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

// SetSyncing records whether a sync pass is running and how many operations
// remain. Finishing a pass updates the last sync time.
func (h *Hub) SetSyncing(syncing bool, pending int) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if h.syncing && !syncing {
		h.lastSync = time.Now()
	}
	changed := h.syncing != syncing
	h.syncing = syncing
	h.pending = pending
	h.mu.Unlock()

	if changed {
		h.publish(Event{Kind: EventSyncing, Syncing: syncing})
	}
}

// State returns a copy of the current state
func (h *Hub) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return State{
		Online:   h.online,
		Syncing:  h.syncing,
		LastSync: h.lastSync,
		Pending:  h.pending,
	}
}

// Notify adds a notification and returns it
func (h *Hub) Notify(level Level, message string) Notification {
	n := Notification{
		ID:        uuid.New().String(),
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return n
	}
	h.notifications = append(h.notifications, n)
	if len(h.notifications) > maxNotifications {
		h.notifications = h.notifications[len(h.notifications)-maxNotifications:]
	}
	h.mu.Unlock()

	h.publish(Event{Kind: EventNotification, Notification: &n})
	return n
}

// Notifications returns retained notifications, oldest first
func (h *Hub) Notifications() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notification(nil), h.notifications...)
}

// Dismiss removes a notification by id
func (h *Hub) Dismiss(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, n := range h.notifications {
		if n.ID == id {
			h.notifications = append(h.notifications[:i], h.notifications[i+1:]...)
			return true
		}
	}
	return false
}

// Close drops all subscribers. Later state changes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subscribers = make(map[int]func(Event))
}

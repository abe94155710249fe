package watcher

import (
	"sync"
	"time"
)

// EventType represents the kind of change behind a debounced event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventDelete:
		return "DELETE"
	case EventRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// Event is a debounced change to one key (a file path or a page id)
type Event struct {
	Key       string
	Type      EventType
	Timestamp time.Time
}

// Debouncer collects rapid changes per key and runs the handler once per
// quiet period. A new change resets the timer. Handler runs for the same key
// never overlap: a change arriving during a run schedules another run after it.
type Debouncer struct {
	delay   time.Duration
	handler func(Event)

	mu       sync.Mutex
	idle     *sync.Cond
	pending  map[string]*pendingEvent
	keyLocks map[string]*sync.Mutex
	running  int
	stopped  bool
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// NewDebouncer creates a debouncer calling handler after delay of quiet
func NewDebouncer(delay time.Duration, handler func(Event)) *Debouncer {
	d := &Debouncer{
		delay:    delay,
		handler:  handler,
		pending:  make(map[string]*pendingEvent),
		keyLocks: make(map[string]*sync.Mutex),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Trigger schedules a modify event for key
func (d *Debouncer) Trigger(key string) {
	d.Add(key, EventModify)
}

// Add schedules an event for key, coalescing with any pending one
func (d *Debouncer) Add(key string, eventType EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	now := time.Now()
	if p, exists := d.pending[key]; exists {
		p.timer.Stop()

		// DELETE always wins, CREATE + MODIFY stays CREATE
		switch {
		case eventType == EventDelete:
			p.event.Type = EventDelete
		case p.event.Type == EventCreate && eventType == EventModify:
		case p.event.Type != EventDelete:
			p.event.Type = eventType
		}
		p.event.Timestamp = now
		p.timer = time.AfterFunc(d.delay, func() { d.fire(key) })
		return
	}

	d.pending[key] = &pendingEvent{
		event: Event{Key: key, Type: eventType, Timestamp: now},
		timer: time.AfterFunc(d.delay, func() { d.fire(key) }),
	}
}

// Cancel drops a pending event for key without running it
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, exists := d.pending[key]
	if !exists {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	p, exists := d.pending[key]
	if !exists {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)

	lock, ok := d.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.keyLocks[key] = lock
	}
	d.running++
	d.mu.Unlock()

	lock.Lock()
	d.handler(p.event)
	lock.Unlock()

	d.mu.Lock()
	d.running--
	if d.running == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// Flush runs every pending event now and waits until no handler is running
func (d *Debouncer) Flush() {
	d.mu.Lock()
	keys := make([]string, 0, len(d.pending))
	for key, p := range d.pending {
		p.timer.Stop()
		keys = append(keys, key)
	}
	d.mu.Unlock()

	for _, key := range keys {
		d.fire(key)
	}

	d.mu.Lock()
	for d.running > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Stop discards pending events and waits for running handlers
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	for _, p := range d.pending {
		p.timer.Stop()
	}
	d.pending = make(map[string]*pendingEvent)
	for d.running > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// PendingCount returns the number of pending events
func (d *Debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

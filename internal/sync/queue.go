// Package sync replicates locally stored content to the remote content
// store. It holds the durable offline operation queue, the hybrid
// local/remote storage service and the engine that drains the queue when
// connectivity returns.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/blockvault/internal/status"
)

var (
	// ErrProcessing is returned by Process when another pass is running
	ErrProcessing = errors.New("queue is already processing")

	// ErrOperationNotFound is returned for unknown operation ids
	ErrOperationNotFound = errors.New("operation not found")

	// ErrNotConfirmed is returned by Clear without confirmation
	ErrNotConfirmed = errors.New("clearing the queue requires confirmation")

	// ErrInFlight is returned when modifying an operation being attempted
	ErrInFlight = errors.New("operation is in flight")

	// ErrPermanent marks executor errors that must not be retried
	ErrPermanent = errors.New("permanent failure")
)

// OpType is the kind of deferred work
type OpType string

const (
	OpSave    OpType = "save"
	OpDelete  OpType = "delete"
	OpShare   OpType = "share"
	OpVersion OpType = "version"
)

// Priority orders operations. The zero value means normal.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority parses the String form of a priority
func ParsePriority(s string) (Priority, error) {
	for p := PriorityLow; p <= PriorityCritical; p++ {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Status is the lifecycle state of a queued operation
type Status string

const (
	StatusPending        Status = "pending"
	StatusInFlight       Status = "in-flight"
	StatusRetryScheduled Status = "retry-scheduled"
	StatusFailed         Status = "failed"
)

// Operation is one durable unit of deferred work
type Operation struct {
	ID         string          `json:"id"`
	Type       OpType          `json:"type"`
	Priority   Priority        `json:"priority"`
	NoteID     string          `json:"noteId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
	NextRetry  *time.Time      `json:"nextRetry,omitempty"`
	Status     Status          `json:"status"`
	LastError  string          `json:"lastError,omitempty"`
	Seq        int64           `json:"seq"`
}

func (o *Operation) clone() Operation {
	c := *o
	if o.NextRetry != nil {
		t := *o.NextRetry
		c.NextRetry = &t
	}
	c.Payload = append(json.RawMessage(nil), o.Payload...)
	return c
}

func (o *Operation) ready(now time.Time) bool {
	switch o.Status {
	case StatusPending:
		return true
	case StatusRetryScheduled:
		return o.NextRetry == nil || !o.NextRetry.After(now)
	default:
		return false
	}
}

// EnqueueRequest describes an operation to add
type EnqueueRequest struct {
	Type     OpType
	NoteID   string
	Payload  any
	Priority Priority
	// MaxRetries defaults to the queue's configured value when zero
	MaxRetries int
}

// Executor performs queued operations
type Executor interface {
	Execute(ctx context.Context, op Operation) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, op Operation) error

func (f ExecutorFunc) Execute(ctx context.Context, op Operation) error {
	return f(ctx, op)
}

// EventKind identifies a queue event
type EventKind string

const (
	EventEnqueued  EventKind = "enqueued"
	EventSucceeded EventKind = "succeeded"
	EventRetrying  EventKind = "retrying"
	EventFailed    EventKind = "failed"
	EventDiscarded EventKind = "discarded"
	EventCleared   EventKind = "cleared"
)

// Event reports a queue state transition to subscribers
type Event struct {
	Kind      EventKind
	Operation Operation
	Err       error
}

// ProcessResult counts the outcomes of one processing pass
type ProcessResult struct {
	Succeeded int
	Retrying  int
	Failed    int
}

// QueueOptions configures a Queue
type QueueOptions struct {
	// Path of the JSON queue file. Empty keeps the queue in memory.
	Path       string
	MaxRetries int
	Backoff    Backoff
	Hub        *status.Hub
	Logger     *slog.Logger
	Now        func() time.Time
}

// Queue is the durable offline operation queue
type Queue struct {
	mu          sync.Mutex
	processing  sync.Mutex
	ops         []*Operation
	seq         int64
	lastRun     *time.Time
	file        stateFile
	maxRetries  int
	backoff     Backoff
	hub         *status.Hub
	logger      *slog.Logger
	now         func() time.Time
	subscribers map[int]func(Event)
	nextSub     int
}

// NewQueue creates a queue and loads persisted operations. Operations that
// were in flight when the process stopped are attempted again.
func NewQueue(opts QueueOptions) (*Queue, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff(time.Second, 5*time.Minute)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	q := &Queue{
		file:        stateFile{path: opts.Path},
		maxRetries:  opts.MaxRetries,
		backoff:     opts.Backoff,
		hub:         opts.Hub,
		logger:      opts.Logger,
		now:         opts.Now,
		subscribers: make(map[int]func(Event)),
	}

	state, err := q.file.load()
	if err != nil {
		return nil, err
	}
	q.seq = state.Seq
	q.lastRun = state.LastProcessed
	for _, op := range state.Operations {
		if op.Status == StatusInFlight {
			op.Status = StatusPending
		}
		q.ops = append(q.ops, op)
	}
	q.sortLocked()
	return q, nil
}

// sortLocked orders by priority, then enqueue order
func (q *Queue) sortLocked() {
	sort.SliceStable(q.ops, func(i, j int) bool {
		if q.ops[i].Priority != q.ops[j].Priority {
			return q.ops[i].Priority > q.ops[j].Priority
		}
		return q.ops[i].Seq < q.ops[j].Seq
	})
}

func (q *Queue) persistLocked() error {
	return q.file.save(&queueState{
		Operations:    q.ops,
		Seq:           q.seq,
		LastProcessed: q.lastRun,
	})
}

// Subscribe registers fn for queue events and returns a function that
// removes it
func (q *Queue) Subscribe(fn func(Event)) (unsubscribe func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextSub
	q.nextSub++
	q.subscribers[id] = fn

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.subscribers, id)
	}
}

func (q *Queue) emit(ev Event) {
	q.mu.Lock()
	fns := make([]func(Event), 0, len(q.subscribers))
	for _, fn := range q.subscribers {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (q *Queue) findLocked(id string) (int, *Operation) {
	for i, op := range q.ops {
		if op.ID == id {
			return i, op
		}
	}
	return -1, nil
}

// Enqueue adds an operation. A save for a note that already has a waiting
// save is merged into it: the payload is replaced, the priority raised and
// the queue position kept.
func (q *Queue) Enqueue(req EnqueueRequest) (Operation, error) {
	var payload json.RawMessage
	if req.Payload != nil {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return Operation{}, fmt.Errorf("failed to encode %s payload: %w", req.Type, err)
		}
		payload = data
	}
	if req.Priority == 0 {
		req.Priority = PriorityNormal
	}
	if req.MaxRetries <= 0 {
		req.MaxRetries = q.maxRetries
	}

	q.mu.Lock()

	if req.Type == OpSave {
		for _, op := range q.ops {
			if op.Type != OpSave || op.NoteID != req.NoteID {
				continue
			}
			if op.Status != StatusPending && op.Status != StatusRetryScheduled {
				continue
			}
			op.Payload = payload
			op.Priority = max(op.Priority, req.Priority)
			q.sortLocked()
			err := q.persistLocked()
			merged := op.clone()
			q.mu.Unlock()

			if err != nil {
				return merged, err
			}
			q.logger.Debug("save coalesced", "note", req.NoteID, "op", merged.ID)
			return merged, nil
		}
	}

	q.seq++
	op := &Operation{
		ID:         uuid.New().String(),
		Type:       req.Type,
		Priority:   req.Priority,
		NoteID:     req.NoteID,
		Payload:    payload,
		Timestamp:  q.now().UTC(),
		MaxRetries: req.MaxRetries,
		Status:     StatusPending,
		Seq:        q.seq,
	}
	q.ops = append(q.ops, op)
	q.sortLocked()
	err := q.persistLocked()
	added := op.clone()
	q.mu.Unlock()

	if err != nil {
		return added, err
	}

	q.logger.Debug("operation enqueued", "type", added.Type, "note", added.NoteID, "priority", added.Priority)
	q.emit(Event{Kind: EventEnqueued, Operation: added})
	return added, nil
}

// next claims the highest priority ready operation not yet attempted in
// this pass
func (q *Queue) next(attempted map[string]bool) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, op := range q.ops {
		if attempted[op.ID] || !op.ready(now) {
			continue
		}
		op.Status = StatusInFlight
		if err := q.persistLocked(); err != nil {
			q.logger.Warn("failed to persist queue", "error", err)
		}
		return op.clone(), true
	}
	return Operation{}, false
}

// Process attempts every ready operation once, one at a time, in priority
// order. It returns ErrProcessing when another pass is already running.
func (q *Queue) Process(ctx context.Context, exec Executor) (ProcessResult, error) {
	var res ProcessResult
	if !q.processing.TryLock() {
		return res, ErrProcessing
	}
	defer q.processing.Unlock()

	if q.hub != nil {
		q.hub.SetSyncing(true, q.Len())
		defer func() { q.hub.SetSyncing(false, q.Len()) }()
	}

	attempted := make(map[string]bool)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		op, ok := q.next(attempted)
		if !ok {
			break
		}
		attempted[op.ID] = true

		err := exec.Execute(ctx, op)
		switch q.complete(op.ID, err) {
		case EventSucceeded:
			res.Succeeded++
		case EventRetrying:
			res.Retrying++
		case EventFailed:
			res.Failed++
		}
	}

	q.mu.Lock()
	now := q.now().UTC()
	q.lastRun = &now
	if err := q.persistLocked(); err != nil {
		q.logger.Warn("failed to persist queue", "error", err)
	}
	q.mu.Unlock()

	if res.Succeeded+res.Retrying+res.Failed > 0 {
		q.logger.Info("queue processed",
			"succeeded", res.Succeeded,
			"retrying", res.Retrying,
			"failed", res.Failed)
	}
	return res, nil
}

// complete records the outcome of an attempt
func (q *Queue) complete(id string, execErr error) EventKind {
	q.mu.Lock()

	i, op := q.findLocked(id)
	if op == nil {
		q.mu.Unlock()
		return ""
	}

	var kind EventKind
	switch {
	case execErr == nil:
		q.ops = append(q.ops[:i], q.ops[i+1:]...)
		kind = EventSucceeded
	default:
		op.RetryCount++
		op.LastError = execErr.Error()
		if op.RetryCount >= op.MaxRetries || errors.Is(execErr, ErrPermanent) {
			op.Status = StatusFailed
			op.NextRetry = nil
			kind = EventFailed
		} else {
			next := q.now().Add(q.backoff(op.RetryCount)).UTC()
			op.Status = StatusRetryScheduled
			op.NextRetry = &next
			kind = EventRetrying
		}
	}

	if err := q.persistLocked(); err != nil {
		q.logger.Warn("failed to persist queue", "error", err)
	}
	snapshot := op.clone()
	q.mu.Unlock()

	switch kind {
	case EventSucceeded:
		q.logger.Debug("operation succeeded", "type", snapshot.Type, "note", snapshot.NoteID)
	case EventRetrying:
		q.logger.Debug("operation will be retried",
			"type", snapshot.Type,
			"note", snapshot.NoteID,
			"attempt", snapshot.RetryCount,
			"next_retry", snapshot.NextRetry,
			"error", execErr)
	case EventFailed:
		q.logger.Error("operation failed",
			"type", snapshot.Type,
			"note", snapshot.NoteID,
			"attempts", snapshot.RetryCount,
			"error", execErr)
		if q.hub != nil {
			q.hub.Notify(status.LevelError, fmt.Sprintf("%s of %s failed after %d attempts: %v",
				snapshot.Type, snapshot.NoteID, snapshot.RetryCount, execErr))
		}
	}

	q.emit(Event{Kind: kind, Operation: snapshot, Err: execErr})
	return kind
}

// GetQueuedOperations returns every operation in processing order,
// failed ones included
func (q *Queue) GetQueuedOperations() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = op.clone()
	}
	return out
}

// Get returns one operation
func (q *Queue) Get(id string) (Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, op := q.findLocked(id)
	if op == nil {
		return Operation{}, ErrOperationNotFound
	}
	return op.clone(), nil
}

// Len returns the number of operations not yet failed
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, op := range q.ops {
		if op.Status != StatusFailed {
			n++
		}
	}
	return n
}

// Ready reports whether an operation is waiting to be attempted
func (q *Queue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, op := range q.ops {
		if op.ready(now) {
			return true
		}
	}
	return false
}

// LastProcessed returns the end time of the last processing pass
func (q *Queue) LastProcessed() *time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastRun
}

// Retry makes an operation immediately ready again with a fresh retry budget
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, op := q.findLocked(id)
	if op == nil {
		return ErrOperationNotFound
	}
	if op.Status == StatusInFlight {
		return ErrInFlight
	}

	op.Status = StatusPending
	op.RetryCount = 0
	op.NextRetry = nil
	return q.persistLocked()
}

// Discard removes an operation without attempting it
func (q *Queue) Discard(id string) error {
	q.mu.Lock()
	i, op := q.findLocked(id)
	if op == nil {
		q.mu.Unlock()
		return ErrOperationNotFound
	}
	if op.Status == StatusInFlight {
		q.mu.Unlock()
		return ErrInFlight
	}

	q.ops = append(q.ops[:i], q.ops[i+1:]...)
	err := q.persistLocked()
	snapshot := op.clone()
	q.mu.Unlock()

	if err != nil {
		return err
	}
	q.emit(Event{Kind: EventDiscarded, Operation: snapshot})
	return nil
}

// Clear discards every operation that is not in flight. It does nothing
// unless confirmed is true.
func (q *Queue) Clear(confirmed bool) (int, error) {
	if !confirmed {
		return 0, ErrNotConfirmed
	}

	q.mu.Lock()
	var kept []*Operation
	removed := 0
	for _, op := range q.ops {
		if op.Status == StatusInFlight {
			kept = append(kept, op)
			continue
		}
		removed++
	}
	q.ops = kept
	err := q.persistLocked()
	q.mu.Unlock()

	if err != nil {
		return removed, err
	}

	q.logger.Warn("queue cleared", "discarded", removed)
	q.emit(Event{Kind: EventCleared})
	return removed, nil
}

package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vonshlovens/blockvault/internal/cas"
	"github.com/vonshlovens/blockvault/internal/localstore"
	"github.com/vonshlovens/blockvault/internal/status"
)

// ErrOffline is returned by SyncNow when the remote store is unreachable
var ErrOffline = errors.New("remote store is unreachable")

// BlobPayload references a blob in the local store that must be replicated
type BlobPayload struct {
	ContentID string `json:"contentId"`
}

// EngineOptions configures an Engine
type EngineOptions struct {
	Queue         *Queue
	Hybrid        *Hybrid
	Hub           *status.Hub
	ProbeInterval time.Duration
	Logger        *slog.Logger
}

// Engine executes queued operations against the remote store and drains
// the queue whenever connectivity returns
type Engine struct {
	queue         *Queue
	hybrid        *Hybrid
	hub           *status.Hub
	probeInterval time.Duration
	logger        *slog.Logger
	wake          chan struct{}
}

// NewEngine creates a sync engine
func NewEngine(opts EngineOptions) *Engine {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = opts.Hybrid.hub
	}
	return &Engine{
		queue:         opts.Queue,
		hybrid:        opts.Hybrid,
		hub:           opts.Hub,
		probeInterval: opts.ProbeInterval,
		logger:        opts.Logger,
		wake:          make(chan struct{}, 1),
	}
}

// Execute performs one queued operation
func (e *Engine) Execute(ctx context.Context, op Operation) error {
	remote := e.hybrid.remote
	if remote == nil {
		return fmt.Errorf("%s %s: %w", op.Type, op.NoteID, ErrRemoteDisabled)
	}

	switch op.Type {
	case OpSave:
		_, _, err := e.hybrid.flush(ctx, op.NoteID)
		if errors.Is(err, localstore.ErrNotFound) {
			// Deleted locally after the save was queued
			return nil
		}
		return err

	case OpDelete:
		var p BlobPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("invalid delete payload: %v: %w", err, ErrPermanent)
		}
		r, ok := remote.(cas.Remover)
		if !ok {
			return nil
		}
		if err := r.Remove(ctx, p.ContentID); err != nil {
			if transient(err) {
				e.hub.SetOnline(false)
			}
			return fmt.Errorf("failed to remove %s: %w", p.ContentID, err)
		}
		return nil

	case OpShare, OpVersion:
		var p BlobPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("invalid %s payload: %v: %w", op.Type, err, ErrPermanent)
		}
		return e.replicate(ctx, p.ContentID)

	default:
		return fmt.Errorf("unknown operation type %q: %w", op.Type, ErrPermanent)
	}
}

// replicate copies a local blob to the remote store
func (e *Engine) replicate(ctx context.Context, contentID string) error {
	remote := e.hybrid.remote

	ok, err := remote.Head(ctx, contentID)
	if err == nil && ok {
		return nil
	}

	data, err := e.hybrid.local.Get(ctx, contentID)
	if errors.Is(err, cas.ErrNotFound) {
		return fmt.Errorf("blob %s missing locally: %w", contentID, ErrPermanent)
	}
	if err != nil {
		return err
	}

	if _, err := remote.Put(ctx, data); err != nil {
		if transient(err) {
			e.hub.SetOnline(false)
		}
		return fmt.Errorf("failed to replicate %s: %w", contentID, err)
	}
	return nil
}

// Probe checks remote reachability and records it on the status hub
func (e *Engine) Probe(ctx context.Context) bool {
	remote := e.hybrid.remote
	if remote == nil {
		e.hub.SetOnline(false)
		return false
	}

	var err error
	if p, ok := remote.(cas.Pinger); ok {
		err = p.Ping(ctx)
	} else {
		_, err = remote.Head(ctx, cas.ContentID(nil))
	}

	online := err == nil
	if e.hub.SetOnline(online) {
		if online {
			e.logger.Info("remote store reachable")
		} else {
			e.logger.Warn("remote store unreachable", "error", err)
		}
	}
	return online
}

// SyncNow drains the queue and pushes every unsynced note
func (e *Engine) SyncNow(ctx context.Context) (ProcessResult, SyncResult, error) {
	if !e.Probe(ctx) {
		return ProcessResult{}, SyncResult{}, ErrOffline
	}

	processed, err := e.queue.Process(ctx, e)
	if err != nil {
		return processed, SyncResult{}, err
	}

	synced, err := e.hybrid.SyncUnsyncedNotes(ctx, nil)
	return processed, synced, err
}

// Run probes the remote store periodically and processes the queue
// whenever it is reachable and has ready work. It returns when ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	unsubscribe := e.hub.Subscribe(func(ev status.Event) {
		if ev.Kind == status.EventOnline && ev.Online {
			e.Wake()
		}
	})
	defer unsubscribe()

	ticker := time.NewTicker(e.probeInterval)
	defer ticker.Stop()

	e.Probe(ctx)
	e.Wake()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !e.hub.Online() {
				e.Probe(ctx)
			}
			e.drain(ctx)
		case <-e.wake:
			e.drain(ctx)
		}
	}
}

// Wake requests a processing pass from Run
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) drain(ctx context.Context) {
	if !e.hub.Online() || !e.queue.Ready() {
		return
	}
	if _, err := e.queue.Process(ctx, e); err != nil && !errors.Is(err, ErrProcessing) {
		e.logger.Warn("queue processing stopped", "error", err)
	}
}

// Package app assembles the workspace services: local and remote storage,
// the sync queue, pages and blocks, version history, databases and sharing.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/vonshlovens/blockvault/internal/block"
	"github.com/vonshlovens/blockvault/internal/cas"
	"github.com/vonshlovens/blockvault/internal/config"
	"github.com/vonshlovens/blockvault/internal/crdt"
	"github.com/vonshlovens/blockvault/internal/database"
	"github.com/vonshlovens/blockvault/internal/db"
	"github.com/vonshlovens/blockvault/internal/history"
	"github.com/vonshlovens/blockvault/internal/localstore"
	"github.com/vonshlovens/blockvault/internal/note"
	"github.com/vonshlovens/blockvault/internal/page"
	"github.com/vonshlovens/blockvault/internal/share"
	"github.com/vonshlovens/blockvault/internal/status"
	"github.com/vonshlovens/blockvault/internal/sync"
)

// Workspace is the id of the single local workspace
const Workspace = "default"

const (
	treeKey    = "pages/tree"
	importsKey = "imports"
)

// Options overrides parts of the assembly, mainly for tests
type Options struct {
	// Remote replaces the PostgreSQL content store
	Remote cas.Store
	Logger *slog.Logger
}

// App is an opened workspace
type App struct {
	Config *config.Config

	Local     *localstore.Store
	Remote    *db.DB
	Hub       *status.Hub
	Queue     *sync.Queue
	Hybrid    *sync.Hybrid
	Sync      *sync.Engine
	Blocks    *block.Manager
	Pages     *page.Tree
	History   *history.Engine
	Databases *database.Engine
	Share     *share.Service

	logger *slog.Logger
	now    func() time.Time

	mu     gosync.Mutex
	loaded map[string]bool
}

// Open opens the workspace described by cfg. A configured but unreachable
// remote store starts the workspace offline.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	dataDir, err := cfg.GetStateDir()
	if err != nil {
		return nil, err
	}

	local, err := localstore.Open(filepath.Join(dataDir, "blockvault.db"))
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Local:  local,
		logger: opts.Logger,
		now:    time.Now,
		loaded: make(map[string]bool),
	}

	remote := opts.Remote
	if remote == nil && cfg.Remote.Enabled {
		a.Remote, err = db.Open(ctx, &cfg.Remote)
		if err != nil {
			local.Close()
			return nil, err
		}
		remote = a.Remote.Blobs()
	}
	if remote != nil {
		remote = cas.WithTimeout(remote, cfg.Remote.Timeout())
	}

	online := false
	if pinger, ok := remote.(cas.Pinger); ok {
		online = pinger.Ping(ctx) == nil
	} else if remote != nil {
		online = true
	}
	a.Hub = status.NewHub(online)

	a.Queue, err = sync.NewQueue(sync.QueueOptions{
		Path:       filepath.Join(dataDir, "queue.json"),
		MaxRetries: cfg.Sync.MaxRetries,
		Backoff:    sync.ExponentialBackoff(cfg.Sync.RetryBase(), cfg.Sync.RetryMax()),
		Hub:        a.Hub,
		Logger:     opts.Logger,
	})
	if err != nil {
		a.closeStores()
		return nil, err
	}

	a.Hybrid = sync.NewHybrid(sync.HybridOptions{
		Local:  local,
		Remote: remote,
		Queue:  a.Queue,
		Hub:    a.Hub,
		Logger: opts.Logger,
	})
	a.Sync = sync.NewEngine(sync.EngineOptions{
		Queue:         a.Queue,
		Hybrid:        a.Hybrid,
		Hub:           a.Hub,
		ProbeInterval: cfg.Sync.ProbeInterval(),
		Logger:        opts.Logger,
	})

	a.Pages = page.NewTree()
	if err := a.loadTree(ctx); err != nil {
		a.closeStores()
		return nil, err
	}

	a.History = history.NewEngine(history.Options{
		Blobs:          local,
		Index:          history.NewStoreIndex(local),
		Extract:        a.snapshotText,
		MajorEditLines: cfg.History.MajorEditLines,
		OnVersion: func(noteID string, entry note.VersionEntry) {
			a.replicate(sync.OpVersion, noteID, entry.ContentID)
		},
		Logger: opts.Logger,
	})

	a.Databases = database.NewEngine(database.Options{
		Manifests: database.NewStoreManifests(local),
		Rows:      local,
		OnRowStored: func(databaseID, rowID, contentID string) {
			a.replicate(sync.OpVersion, databaseID, contentID)
		},
		Logger: opts.Logger,
	})

	a.Share = share.NewService(share.Options{
		Principal: share.StaticPrincipal(cfg.Identity.DID),
		Store:     local,
		OnCreated: func(noteID, contentID string) {
			a.replicate(sync.OpShare, noteID, contentID)
		},
		Logger: opts.Logger,
	})

	actor := cfg.Identity.DID
	if actor == "" {
		actor = "local"
	}
	a.Blocks = block.NewManager(block.Options{
		Persister: a,
		Documents: crdt.NewFactory(),
		Debounce:  cfg.Sync.Debounce(),
		Actor:     actor,
		Logger:    opts.Logger,
	})

	opts.Logger.Debug("workspace opened", "data_dir", dataDir, "remote", remote != nil, "online", online)
	return a, nil
}

// replicate queues a local blob for upload when a remote store is configured
func (a *App) replicate(opType sync.OpType, noteID, contentID string) {
	if !a.Hybrid.RemoteEnabled() {
		return
	}
	_, err := a.Queue.Enqueue(sync.EnqueueRequest{
		Type:    opType,
		NoteID:  noteID,
		Payload: sync.BlobPayload{ContentID: contentID},
	})
	if err != nil {
		a.logger.Warn("failed to queue replication", "type", opType, "note", noteID, "error", err)
		return
	}
	a.Sync.Wake()
}

// Close flushes pending block saves and the page tree, then releases the
// stores. It is safe to call once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Blocks.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush pages: %w", err))
	}
	if err := a.saveTree(ctx); err != nil {
		errs = append(errs, err)
	}
	a.Hub.Close()
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	if a.Remote != nil {
		a.Remote.Close()
	}
	return a.Local.Close()
}

// Report summarizes the workspace for the status command
type Report struct {
	RemoteEnabled bool
	Online        bool
	Pages         int
	Trashed       int
	Notes         int
	Unsynced      int
	Queued        int
	Failed        int
	LastProcessed *time.Time
	Remote        *db.Status
	Notifications []status.Notification
}

// Status collects the workspace report. Remote statistics are only
// gathered when the remote store answers.
func (a *App) Status(ctx context.Context) (*Report, error) {
	r := &Report{
		RemoteEnabled: a.Hybrid.RemoteEnabled(),
		Online:        a.Sync.Probe(ctx),
		Queued:        a.Queue.Len(),
		LastProcessed: a.Queue.LastProcessed(),
		Notifications: a.Hub.Notifications(),
	}

	for _, p := range a.Pages.All() {
		if p.Metadata.Deleted {
			r.Trashed++
		} else {
			r.Pages++
		}
	}
	for _, op := range a.Queue.GetQueuedOperations() {
		if op.Status == sync.StatusFailed {
			r.Failed++
		}
	}

	var err error
	r.Notes, r.Unsynced, err = a.Local.Stats(ctx, localstore.KindNote)
	if err != nil {
		return nil, err
	}

	if a.Remote != nil && r.Online {
		if rs, err := a.Remote.GetStatus(ctx); err == nil {
			r.Remote = rs
		} else {
			a.logger.Warn("failed to read remote status", "error", err)
		}
	}
	return r, nil
}

// Migrate runs the remote store migrations
func (a *App) Migrate(ctx context.Context) error {
	if a.Remote == nil {
		return sync.ErrRemoteDisabled
	}
	return a.Remote.RunMigrations(ctx)
}

// fileExists reports whether path names an existing file
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vonshlovens/blockvault/internal/cas"
	"github.com/vonshlovens/blockvault/internal/localstore"
	"github.com/vonshlovens/blockvault/internal/note"
	"github.com/vonshlovens/blockvault/internal/status"
)

// ErrRemoteDisabled is returned by remote-only operations when no remote
// store is configured
var ErrRemoteDisabled = errors.New("remote store is not configured")

// StoreResult reports where a note was written
type StoreResult struct {
	ContentID string `json:"contentId,omitempty"`
	// LocalOnly is true when the remote copy is still pending
	LocalOnly bool `json:"local"`
}

// SyncResult counts the outcome of SyncUnsyncedNotes. Errors maps note ids
// to the error that kept them unsynced.
type SyncResult struct {
	Synced int
	Failed int
	Errors map[string]error
}

// NoteInfo is the sync bookkeeping of one locally stored note
type NoteInfo struct {
	NoteID    string
	Synced    bool
	ContentID string
	UpdatedAt time.Time
}

// HybridOptions configures a Hybrid storage service
type HybridOptions struct {
	Local *localstore.Store
	// Remote may be nil, in which case notes stay local only
	Remote cas.Store
	Queue  *Queue
	Hub    *status.Hub
	Logger *slog.Logger
}

// Hybrid writes notes to the local store first and replicates them to the
// remote content store when it is reachable
type Hybrid struct {
	local  *localstore.Store
	remote cas.Store
	queue  *Queue
	hub    *status.Hub
	logger *slog.Logger
	group  singleflight.Group
}

// NewHybrid creates the hybrid storage service
func NewHybrid(opts HybridOptions) *Hybrid {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Hub == nil {
		opts.Hub = status.NewHub(opts.Remote != nil)
	}
	return &Hybrid{
		local:  opts.Local,
		remote: opts.Remote,
		queue:  opts.Queue,
		hub:    opts.Hub,
		logger: opts.Logger,
	}
}

// RemoteEnabled reports whether a remote store is configured
func (h *Hybrid) RemoteEnabled() bool {
	return h.remote != nil
}

// Remote returns the remote store, or nil
func (h *Hybrid) Remote() cas.Store {
	return h.remote
}

// transient reports whether err means the remote could not be reached
func transient(err error) bool {
	return errors.Is(err, cas.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// StoreNote persists n locally and, when the remote store is reachable,
// remotely. Remote failures never fail the call: the note is left unsynced
// and a save operation is queued.
func (h *Hybrid) StoreNote(ctx context.Context, n *note.Note) (StoreResult, error) {
	data, err := note.Marshal(n)
	if err != nil {
		return StoreResult{}, err
	}
	if _, err := h.local.Save(ctx, localstore.KindNote, n.NoteID, data); err != nil {
		return StoreResult{}, fmt.Errorf("failed to store note %s locally: %w", n.NoteID, err)
	}

	if h.remote == nil {
		return StoreResult{LocalOnly: true}, nil
	}
	if !h.hub.Online() {
		h.enqueueSave(n.NoteID)
		return StoreResult{LocalOnly: true}, nil
	}

	contentID, synced, err := h.flush(ctx, n.NoteID)
	if err != nil {
		h.logger.Debug("remote write deferred", "note", n.NoteID, "error", err)
		h.enqueueSave(n.NoteID)
		return StoreResult{LocalOnly: true}, nil
	}
	if !synced {
		// A newer local version landed while an older one was in flight
		h.enqueueSave(n.NoteID)
		return StoreResult{LocalOnly: true}, nil
	}
	return StoreResult{ContentID: contentID}, nil
}

func (h *Hybrid) enqueueSave(noteID string) {
	if h.queue == nil {
		return
	}
	if _, err := h.queue.Enqueue(EnqueueRequest{Type: OpSave, NoteID: noteID}); err != nil {
		h.logger.Warn("failed to queue save", "note", noteID, "error", err)
	}
}

type flushResult struct {
	contentID string
	synced    bool
}

// flush pushes the current local version of a note. Concurrent flushes of
// the same note share one remote write. synced is false when the local copy
// changed after it was read.
func (h *Hybrid) flush(ctx context.Context, noteID string) (contentID string, synced bool, err error) {
	if h.remote == nil {
		return "", false, ErrRemoteDisabled
	}

	v, err, _ := h.group.Do(noteID, func() (any, error) {
		entry, err := h.local.Load(ctx, noteID)
		if err != nil {
			return nil, err
		}
		if entry.Synced && entry.ContentID != "" {
			return flushResult{contentID: entry.ContentID, synced: true}, nil
		}

		id, err := h.remote.Put(ctx, entry.Data)
		if err != nil {
			if transient(err) {
				h.hub.SetOnline(false)
			}
			return nil, fmt.Errorf("failed to push note %s: %w", noteID, err)
		}

		marked, err := h.local.MarkSynced(ctx, noteID, entry.Hash, id)
		if err != nil {
			return nil, err
		}
		return flushResult{contentID: id, synced: marked}, nil
	})
	if err != nil {
		return "", false, err
	}

	res := v.(flushResult)
	return res.contentID, res.synced, nil
}

// RetrieveNote returns a note. When contentID is known and the remote store
// is reachable the remote copy is preferred; otherwise, or when the remote
// fetch fails, the local copy is returned.
func (h *Hybrid) RetrieveNote(ctx context.Context, noteID, contentID string) (*note.Note, error) {
	if contentID != "" && h.remote != nil && h.hub.Online() {
		data, err := h.remote.Get(ctx, contentID)
		if err == nil {
			n, err := note.Unmarshal(data)
			if err == nil {
				return n, nil
			}
			h.logger.Warn("remote note is malformed", "note", noteID, "content_id", contentID, "error", err)
		} else {
			if transient(err) {
				h.hub.SetOnline(false)
			}
			h.logger.Debug("remote read failed, using local copy", "note", noteID, "error", err)
		}
	}

	entry, err := h.local.Load(ctx, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load note %s: %w", noteID, err)
	}
	return note.Unmarshal(entry.Data)
}

// SyncUnsyncedNotes pushes every locally unsynced note. A failure for one
// note does not stop the others. progress, when set, is called after each
// note.
func (h *Hybrid) SyncUnsyncedNotes(ctx context.Context, progress func(done, total int)) (SyncResult, error) {
	res := SyncResult{Errors: make(map[string]error)}
	if h.remote == nil {
		return res, ErrRemoteDisabled
	}

	entries, err := h.local.ListUnsynced(ctx, localstore.KindNote)
	if err != nil {
		return res, err
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		_, synced, err := h.flush(ctx, entry.Key)
		switch {
		case err != nil:
			res.Failed++
			res.Errors[entry.Key] = err
			h.logger.Warn("failed to sync note", "note", entry.Key, "error", err)
		case !synced:
			res.Failed++
			res.Errors[entry.Key] = errors.New("note changed during sync")
		default:
			res.Synced++
		}

		if progress != nil {
			progress(i+1, len(entries))
		}
	}

	if len(entries) > 0 {
		h.logger.Info("unsynced notes processed", "synced", res.Synced, "failed", res.Failed)
	}
	return res, nil
}

// DeleteNote removes the local copy and queues removal of the remote one
func (h *Hybrid) DeleteNote(ctx context.Context, noteID string) error {
	entry, err := h.local.Load(ctx, noteID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.local.Delete(ctx, noteID); err != nil {
		return err
	}

	if h.remote != nil && entry.ContentID != "" && h.queue != nil {
		_, err := h.queue.Enqueue(EnqueueRequest{
			Type:    OpDelete,
			NoteID:  noteID,
			Payload: BlobPayload{ContentID: entry.ContentID},
		})
		if err != nil {
			return fmt.Errorf("failed to queue remote delete of %s: %w", noteID, err)
		}
	}
	return nil
}

// ListNotes returns the sync state of every local note
func (h *Hybrid) ListNotes(ctx context.Context) ([]NoteInfo, error) {
	entries, err := h.local.List(ctx, localstore.KindNote)
	if err != nil {
		return nil, err
	}

	infos := make([]NoteInfo, len(entries))
	for i, e := range entries {
		infos[i] = NoteInfo{
			NoteID:    e.Key,
			Synced:    e.Synced,
			ContentID: e.ContentID,
			UpdatedAt: e.UpdatedAt,
		}
	}
	return infos, nil
}

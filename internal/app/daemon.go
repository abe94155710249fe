package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// trashSweepInterval is how often expired pages are purged from the trash
const trashSweepInterval = time.Hour

// Run keeps the workspace in the background until ctx is done: it drains
// the sync queue, snapshots changed pages, empties the trash and follows
// the import directory. The caller still closes the workspace.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.Hybrid.RemoteEnabled() {
		g.Go(func() error { return a.Sync.Run(ctx) })
	}
	g.Go(func() error { return a.WatchImports(ctx) })
	g.Go(func() error {
		a.maintain(ctx)
		return nil
	})

	a.logger.Info("daemon started",
		"data_dir", a.Config.DataDir,
		"remote", a.Hybrid.RemoteEnabled(),
		"import_dir", a.Config.Import.Dir)

	err := g.Wait()
	a.logger.Info("daemon stopped")
	return err
}

func (a *App) maintain(ctx context.Context) {
	// a zero interval turns periodic snapshots off
	var snapshotC <-chan time.Time
	if interval := a.Config.History.SnapshotInterval(); interval > 0 {
		snapshots := time.NewTicker(interval)
		defer snapshots.Stop()
		snapshotC = snapshots.C
	}
	sweep := time.NewTicker(trashSweepInterval)
	defer sweep.Stop()

	a.sweepTrash(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-snapshotC:
			if err := a.Blocks.FlushSave(ctx); err != nil {
				a.logger.Warn("failed to flush pending saves", "error", err)
			}
			n, err := a.SnapshotAll(ctx, "")
			if err != nil {
				a.logger.Warn("snapshot pass incomplete", "error", err)
			}
			if n > 0 {
				a.logger.Info("versions recorded", "count", n)
			}
		case <-sweep.C:
			a.sweepTrash(ctx)
		}
	}
}

func (a *App) sweepTrash(ctx context.Context) {
	if _, err := a.PurgeExpired(ctx); err != nil {
		a.logger.Warn("failed to empty trash", "error", err)
	}
}

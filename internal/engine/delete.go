package engine

import (
	"context"
	"log/slog"

	"github.com/bamsammich/fsu/internal/event"
)

// removeSources deletes every walked source entry, hard-link aliases
// included, deepest first so each directory is empty by the time it is
// removed. Failures are recorded and the pass continues.
//
// A symlink that was followed is removed itself; what was reached through
// it lives outside the tree and is left alone.
func (r *replicator) removeSources(ctx context.Context, list EntryList) {
	for i := len(list) - 1; i >= 0; i-- {
		e := list[i]
		if err := ctx.Err(); err != nil {
			r.res.Err = err
			return
		}
		if e.Parent != nil && e.Parent.ViaSymlink {
			continue
		}

		var err error
		op := "unlink"
		if e.Stat.IsDir() && !e.ViaSymlink {
			op = "rmdir"
			err = r.src.Rmdir(e.Path)
		} else {
			err = r.src.Unlink(e.Path)
		}
		if err != nil {
			r.fail(ctx, op, e.Path, err)
			continue
		}
		r.stats.AddEntriesRemoved(1)
		slog.Debug("removed", "path", e.Path)
		r.emit(ctx, event.Event{Type: event.EntryRemoved, Path: e.Path})
	}
}

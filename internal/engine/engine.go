package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/bamsammich/fsu/internal/domain"
	"github.com/bamsammich/fsu/internal/event"
	"github.com/bamsammich/fsu/internal/filter"
	"github.com/bamsammich/fsu/internal/stats"
)

// Options are the settings shared by Run and Replicate.
type Options struct {
	Filter  *filter.Chain
	Limiter *rate.Limiter

	// Events receives progress events. Sends block until received or the
	// context ends; nil disables events.
	Events chan<- event.Event

	// Stats accumulates counters across calls. A fresh collector is used
	// when nil.
	Stats *stats.Collector

	MaxDepth    int
	Recursive   bool
	FollowLinks bool
	Move        bool // remove the source once everything was copied
	NoHardlinks bool // copy every hard-linked path as an independent file
	Preserve    bool // exact modes including set-id bits, and times
	Verify      bool // compare BLAKE3 digests of copied files
}

// ReplicateConfig describes copying the tree at Src to Dst.
type ReplicateConfig struct {
	Direction domain.Direction
	Src       string
	Dst       string
	Options
}

// Result is the outcome of a run.
type Result struct {
	// Err is set when the run was aborted: a *StructuralError before
	// anything was copied, an *ExhaustedError part way through, or the
	// context error.
	Err      error
	Failures []*EntryError
	Stats    stats.Snapshot
}

// Failed reports whether anything went wrong.
func (r Result) Failed() bool {
	return r.Err != nil || len(r.Failures) > 0
}

type copied struct {
	e   *Entry
	dst string
}

type replicator struct {
	copier
	cfg      ReplicateConfig
	res      Result
	dirs     []copied
	files    []copied
	fallback bool
}

// Replicate copies the directory tree rooted at cfg.Src in the source domain
// to cfg.Dst in the destination domain. It walks the source, splits off
// hard-link aliases, creates the destination root, copies every remaining
// entry in walk order, optionally verifies and (for a move) removes the
// source, recreates hard links among the copies and finally applies the
// exact directory modes.
//
// Individual entry failures are collected in Result.Failures and do not
// stop the run. Running out of space does: entries already copied are kept
// and the remaining steps are skipped.
func Replicate(ctx context.Context, cfg ReplicateConfig) Result {
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	cfg.Src = domain.TrimTrailingSlashes(cfg.Src)
	cfg.Dst = domain.TrimTrailingSlashes(cfg.Dst)
	r := &replicator{
		copier: copier{
			src:      cfg.Direction.Src,
			dst:      cfg.Direction.Dst,
			limiter:  cfg.Limiter,
			events:   cfg.Events,
			stats:    cfg.Stats,
			preserve: cfg.Preserve,
		},
		cfg: cfg,
	}
	r.run(ctx)
	r.res.Stats = cfg.Stats.Snapshot()
	return r.res
}

func (r *replicator) run(ctx context.Context) {
	list, err := Walk(r.cfg.Src, r.src, WalkOptions{
		Recursive:   r.cfg.Recursive,
		FollowLinks: r.cfg.FollowLinks,
		Filter:      r.cfg.Filter,
		MaxDepth:    r.cfg.MaxDepth,
	})
	if err != nil {
		r.res.Err = err
		return
	}
	root := list.Root()
	if !root.Stat.IsDir() {
		r.res.Err = &StructuralError{Op: "replicate", Path: root.Path, Err: ErrNotDir}
		return
	}
	r.announce(ctx, list)

	resolved := Resolved{Primary: list}
	if !r.cfg.NoHardlinks {
		resolved = Resolve(list)
	}

	if err := r.createRoot(ctx, root); err != nil {
		r.res.Err = err
		return
	}

	if !r.copyEntries(ctx, resolved.Primary[1:]) {
		return
	}
	if r.cfg.Verify {
		r.verify(ctx)
	}
	if r.cfg.Move && len(r.res.Failures) == 0 {
		r.removeSources(ctx, list)
	}
	if !r.relink(ctx, resolved.Groups) {
		return
	}
	r.fixDirs()
}

func (r *replicator) announce(ctx context.Context, list EntryList) {
	var total int64
	for _, e := range list {
		if e.Stat.IsRegular() {
			total += e.Stat.Size
		}
	}
	r.stats.AddEntriesWalked(int64(len(list)))
	r.stats.AddBytesTotal(total)
	r.emit(ctx, event.Event{Type: event.WalkComplete, Path: list.Root().Path, Size: int64(len(list))})
}

// createRoot makes the destination root directory. An existing directory is
// accepted; anything else already at that path is a structural error.
func (r *replicator) createRoot(ctx context.Context, root *Entry) error {
	dst := r.cfg.Dst
	err := r.dst.Mkdir(dst, root.Stat.Mode.Perm()|0o700)
	switch {
	case err == nil:
		r.stats.AddDirsCreated(1)
		r.emit(ctx, event.Event{Type: event.DirCreated, Path: root.Path, Target: dst})
	case domain.Classify(err) == domain.ClassExists:
		st, serr := r.dst.Stat(dst)
		if serr != nil || !st.IsDir() {
			return &StructuralError{Op: "mkdir", Path: dst, Err: ErrNotDir}
		}
	default:
		return &StructuralError{Op: "mkdir", Path: dst, Err: err}
	}
	r.chown(dst, root.Stat)
	r.dirs = append(r.dirs, copied{e: root, dst: dst})
	return nil
}

// copyEntries reports false when the run was aborted.
func (r *replicator) copyEntries(ctx context.Context, entries EntryList) bool {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			r.res.Err = err
			return false
		}
		dst := r.target(e)
		if err := r.copyEntry(ctx, e, dst); err != nil {
			if domain.IsNoSpace(err) {
				r.abort(ctx, dst, err)
				return false
			}
			r.fail(ctx, "copy", e.Path, err)
			continue
		}
		switch {
		case e.Stat.IsDir():
			r.dirs = append(r.dirs, copied{e: e, dst: dst})
		case e.Stat.IsRegular():
			r.files = append(r.files, copied{e: e, dst: dst})
		}
	}
	return true
}

// relink recreates each group's aliases as hard links to the copy of its
// representative. Once the destination refuses a link, every remaining
// alias is filled by copying the representative's copy instead.
func (r *replicator) relink(ctx context.Context, groups []*LinkGroup) bool {
	for _, g := range groups {
		repDst := r.target(g.Rep)
		for _, alias := range g.Aliases {
			if err := ctx.Err(); err != nil {
				r.res.Err = err
				return false
			}
			dst := r.target(alias)
			err := r.linkAlias(ctx, alias, repDst, dst)
			switch {
			case err == nil:
			case domain.IsNoSpace(err):
				r.abort(ctx, dst, err)
				return false
			default:
				r.fail(ctx, "link", alias.Path, err)
			}
		}
	}
	return true
}

func (r *replicator) linkAlias(ctx context.Context, alias *Entry, repDst, dst string) error {
	if !r.fallback {
		err := r.dst.Link(repDst, dst)
		if domain.Classify(err) == domain.ClassExists {
			r.clear(dst)
			err = r.dst.Link(repDst, dst)
		}
		switch {
		case err == nil:
			r.stats.AddHardlinksCreated(1)
			r.emit(ctx, event.Event{Type: event.HardlinkCreated, Path: alias.Path, Target: dst, LinkTarget: repDst})
			return nil
		case !domain.IsUnsupported(err):
			return err
		}
		slog.Info("destination does not support hard links, copying instead",
			"domain", r.dst.Name(), "path", dst)
		r.fallback = true
	}

	// Fifos and device nodes have no contents to read; rebuild them instead.
	var n int64
	if alias.Stat.IsRegular() {
		var err error
		n, err = r.copyData(ctx, r.dst, repDst, dst, alias.Stat)
		r.stats.AddBytesCopied(n)
		if err != nil {
			return err
		}
	} else if err := r.makeSpecial(dst, alias.Stat); err != nil {
		return err
	}
	r.finish(dst, alias.Stat)
	r.stats.AddLinkFallbacks(1)
	r.emit(ctx, event.Event{Type: event.LinkFallback, Path: alias.Path, Target: dst, LinkTarget: repDst, Size: n})
	return nil
}

// fixDirs applies the exact source mode, and with Preserve the times, to
// every copied directory. Children come before parents so that restoring a
// read-only mode or an mtime is not undone by later writes.
func (r *replicator) fixDirs() {
	for i := len(r.dirs) - 1; i >= 0; i-- {
		d := r.dirs[i]
		if err := r.dst.Chmod(d.dst, d.e.Stat.Mode&modeBits); err != nil {
			r.res.Failures = append(r.res.Failures, &EntryError{Op: "chmod", Path: d.e.Path, Err: err})
			r.stats.AddEntriesFailed(1)
			slog.Warn("cannot set directory mode", "path", d.dst, "error", err)
			continue
		}
		if !r.preserve {
			continue
		}
		if err := r.dst.Chtimes(d.dst, d.e.Stat.Atime, d.e.Stat.Mtime); err != nil {
			slog.Warn("cannot set times", "path", d.dst, "error", err)
		}
	}
}

func (r *replicator) target(e *Entry) string {
	return domain.Rebase(e.Path, r.cfg.Src, r.cfg.Dst)
}

func (r *replicator) fail(ctx context.Context, op, path string, err error) {
	r.res.Failures = append(r.res.Failures, &EntryError{Op: op, Path: path, Err: err})
	r.stats.AddEntriesFailed(1)
	logFailure(r.events, op, path, err)
	r.emit(ctx, event.Event{Type: event.EntryFailed, Path: path, Error: err})
}

// logFailure warns about a failed entry unless an events consumer is
// attached, which reports it itself.
func logFailure(events chan<- event.Event, op, path string, err error) {
	level := slog.LevelWarn
	if events != nil {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, op+" failed", "path", path, "error", err)
}

func (r *replicator) abort(ctx context.Context, dst string, err error) {
	r.res.Err = &ExhaustedError{Path: dst, Err: err}
	if r.events == nil {
		slog.Error("destination is full, stopping", "path", dst, "error", err)
	}
	r.emit(ctx, event.Event{Type: event.RunAborted, Target: dst, Error: r.res.Err})
}

// Config describes a full copy or move: every source is copied into Dst.
type Config struct {
	Direction domain.Direction
	Dst       string
	Sources   []string
	Options
}

// Run copies each source to the destination. A directory source becomes
// Dst/<name>, creating Dst as a directory if needed. Any other source is
// copied to Dst/<name> when Dst is an existing directory, and to Dst itself
// otherwise. With Move a single copied entry is unlinked afterwards and a
// directory is removed by Replicate.
//
// A structural error on one source is reported in Result.Err but the
// remaining sources are still copied; running out of space stops at once.
func Run(ctx context.Context, cfg Config) Result {
	if cfg.Stats == nil {
		cfg.Stats = stats.NewCollector()
	}
	var res Result
	for _, src := range cfg.Sources {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		one := runSource(ctx, cfg, domain.TrimTrailingSlashes(src))
		res.Failures = append(res.Failures, one.Failures...)
		if one.Err == nil {
			continue
		}
		var exhausted *ExhaustedError
		if errors.As(one.Err, &exhausted) || errors.Is(one.Err, context.Canceled) {
			res.Err = one.Err
			break
		}
		slog.Error("cannot copy", "path", src, "error", one.Err)
		if res.Err == nil {
			res.Err = one.Err
		}
	}
	res.Stats = cfg.Stats.Snapshot()
	return res
}

func runSource(ctx context.Context, cfg Config, src string) Result {
	c := copier{
		src:      cfg.Direction.Src,
		dst:      cfg.Direction.Dst,
		limiter:  cfg.Limiter,
		events:   cfg.Events,
		stats:    cfg.Stats,
		preserve: cfg.Preserve,
	}
	failed := func(op string, err error) Result {
		cfg.Stats.AddEntriesFailed(1)
		logFailure(cfg.Events, op, src, err)
		c.emit(ctx, event.Event{Type: event.EntryFailed, Path: src, Error: err})
		return Result{Failures: []*EntryError{{Op: op, Path: src, Err: err}}}
	}

	st, err := c.src.Lstat(src)
	if err == nil && cfg.FollowLinks && st.IsSymlink() {
		st, err = c.src.Stat(src)
	}
	if err != nil {
		return failed("stat", err)
	}

	if st.IsDir() {
		if !cfg.Recursive {
			return failed("copy", ErrIsDir)
		}
		if err := ensureDir(c.dst, cfg.Dst); err != nil {
			return Result{Err: err}
		}
		dst := cfg.Dst
		if base := domain.Base(src); base != "/" {
			dst = domain.Join(cfg.Dst, base)
		}
		return Replicate(ctx, ReplicateConfig{
			Direction: cfg.Direction,
			Src:       src,
			Dst:       dst,
			Options:   cfg.Options,
		})
	}

	dst := cfg.Dst
	if dstSt, err := c.dst.Stat(dst); err == nil && dstSt.IsDir() {
		dst = domain.Join(dst, domain.Base(src))
	}
	e := &Entry{Domain: c.src, Path: src, Name: domain.Base(src), Stat: st}
	cfg.Stats.AddEntriesWalked(1)
	if err := c.copyEntry(ctx, e, dst); err != nil {
		if domain.IsNoSpace(err) {
			exhausted := &ExhaustedError{Path: dst, Err: err}
			c.emit(ctx, event.Event{Type: event.RunAborted, Target: dst, Error: exhausted})
			return Result{Err: exhausted}
		}
		return failed("copy", err)
	}
	if cfg.Verify && st.IsRegular() {
		if err := c.verifyFile(ctx, src, dst); err != nil {
			return failed("verify", err)
		}
	}
	if cfg.Move {
		if err := c.src.Unlink(src); err != nil {
			return failed("unlink", err)
		}
		cfg.Stats.AddEntriesRemoved(1)
		c.emit(ctx, event.Event{Type: event.EntryRemoved, Path: src})
	}
	return Result{}
}

// ensureDir makes sure p is a directory in d, creating it if missing.
func ensureDir(d domain.Domain, p string) error {
	st, err := d.Stat(p)
	switch {
	case err == nil && st.IsDir():
		return nil
	case err == nil:
		return &StructuralError{Op: "copy into", Path: p, Err: ErrNotDir}
	case domain.Classify(err) != domain.ClassNotFound:
		return &StructuralError{Op: "stat", Path: p, Err: err}
	}
	if err := d.Mkdir(p, 0o755); err != nil {
		return &StructuralError{Op: "mkdir", Path: p, Err: fmt.Errorf("creating destination: %w", err)}
	}
	return nil
}

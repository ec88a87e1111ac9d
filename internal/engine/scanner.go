package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bamsammich/fsu/internal/domain"
	"github.com/bamsammich/fsu/internal/filter"
)

// DefaultMaxDepth bounds directory nesting when WalkOptions.MaxDepth is zero.
const DefaultMaxDepth = 256

// WalkOptions controls Walk.
type WalkOptions struct {
	Filter      *filter.Chain
	MaxDepth    int
	Recursive   bool
	FollowLinks bool
}

type walker struct {
	d    domain.Domain
	opts WalkOptions
	root string
	list EntryList
}

// Walk lists root and the entries beneath it in pre-order. Children of a
// directory appear in the domain's read order, and every name in a
// directory is stat'ed before any subdirectory is entered, so at most one
// directory listing is held open at a time. Without Recursive only the
// root's immediate children are listed.
//
// Failing to stat the root is a *StructuralError. Everything else is
// logged and skipped: children that cannot be stat'ed are left out, and a
// directory that cannot be read is listed with no children.
func Walk(root string, d domain.Domain, opts WalkOptions) (EntryList, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	root = domain.TrimTrailingSlashes(root)
	w := &walker{d: d, opts: opts, root: root}

	e, err := w.stat(root, nil)
	if err != nil {
		return nil, &StructuralError{Op: "stat", Path: root, Err: err}
	}
	// The root is the tree being copied even when reached through a link.
	e.ViaSymlink = false
	e.Name = root[strings.LastIndexByte(root, '/')+1:]
	if root == "/" {
		e.Name = root
	}
	w.list = append(w.list, e)

	if e.Stat.IsDir() {
		w.descend(e, 1)
	}
	return w.list, nil
}

func (w *walker) descend(dir *Entry, depth int) {
	names, err := w.d.ReadDir(dir.Path)
	if err != nil {
		slog.Warn("cannot read directory", "path", dir.Path, "error", err)
		return
	}

	children := make([]*Entry, 0, len(names))
	for _, name := range names {
		if name == "" || name == "." || name == ".." {
			continue
		}
		p := domain.Join(dir.Path, name)
		e, err := w.stat(p, dir)
		if err != nil {
			slog.Warn("cannot stat entry", "path", p, "error", err)
			continue
		}
		e.Name = p[len(p)-len(name):]
		if w.opts.Filter.Excludes(w.rel(p), e.Stat) {
			slog.Debug("filtered", "path", p)
			continue
		}
		children = append(children, e)
	}

	for _, c := range children {
		w.list = append(w.list, c)
		if !c.Stat.IsDir() || !w.opts.Recursive {
			continue
		}
		if depth >= w.opts.MaxDepth {
			slog.Warn("not descending", "path", c.Path,
				"error", fmt.Errorf("%w (limit %d)", ErrTooDeep, w.opts.MaxDepth))
			continue
		}
		if c.ViaSymlink && loops(c) {
			slog.Warn("not descending into symlink loop", "path", c.Path)
			continue
		}
		w.descend(c, depth+1)
	}
}

// stat reads the metadata for p. Symlinks are only dereferenced with
// FollowLinks; the entry is then marked ViaSymlink, as is everything found
// beneath a dereferenced directory.
func (w *walker) stat(p string, parent *Entry) (*Entry, error) {
	st, err := w.d.Lstat(p)
	if err != nil {
		return nil, err
	}
	e := &Entry{Domain: w.d, Parent: parent, Path: p, Stat: st}
	if parent != nil && parent.ViaSymlink {
		e.ViaSymlink = true
	}
	if w.opts.FollowLinks && st.IsSymlink() {
		target, err := w.d.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("dangling symlink: %w", err)
		}
		e.Stat = target
		e.ViaSymlink = true
	}
	return e, nil
}

func (w *walker) rel(p string) string {
	if w.root == "/" {
		return strings.TrimPrefix(p, "/")
	}
	return strings.TrimPrefix(p, w.root+"/")
}

// loops reports whether a directory reached through a symlink is one of its
// own ancestors.
func loops(e *Entry) bool {
	for a := e.Parent; a != nil; a = a.Parent {
		if a.Key() == e.Key() {
			return true
		}
	}
	return false
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/bamsammich/fsu/internal/domain"
	"github.com/bamsammich/fsu/internal/event"
	"github.com/bamsammich/fsu/internal/stats"
)

const copyBufSize = 8 << 10

// modeBits are the parts of a mode that chmod(2) can set.
const modeBits = os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky

// copier creates single destination entries from source entries.
type copier struct {
	src      domain.Domain
	dst      domain.Domain
	limiter  *rate.Limiter
	events   chan<- event.Event
	stats    *stats.Collector
	preserve bool
}

// copyEntry dispatches on the entry type. Directories are created with
// owner rwx added so their contents can be written; the exact mode is
// applied afterwards by fixDirs.
func (c *copier) copyEntry(ctx context.Context, e *Entry, dst string) error {
	mode := e.Stat.Mode
	switch {
	case mode.IsDir():
		return c.copyDir(ctx, e, dst)
	case mode.IsRegular():
		return c.copyFile(ctx, e, dst)
	case mode&os.ModeSymlink != 0:
		return c.copySymlink(ctx, e, dst)
	case mode&(os.ModeNamedPipe|os.ModeDevice) != 0:
		return c.copySpecial(ctx, e, dst)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, typeName(mode))
	}
}

func (c *copier) copyDir(ctx context.Context, e *Entry, dst string) error {
	err := c.dst.Mkdir(dst, e.Stat.Mode.Perm()|0o700)
	switch {
	case err == nil:
		c.stats.AddDirsCreated(1)
		c.emit(ctx, event.Event{Type: event.DirCreated, Path: e.Path, Target: dst})
	case domain.Classify(err) == domain.ClassExists:
		st, serr := c.dst.Stat(dst)
		if serr != nil || !st.IsDir() {
			return fmt.Errorf("mkdir %s: %w", dst, ErrNotDir)
		}
	default:
		return err
	}
	c.chown(dst, e.Stat)
	return nil
}

func (c *copier) copyFile(ctx context.Context, e *Entry, dst string) error {
	n, err := c.copyData(ctx, c.src, e.Path, dst, e.Stat)
	c.stats.AddBytesCopied(n)
	if err != nil {
		return err
	}
	c.finish(dst, e.Stat)
	c.stats.AddFilesCopied(1)
	c.emit(ctx, event.Event{Type: event.EntryCopied, Path: e.Path, Target: dst, Size: n})
	return nil
}

// copyData streams the contents of srcPath in from into dst in the
// destination domain. Read errors and short writes abort the copy and leave
// whatever was written in place.
func (c *copier) copyData(ctx context.Context, from domain.Domain, srcPath, dst string, st domain.Stat) (int64, error) {
	in, err := from.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	perm := st.Mode & modeBits
	if !c.preserve {
		perm &^= os.ModeSetuid | os.ModeSetgid
	}
	out, err := c.dst.Create(dst, perm, c.dst.Caps().NoClobber)
	if err != nil {
		return 0, err
	}

	var w io.Writer = out
	if c.limiter != nil {
		w = &rateLimitedWriter{w: out, limiter: c.limiter, ctx: ctx}
	}

	var written int64
	buf := make([]byte, copyBufSize)
	for {
		nr, rerr := in.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr == nil && nw < nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				_ = out.Close()
				return written, werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			_ = out.Close()
			return written, rerr
		}
	}
	return written, out.Close()
}

func (c *copier) copySymlink(ctx context.Context, e *Entry, dst string) error {
	target, err := c.src.Readlink(e.Path)
	if err != nil {
		return err
	}
	c.clear(dst)
	if err := c.dst.Symlink(target, dst); err != nil {
		return err
	}
	c.finish(dst, e.Stat)
	c.stats.AddSymlinksCreated(1)
	c.emit(ctx, event.Event{Type: event.SymlinkCreated, Path: e.Path, Target: dst, LinkTarget: target})
	return nil
}

func (c *copier) copySpecial(ctx context.Context, e *Entry, dst string) error {
	mode := e.Stat.Mode
	if !c.dst.Caps().Devices {
		return fmt.Errorf("%w: %s in %s domain", ErrUnsupportedType, typeName(mode), c.dst.Name())
	}
	if err := c.makeSpecial(dst, e.Stat); err != nil {
		return err
	}
	c.finish(dst, e.Stat)
	c.stats.AddSpecialsCreated(1)
	c.emit(ctx, event.Event{Type: event.SpecialCreated, Path: e.Path, Target: dst})
	return nil
}

// makeSpecial recreates a fifo or device node at dst from its metadata
// alone, replacing whatever non-directory is there.
func (c *copier) makeSpecial(dst string, st domain.Stat) error {
	c.clear(dst)
	if st.Mode&os.ModeNamedPipe != 0 {
		return c.dst.Mkfifo(dst, st.Mode&modeBits)
	}
	return c.dst.Mknod(dst, st.Mode&(os.ModeType|modeBits), st.Rdev)
}

// clear removes whatever non-directory occupies dst so it can be recreated.
func (c *copier) clear(dst string) {
	if err := c.dst.Unlink(dst); err != nil && domain.Classify(err) != domain.ClassNotFound {
		slog.Debug("cannot remove existing entry", "path", dst, "error", err)
	}
}

// finish applies ownership and the source mode, which the umask may have
// narrowed at creation. Set-id bits are kept and times copied only with
// preserve. The mode follows chown since chown(2) clears set-id bits.
func (c *copier) finish(dst string, st domain.Stat) {
	c.chown(dst, st)
	if !st.IsSymlink() {
		perm := st.Mode & modeBits
		if !c.preserve {
			perm &^= os.ModeSetuid | os.ModeSetgid
		}
		if err := c.dst.Chmod(dst, perm); err != nil {
			slog.Warn("cannot set mode", "path", dst, "error", err)
		}
	}
	if !c.preserve {
		return
	}
	if err := c.dst.Chtimes(dst, st.Atime, st.Mtime); err != nil {
		slog.Warn("cannot set times", "path", dst, "error", err)
	}
}

// chown is best effort: unprivileged callers are expected to fail with a
// permission error, which is only logged at debug level.
func (c *copier) chown(dst string, st domain.Stat) {
	if !c.dst.Caps().Ownership {
		return
	}
	var err error
	if st.IsSymlink() {
		err = c.dst.Lchown(dst, int(st.UID), int(st.GID))
	} else {
		err = c.dst.Chown(dst, int(st.UID), int(st.GID))
	}
	switch {
	case err == nil:
	case domain.Classify(err) == domain.ClassPermission:
		slog.Debug("cannot set owner", "path", dst, "error", err)
	default:
		slog.Warn("cannot set owner", "path", dst, "error", err)
	}
}

// emit delivers e unless the context ends first. A nil channel drops it.
func (c *copier) emit(ctx context.Context, e event.Event) {
	if c.events == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case c.events <- e:
	case <-ctx.Done():
	}
}

func typeName(mode os.FileMode) string {
	switch {
	case mode&os.ModeSocket != 0:
		return "socket"
	case mode&os.ModeCharDevice != 0:
		return "character device"
	case mode&os.ModeDevice != 0:
		return "block device"
	case mode&os.ModeNamedPipe != 0:
		return "fifo"
	case mode&os.ModeSymlink != 0:
		return "symlink"
	case mode.IsDir():
		return "directory"
	case mode.IsRegular():
		return "regular file"
	default:
		return fmt.Sprintf("mode %v", mode.Type())
	}
}

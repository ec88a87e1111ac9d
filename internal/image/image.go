// Package image implements the Image domain: a filesystem image held in
// memory while attached and persisted as a tar archive.
package image

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"golang.org/x/sys/unix"

	"github.com/bamsammich/fsu/internal/domain"
)

// Compile-time interface check.
var _ domain.Domain = (*Image)(nil)

const maxSymlinkHops = 40

const modeBits = os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky

// node is the metadata of one object in the image. Regular file contents
// live in the billy filesystem under the same path.
type node struct {
	atime    time.Time
	mtime    time.Time
	target   string
	children []string // directory entries in creation order
	size     int64
	rdev     uint64
	uid      uint32
	gid      uint32
	mode     os.FileMode
}

// Image is an attached filesystem image. All methods are safe for
// concurrent use; operations serialize on a single lock.
type Image struct {
	data  billy.Filesystem
	nodes map[string]*node
	path  string
	opts  Options
	dev   uint64
	used  int64
	mu    sync.Mutex
	dirty bool
}

// New returns an empty image containing only the root directory. The image
// is associated with file for Save but nothing is read from it.
func New(file string, opts Options) *Image {
	now := time.Now()
	return &Image{
		data: memfs.New(),
		nodes: map[string]*node{
			"/": {mode: os.ModeDir | 0o755, atime: now, mtime: now},
		},
		path: file,
		opts: opts,
		dev:  xxhash.Sum64String(file),
	}
}

func (*Image) Name() string { return "image" }

func (*Image) Caps() domain.Capabilities {
	return domain.Capabilities{
		Hardlinks: false,
		Devices:   true,
		Ownership: true,
	}
}

// Path returns the archive file backing the image.
func (img *Image) Path() string { return img.path }

// Dirty reports whether the image was modified since it was loaded or saved.
func (img *Image) Dirty() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.dirty
}

// Used returns the number of content bytes stored in the image.
func (img *Image) Used() int64 {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.used
}

func (img *Image) Stat(p string) (domain.Stat, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	canon, n, err := img.resolve("stat", p, true)
	if err != nil {
		return domain.Stat{}, err
	}
	return img.statOf(canon, n), nil
}

func (img *Image) Lstat(p string) (domain.Stat, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	canon, n, err := img.resolve("lstat", p, false)
	if err != nil {
		return domain.Stat{}, err
	}
	return img.statOf(canon, n), nil
}

//nolint:ireturn // implements domain.Domain
func (img *Image) Open(p string) (domain.File, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	canon, n, err := img.resolve("open", p, true)
	if err != nil {
		return nil, err
	}
	switch {
	case n.mode.IsDir():
		return nil, pathError("open", p, unix.EISDIR)
	case !n.mode.IsRegular():
		return nil, pathError("open", p, unix.ENXIO)
	}
	f, err := img.data.Open(canon)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: p, Err: err}
	}
	n.atime = time.Now()
	return &file{img: img, f: f, n: n, name: p}, nil
}

//nolint:ireturn // implements domain.Domain
func (img *Image) Create(p string, perm os.FileMode, exclusive bool) (domain.File, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.create(p, perm, exclusive)
}

func (img *Image) create(p string, perm os.FileMode, exclusive bool) (*file, error) {
	dir, canon, err := img.locate("open", p)
	if err != nil {
		return nil, err
	}
	n, exists := img.nodes[canon]
	if exists && exclusive {
		return nil, pathError("open", p, unix.EEXIST)
	}
	if exists && n.mode&os.ModeSymlink != 0 {
		canon, n, err = img.resolve("open", canon, true)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, pathError("open", p, unix.ENOENT)
		}
		if err != nil {
			return nil, err
		}
		dir = path.Dir(canon)
	}

	now := time.Now()
	if exists {
		switch {
		case n.mode.IsDir():
			return nil, pathError("open", p, unix.EISDIR)
		case !n.mode.IsRegular():
			return nil, pathError("open", p, unix.ENXIO)
		}
		img.used -= n.size
		n.size = 0
		n.mtime = now
	} else {
		n = &node{mode: perm & modeBits, atime: now, mtime: now}
		img.nodes[canon] = n
		img.addChild(dir, canon)
		if err := img.data.MkdirAll(dir, 0o755); err != nil {
			return nil, &fs.PathError{Op: "open", Path: p, Err: err}
		}
	}

	f, err := img.data.OpenFile(canon, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: p, Err: err}
	}
	img.dirty = true
	return &file{img: img, f: f, n: n, name: p, write: true}, nil
}

func (img *Image) ReadDir(p string) ([]string, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	_, n, err := img.resolve("readdir", p, true)
	if err != nil {
		return nil, err
	}
	if !n.mode.IsDir() {
		return nil, pathError("readdir", p, unix.ENOTDIR)
	}
	names := make([]string, len(n.children))
	for i, c := range n.children {
		names[i] = path.Base(c)
	}
	return names, nil
}

func (img *Image) Mkdir(p string, perm os.FileMode) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	dir, canon, err := img.locate("mkdir", p)
	if err != nil {
		return err
	}
	if _, ok := img.nodes[canon]; ok {
		return pathError("mkdir", p, unix.EEXIST)
	}
	img.insert(dir, canon, &node{mode: os.ModeDir | perm&modeBits})
	return nil
}

func (img *Image) Rmdir(p string) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	canon, n, err := img.resolve("rmdir", p, false)
	if err != nil {
		return err
	}
	switch {
	case canon == "/":
		return pathError("rmdir", p, unix.EBUSY)
	case !n.mode.IsDir():
		return pathError("rmdir", p, unix.ENOTDIR)
	case len(n.children) > 0:
		return pathError("rmdir", p, unix.ENOTEMPTY)
	}
	// billy only holds directories that once contained a regular file.
	_ = img.data.Remove(canon)
	img.remove(canon)
	return nil
}

func (img *Image) Unlink(p string) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	canon, n, err := img.resolve("unlink", p, false)
	if err != nil {
		return err
	}
	if n.mode.IsDir() {
		return pathError("unlink", p, unix.EISDIR)
	}
	if n.mode.IsRegular() {
		if err := img.data.Remove(canon); err != nil {
			return &fs.PathError{Op: "unlink", Path: p, Err: err}
		}
		img.used -= n.size
	}
	img.remove(canon)
	return nil
}

// Link always fails: the image format stores every path independently.
func (*Image) Link(_, newpath string) error {
	return pathError("link", newpath, errors.ErrUnsupported)
}

func (img *Image) Symlink(target, p string) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	dir, canon, err := img.locate("symlink", p)
	if err != nil {
		return err
	}
	if _, ok := img.nodes[canon]; ok {
		return pathError("symlink", p, unix.EEXIST)
	}
	img.insert(dir, canon, &node{
		mode:   os.ModeSymlink | 0o777,
		target: target,
		size:   int64(len(target)),
	})
	return nil
}

func (img *Image) Readlink(p string) (string, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	_, n, err := img.resolve("readlink", p, false)
	if err != nil {
		return "", err
	}
	if n.mode&os.ModeSymlink == 0 {
		return "", pathError("readlink", p, unix.EINVAL)
	}
	return n.target, nil
}

func (img *Image) Mknod(p string, mode os.FileMode, rdev uint64) error {
	if mode&(os.ModeDevice|os.ModeNamedPipe) == 0 {
		return pathError("mknod", p, unix.EINVAL)
	}
	return img.special("mknod", p, mode&(os.ModeType|modeBits), rdev)
}

func (img *Image) Mkfifo(p string, perm os.FileMode) error {
	return img.special("mkfifo", p, os.ModeNamedPipe|perm&modeBits, 0)
}

func (img *Image) special(op, p string, mode os.FileMode, rdev uint64) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	dir, canon, err := img.locate(op, p)
	if err != nil {
		return err
	}
	if _, ok := img.nodes[canon]; ok {
		return pathError(op, p, unix.EEXIST)
	}
	img.insert(dir, canon, &node{mode: mode, rdev: rdev})
	return nil
}

func (img *Image) Chown(p string, uid, gid int) error {
	return img.chown("chown", p, uid, gid, true)
}

func (img *Image) Lchown(p string, uid, gid int) error {
	return img.chown("lchown", p, uid, gid, false)
}

func (img *Image) chown(op, p string, uid, gid int, follow bool) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	_, n, err := img.resolve(op, p, follow)
	if err != nil {
		return err
	}
	// -1 leaves the id unchanged, as chown(2) does.
	if uid >= 0 {
		n.uid = uint32(uid) //nolint:gosec // G115: uid range checked above
	}
	if gid >= 0 {
		n.gid = uint32(gid) //nolint:gosec // G115: gid range checked above
	}
	img.dirty = true
	return nil
}

func (img *Image) Chmod(p string, mode os.FileMode) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	_, n, err := img.resolve("chmod", p, true)
	if err != nil {
		return err
	}
	n.mode = n.mode&os.ModeType | mode&modeBits
	img.dirty = true
	return nil
}

func (img *Image) Chtimes(p string, atime, mtime time.Time) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	_, n, err := img.resolve("utimensat", p, false)
	if err != nil {
		return err
	}
	n.atime, n.mtime = atime, mtime
	img.dirty = true
	return nil
}

// resolve looks up p, following symlinks in intermediate components and, if
// follow is set, in the final one. It returns the symlink-free path.
func (img *Image) resolve(op, p string, follow bool) (string, *node, error) {
	want := clean(p)
	for hops := 0; ; hops++ {
		if hops > maxSymlinkHops {
			return "", nil, pathError(op, p, unix.ELOOP)
		}
		canon, n, next, err := img.walk(want, follow)
		if err != nil {
			return "", nil, pathError(op, p, err)
		}
		if next == "" {
			return canon, n, nil
		}
		want = next
	}
}

// walk descends want one component at a time. When it meets a symlink it
// must traverse, it returns the rewritten path in next.
func (img *Image) walk(want string, follow bool) (canon string, n *node, next string, err error) {
	cur, n := "/", img.nodes["/"]
	parts := components(want)
	for i, name := range parts {
		if !n.mode.IsDir() {
			return "", nil, "", unix.ENOTDIR
		}
		child := domain.Join(cur, name)
		cn, ok := img.nodes[child]
		if !ok {
			return "", nil, "", unix.ENOENT
		}
		last := i == len(parts)-1
		if cn.mode&os.ModeSymlink != 0 && (!last || follow) {
			target := cn.target
			if !path.IsAbs(target) {
				target = path.Join(cur, target)
			}
			return "", nil, clean(path.Join(target, strings.Join(parts[i+1:], "/"))), nil
		}
		cur, n = child, cn
	}
	return cur, n, "", nil
}

// locate resolves the parent of p, which must be an existing directory, and
// returns it together with the canonical path p would have.
func (img *Image) locate(op, p string) (dir, canon string, err error) {
	c := clean(p)
	if c == "/" {
		return "", "", pathError(op, p, unix.EEXIST)
	}
	parent, n, err := img.resolve(op, path.Dir(c), true)
	if err != nil {
		return "", "", err
	}
	if !n.mode.IsDir() {
		return "", "", pathError(op, p, unix.ENOTDIR)
	}
	return parent, domain.Join(parent, path.Base(c)), nil
}

func (img *Image) insert(dir, canon string, n *node) {
	now := time.Now()
	n.atime, n.mtime = now, now
	img.nodes[canon] = n
	img.addChild(dir, canon)
	img.dirty = true
}

func (img *Image) addChild(dir, canon string) {
	parent := img.nodes[dir]
	parent.children = append(parent.children, canon)
	parent.mtime = time.Now()
}

func (img *Image) remove(canon string) {
	delete(img.nodes, canon)
	if parent, ok := img.nodes[path.Dir(canon)]; ok {
		parent.children = slices.DeleteFunc(parent.children, func(c string) bool { return c == canon })
		parent.mtime = time.Now()
	}
	img.dirty = true
}

func (img *Image) statOf(canon string, n *node) domain.Stat {
	st := domain.Stat{
		Mode:  n.mode,
		Size:  n.size,
		UID:   n.uid,
		GID:   n.gid,
		Nlink: 1,
		Dev:   img.dev,
		Ino:   xxhash.Sum64String(canon),
		Rdev:  n.rdev,
		Atime: n.atime,
		Mtime: n.mtime,
	}
	if n.mode.IsDir() {
		st.Nlink = 2
	}
	return st
}

// reserve accounts for n more content bytes and returns how many fit.
func (img *Image) reserve(n int) int {
	if img.opts.MaxSize <= 0 {
		img.used += int64(n)
		return n
	}
	avail := img.opts.MaxSize - img.used
	if avail < int64(n) {
		n = int(max(avail, 0))
	}
	img.used += int64(n)
	return n
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func components(p string) []string {
	if p == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

func pathError(op, p string, err error) error {
	return &fs.PathError{Op: op, Path: p, Err: err}
}

// file is an open handle on a regular file in the image.
type file struct {
	img   *Image
	f     billy.File
	n     *node
	name  string
	write bool
}

func (f *file) Read(p []byte) (int, error) {
	f.img.mu.Lock()
	defer f.img.mu.Unlock()
	return f.f.Read(p)
}

func (f *file) Write(p []byte) (int, error) {
	if !f.write {
		return 0, pathError("write", f.name, unix.EBADF)
	}
	f.img.mu.Lock()
	defer f.img.mu.Unlock()

	fit := f.img.reserve(len(p))
	n, err := f.f.Write(p[:fit])
	f.img.used -= int64(fit - n)
	f.n.size += int64(n)
	f.n.mtime = time.Now()
	f.img.dirty = true
	if err != nil {
		return n, &fs.PathError{Op: "write", Path: f.name, Err: err}
	}
	if fit < len(p) {
		return n, pathError("write", f.name, unix.ENOSPC)
	}
	return n, nil
}

func (f *file) Close() error {
	return f.f.Close()
}

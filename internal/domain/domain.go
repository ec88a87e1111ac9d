package domain

import (
	"io"
	"os"
	"time"
)

// Stat is a metadata snapshot of a single filesystem object.
type Stat struct {
	Atime time.Time
	Mtime time.Time
	Size  int64
	Nlink uint64
	Dev   uint64
	Ino   uint64
	Rdev  uint64
	UID   uint32
	GID   uint32
	Mode  os.FileMode
}

func (s Stat) IsDir() bool     { return s.Mode.IsDir() }
func (s Stat) IsSymlink() bool { return s.Mode&os.ModeSymlink != 0 }
func (s Stat) IsRegular() bool { return s.Mode.IsRegular() }

// Capabilities describes what a domain supports.
type Capabilities struct {
	Hardlinks bool
	Devices   bool
	Ownership bool
	NoClobber bool // regular-file copies into this domain must not overwrite
}

// File is an open file handle in a domain.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// Domain is the set of filesystem primitives the replicator needs. Every
// failure is returned as an error that Classify can sort into a Class.
type Domain interface {
	// Name identifies the domain in logs ("host", "image").
	Name() string

	// Caps returns the capabilities of this domain.
	Caps() Capabilities

	Stat(path string) (Stat, error)
	Lstat(path string) (Stat, error)

	// Open opens a file read-only.
	Open(path string) (File, error)

	// Create opens path for writing, creating it with perm. When exclusive
	// is set an existing path is an error, otherwise it is truncated.
	Create(path string, perm os.FileMode, exclusive bool) (File, error)

	// ReadDir returns the names in a directory in the domain's native read
	// order, without "." and "..".
	ReadDir(path string) ([]string, error)

	Mkdir(path string, perm os.FileMode) error
	Rmdir(path string) error
	Unlink(path string) error
	Link(oldpath, newpath string) error
	Symlink(target, path string) error
	Readlink(path string) (string, error)
	Mknod(path string, mode os.FileMode, rdev uint64) error
	Mkfifo(path string, perm os.FileMode) error
	Chown(path string, uid, gid int) error
	Lchown(path string, uid, gid int) error
	Chmod(path string, mode os.FileMode) error

	// Chtimes sets access and modification times without following a
	// trailing symlink.
	Chtimes(path string, atime, mtime time.Time) error
}

// Direction names the source and destination domain of a run.
type Direction struct {
	Src Domain
	Dst Domain
}

// Get copies out of an image onto the host.
func Get(image, host Domain) Direction {
	return Direction{Src: image, Dst: host}
}

// Put copies from the host into an image.
func Put(host, image Domain) Direction {
	return Direction{Src: host, Dst: image}
}

func (d Direction) String() string {
	return d.Src.Name() + " -> " + d.Dst.Name()
}

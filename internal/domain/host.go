package domain

import (
	"io/fs"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Compile-time interface check.
var _ Domain = (*Host)(nil)

// Host is the real filesystem of the running process.
type Host struct{}

// NewHost creates a host domain.
func NewHost() *Host {
	return &Host{}
}

func (*Host) Name() string { return "host" }

func (*Host) Caps() Capabilities {
	return Capabilities{
		Hardlinks: true,
		Devices:   true,
		Ownership: true,
		NoClobber: true,
	}
}

func (*Host) Stat(path string) (Stat, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Stat{}, err
	}
	return statFromInfo(info), nil
}

func (*Host) Lstat(path string) (Stat, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Stat{}, err
	}
	return statFromInfo(info), nil
}

//nolint:ireturn // implements Domain interface
func (*Host) Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

//nolint:ireturn // implements Domain interface
func (*Host) Create(path string, perm os.FileMode, exclusive bool) (File, error) {
	flag := os.O_WRONLY | os.O_CREATE
	if exclusive {
		flag |= os.O_EXCL
	} else {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (*Host) ReadDir(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

func (*Host) Mkdir(path string, perm os.FileMode) error {
	return os.Mkdir(path, perm)
}

func (*Host) Rmdir(path string) error {
	return pathErr("rmdir", path, unix.Rmdir(path))
}

func (*Host) Unlink(path string) error {
	return pathErr("unlink", path, unix.Unlink(path))
}

func (*Host) Link(oldpath, newpath string) error {
	return os.Link(oldpath, newpath)
}

func (*Host) Symlink(target, path string) error {
	return os.Symlink(target, path)
}

func (*Host) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

func (*Host) Mknod(path string, mode os.FileMode, rdev uint64) error {
	//nolint:gosec // G115: dev_t fits in int on supported platforms
	return pathErr("mknod", path, unix.Mknod(path, unixMode(mode), int(rdev)))
}

func (*Host) Mkfifo(path string, perm os.FileMode) error {
	return pathErr("mkfifo", path, unix.Mkfifo(path, unixMode(perm&^os.ModeType)))
}

func (*Host) Chown(path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}

func (*Host) Lchown(path string, uid, gid int) error {
	return os.Lchown(path, uid, gid)
}

func (*Host) Chmod(path string, mode os.FileMode) error {
	return os.Chmod(path, mode)
}

func (*Host) Chtimes(path string, atime, mtime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return pathErr("utimensat", path,
		unix.UtimesNanoAt(unix.AT_FDCWD, path, times, unix.AT_SYMLINK_NOFOLLOW))
}

func pathErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &fs.PathError{Op: op, Path: path, Err: err}
}

// statFromInfo converts os.FileInfo plus its syscall.Stat_t to a Stat.
func statFromInfo(info os.FileInfo) Stat {
	st := Stat{
		Mode:  info.Mode(),
		Size:  info.Size(),
		Mtime: info.ModTime(),
		Nlink: 1,
	}
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		fillStatFields(sys, &st)
	}
	return st
}

// unixMode converts a Go file mode into the st_mode bits mknod(2) expects.
func unixMode(mode os.FileMode) uint32 {
	m := uint32(mode.Perm())
	switch {
	case mode&os.ModeCharDevice != 0:
		m |= unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		m |= unix.S_IFBLK
	case mode&os.ModeNamedPipe != 0:
		m |= unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		m |= unix.S_IFSOCK
	}
	if mode&os.ModeSetuid != 0 {
		m |= unix.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= unix.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= unix.S_ISVTX
	}
	return m
}

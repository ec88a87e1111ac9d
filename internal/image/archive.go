package image

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sys/unix"
)

// Compression selects how Save encodes the archive.
type Compression int

const (
	// CompressAuto keeps the encoding the image was loaded with; a new
	// image is written uncompressed.
	CompressAuto Compression = iota
	CompressNone
	CompressGzip
	CompressZstd
)

var compressionNames = [...]string{
	CompressAuto: "auto",
	CompressNone: "none",
	CompressGzip: "gzip",
	CompressZstd: "zstd",
}

func (c Compression) String() string {
	if int(c) < len(compressionNames) {
		return compressionNames[c]
	}
	return "unknown"
}

// ParseCompression accepts "auto", "none", "gzip" or "zstd". The empty
// string means auto.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return CompressAuto, nil
	case "none":
		return CompressNone, nil
	case "gzip", "gz":
		return CompressGzip, nil
	case "zstd", "zst":
		return CompressZstd, nil
	default:
		return CompressAuto, fmt.Errorf("unknown compression %q (want auto, none, gzip or zstd)", s)
	}
}

// Options configures an attached image.
type Options struct {
	// Compression used by Save. Loading detects the encoding on its own.
	Compression Compression

	// MaxSize caps the content bytes the image may hold. Writes past it
	// fail with ENOSPC. Zero means unlimited.
	MaxSize int64
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Open attaches the image stored in file. A missing file gives an empty
// image that Save will create.
func Open(file string, opts Options) (*Image, error) {
	img := New(file, opts)

	f, err := os.Open(file)
	if errors.Is(err, os.ErrNotExist) {
		return img, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	r, detected, closeFn, err := decompress(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", file, err)
	}
	defer closeFn()
	if opts.Compression == CompressAuto {
		img.opts.Compression = detected
	}

	// Capacity limits apply to new writes, not to what is already stored.
	img.opts.MaxSize = 0
	if err := img.load(tar.NewReader(r)); err != nil {
		return nil, fmt.Errorf("reading image %s: %w", file, err)
	}
	img.opts.MaxSize = opts.MaxSize
	img.dirty = false
	return img, nil
}

func decompress(br *bufio.Reader) (io.Reader, Compression, func(), error) {
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, CompressAuto, nil, err
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, CompressAuto, nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, CompressGzip, func() { _ = zr.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, CompressAuto, nil, fmt.Errorf("zstd: %w", err)
		}
		return zr, CompressZstd, zr.Close, nil
	default:
		return br, CompressNone, func() {}, nil
	}
}

// Compression reports the encoding Save will use.
func (img *Image) Compression() Compression {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.opts.Compression
}

func (img *Image) load(tr *tar.Reader) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		p := clean(hdr.Name)
		if p == "/" {
			img.applyHeader(p, hdr)
			continue
		}
		if err := img.ensureParents(p); err != nil {
			return err
		}
		if err := img.loadEntry(p, hdr, tr); err != nil {
			return err
		}
		img.applyHeader(p, hdr)
	}
}

func (img *Image) loadEntry(p string, hdr *tar.Header, tr *tar.Reader) error {
	perm := hdr.FileInfo().Mode() & modeBits
	switch hdr.Typeflag {
	case tar.TypeDir:
		if st, err := img.Lstat(p); err == nil && st.IsDir() {
			return nil
		}
		return img.Mkdir(p, perm)
	case tar.TypeReg:
		return img.loadFile(p, perm, tr)
	case tar.TypeLink:
		// Hard links become independent copies.
		src, err := img.Open(clean(hdr.Linkname))
		if err != nil {
			return fmt.Errorf("hard link %s: %w", p, err)
		}
		defer src.Close()
		return img.loadFile(p, perm, src)
	case tar.TypeSymlink:
		return img.Symlink(hdr.Linkname, p)
	case tar.TypeChar:
		return img.Mknod(p, os.ModeDevice|os.ModeCharDevice|perm, mkdev(hdr))
	case tar.TypeBlock:
		return img.Mknod(p, os.ModeDevice|perm, mkdev(hdr))
	case tar.TypeFifo:
		return img.Mkfifo(p, perm)
	default:
		slog.Warn("skipping unsupported archive entry",
			"path", p, "type", string(hdr.Typeflag))
		return nil
	}
}

func (img *Image) loadFile(p string, perm os.FileMode, r io.Reader) error {
	f, err := img.Create(p, perm, false)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ensureParents creates directories that the archive implies but does not
// list before their children.
func (img *Image) ensureParents(p string) error {
	dir := path.Dir(p)
	if dir == "/" {
		return nil
	}
	st, err := img.Lstat(dir)
	if err == nil {
		if !st.IsDir() {
			return fmt.Errorf("%s: parent is not a directory", p)
		}
		return nil
	}
	if err := img.ensureParents(dir); err != nil {
		return err
	}
	return img.Mkdir(dir, 0o755)
}

func (img *Image) applyHeader(p string, hdr *tar.Header) {
	img.mu.Lock()
	defer img.mu.Unlock()
	n, ok := img.nodes[p]
	if !ok {
		return
	}
	if n.mode&os.ModeSymlink == 0 {
		n.mode = n.mode&os.ModeType | hdr.FileInfo().Mode()&modeBits
	}
	n.uid = uint32(hdr.Uid) //nolint:gosec // G115: archive ids are 32-bit
	n.gid = uint32(hdr.Gid) //nolint:gosec // G115: archive ids are 32-bit
	n.mtime = hdr.ModTime
	n.atime = hdr.AccessTime
	if n.atime.IsZero() {
		n.atime = hdr.ModTime
	}
}

func mkdev(hdr *tar.Header) uint64 {
	//nolint:gosec // G115: device numbers are 32-bit
	return unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
}

// Save writes the image back to its file. The archive is written to a
// temporary file in the same directory and renamed into place.
func (img *Image) Save() error {
	img.mu.Lock()
	defer img.mu.Unlock()

	dir, base := filepath.Split(img.path)
	if dir == "" {
		dir = "."
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.fsu-tmp", base, uuid.New().String()[:8]))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("saving image: %w", err)
	}
	if err := img.writeArchive(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("saving image: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("syncing image: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("closing image: %w", err)
	}
	if err := os.Rename(tmp, img.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming image into place: %w", err)
	}
	img.dirty = false
	return nil
}

func (img *Image) writeArchive(w io.Writer) error {
	var zw io.WriteCloser
	switch img.opts.Compression {
	case CompressGzip:
		zw = gzip.NewWriter(w)
	case CompressZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		zw = enc
	case CompressAuto, CompressNone:
	}

	out := w
	if zw != nil {
		out = zw
	}
	tw := tar.NewWriter(out)
	if err := img.writeTree(tw, "/"); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}

// writeTree emits the children of dir in pre-order. Caller holds img.mu.
func (img *Image) writeTree(tw *tar.Writer, dir string) error {
	for _, child := range img.nodes[dir].children {
		n := img.nodes[child]
		if err := img.writeEntry(tw, child, n); err != nil {
			return fmt.Errorf("%s: %w", child, err)
		}
		if n.mode.IsDir() {
			if err := img.writeTree(tw, child); err != nil {
				return err
			}
		}
	}
	return nil
}

func (img *Image) writeEntry(tw *tar.Writer, p string, n *node) error {
	hdr := &tar.Header{
		Name:       strings.TrimPrefix(p, "/"),
		Mode:       tarMode(n.mode),
		Uid:        int(n.uid),
		Gid:        int(n.gid),
		ModTime:    n.mtime.Truncate(time.Microsecond),
		AccessTime: n.atime.Truncate(time.Microsecond),
		Format:     tar.FormatPAX,
	}
	switch {
	case n.mode.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
	case n.mode&os.ModeSymlink != 0:
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = n.target
	case n.mode&os.ModeNamedPipe != 0:
		hdr.Typeflag = tar.TypeFifo
	case n.mode&os.ModeDevice != 0:
		hdr.Typeflag = tar.TypeBlock
		if n.mode&os.ModeCharDevice != 0 {
			hdr.Typeflag = tar.TypeChar
		}
		hdr.Devmajor = int64(unix.Major(n.rdev))
		hdr.Devminor = int64(unix.Minor(n.rdev))
	case n.mode.IsRegular():
		hdr.Typeflag = tar.TypeReg
		hdr.Size = n.size
	default:
		return nil
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if hdr.Typeflag != tar.TypeReg {
		return nil
	}
	f, err := img.data.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// tarMode encodes permission and set-id bits the way ustar headers store them.
func tarMode(m os.FileMode) int64 {
	mode := int64(m.Perm())
	if m&os.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if m&os.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if m&os.ModeSticky != 0 {
		mode |= 0o1000
	}
	return mode
}

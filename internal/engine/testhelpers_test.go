package engine

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bamsammich/fsu/internal/domain"
	"github.com/bamsammich/fsu/internal/event"
	"github.com/bamsammich/fsu/internal/image"
)

// createTestTree populates root on the host with:
//
//	root.txt          (17 bytes)
//	big.bin           (320KB)
//	sub/mid.txt       (19 bytes)
//	sub/deep/leaf.txt (17 bytes)
//	link.txt          → root.txt (symlink)
//	dangling          → ../missing (symlink)
func createTestTree(t *testing.T, root string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "root.txt"), []byte("root file content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.bin"),
		bytes.Repeat([]byte("ABCDEFGHIJKLMNOP"), 20000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "mid.txt"), []byte("middle file content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep", "leaf.txt"), []byte("leaf file content"), 0o644))
	require.NoError(t, os.Symlink("root.txt", filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink("../missing", filepath.Join(root, "dangling")))
}

// verifyTreeCopy checks that dstRoot holds a copy of the createTestTree tree
// under srcRoot. d reads the destination.
func verifyTreeCopy(t *testing.T, d domain.Domain, srcRoot, dstRoot string) {
	t.Helper()

	for _, rel := range []string{"root.txt", "big.bin", "sub/mid.txt", "sub/deep/leaf.txt"} {
		want, err := os.ReadFile(filepath.Join(srcRoot, rel))
		require.NoError(t, err, "read src %s", rel)
		require.Equal(t, want, readAll(t, d, dstRoot+"/"+rel), "content mismatch: %s", rel)
	}
	for _, dir := range []string{"sub", "sub/deep"} {
		st, err := d.Lstat(dstRoot + "/" + dir)
		require.NoError(t, err, "stat dir %s", dir)
		require.True(t, st.IsDir(), "%s should be a directory", dir)
	}
	for rel, want := range map[string]string{"link.txt": "root.txt", "dangling": "../missing"} {
		target, err := d.Readlink(dstRoot + "/" + rel)
		require.NoError(t, err, "readlink %s", rel)
		require.Equal(t, want, target)
	}
}

func readAll(t *testing.T, d domain.Domain, p string) []byte {
	t.Helper()
	f, err := d.Open(p)
	require.NoError(t, err, "open %s", p)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func writeImageFile(t *testing.T, img *image.Image, p, content string) {
	t.Helper()
	f, err := img.Create(p, 0o644, false)
	require.NoError(t, err)
	_, err = io.WriteString(f, content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func paths(list EntryList) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Path
	}
	return out
}

// collectEvents returns a channel for Options.Events and a function that
// stops collection and returns everything received.
func collectEvents(t *testing.T) (chan<- event.Event, func() []event.Event) {
	t.Helper()
	ch := make(chan event.Event, 64)
	var (
		mu     sync.Mutex
		events []event.Event
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}
	}()
	var once sync.Once
	stop := func() []event.Event {
		once.Do(func() {
			close(ch)
			<-done
		})
		mu.Lock()
		defer mu.Unlock()
		return events
	}
	t.Cleanup(func() { stop() })
	return ch, stop
}

// faultDomain wraps a domain and injects failures.
type faultDomain struct {
	domain.Domain

	mu         sync.Mutex
	denyOpen   map[string]bool
	denyRead   map[string]bool // ReadDir
	denyLstat  map[string]bool
	refuseLink bool
	budget     int64 // bytes Create'd files may still take; <0 is unlimited
	creates    []string
	links      int
}

func newFaultDomain(d domain.Domain) *faultDomain {
	return &faultDomain{
		Domain:    d,
		denyOpen:  map[string]bool{},
		denyRead:  map[string]bool{},
		denyLstat: map[string]bool{},
		budget:    -1,
	}
}

func (f *faultDomain) Lstat(p string) (domain.Stat, error) {
	if f.denyLstat[p] {
		return domain.Stat{}, &fs.PathError{Op: "lstat", Path: p, Err: unix.EACCES}
	}
	return f.Domain.Lstat(p)
}

//nolint:ireturn // test double
func (f *faultDomain) Open(p string) (domain.File, error) {
	if f.denyOpen[p] {
		return nil, &fs.PathError{Op: "open", Path: p, Err: unix.EACCES}
	}
	return f.Domain.Open(p)
}

func (f *faultDomain) ReadDir(p string) ([]string, error) {
	if f.denyRead[p] {
		return nil, &fs.PathError{Op: "open", Path: p, Err: unix.EACCES}
	}
	return f.Domain.ReadDir(p)
}

//nolint:ireturn // test double
func (f *faultDomain) Create(p string, perm os.FileMode, exclusive bool) (domain.File, error) {
	f.mu.Lock()
	f.creates = append(f.creates, p)
	f.mu.Unlock()
	file, err := f.Domain.Create(p, perm, exclusive)
	if err != nil {
		return nil, err
	}
	return &budgetFile{File: file, fd: f, name: p}, nil
}

func (f *faultDomain) Link(oldpath, newpath string) error {
	f.mu.Lock()
	f.links++
	f.mu.Unlock()
	if f.refuseLink {
		return &fs.PathError{Op: "link", Path: newpath, Err: errors.ErrUnsupported}
	}
	return f.Domain.Link(oldpath, newpath)
}

func (f *faultDomain) created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.creates...)
}

type budgetFile struct {
	domain.File
	fd   *faultDomain
	name string
}

func (b *budgetFile) Write(p []byte) (int, error) {
	b.fd.mu.Lock()
	budget := b.fd.budget
	if budget >= 0 && int64(len(p)) > budget {
		b.fd.budget = 0
		b.fd.mu.Unlock()
		n, _ := b.File.Write(p[:budget])
		return n, &fs.PathError{Op: "write", Path: b.name, Err: unix.ENOSPC}
	}
	if budget >= 0 {
		b.fd.budget -= int64(len(p))
	}
	b.fd.mu.Unlock()
	return b.File.Write(p)
}

func hostToHost() domain.Direction {
	return domain.Direction{Src: domain.NewHost(), Dst: domain.NewHost()}
}

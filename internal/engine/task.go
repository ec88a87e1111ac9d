package engine

import (
	"github.com/bamsammich/fsu/internal/domain"
)

// Entry is one walked filesystem object.
type Entry struct {
	Domain domain.Domain
	Parent *Entry // nil for the root
	Path   string
	Name   string // last component of Path, sharing its storage
	Stat   domain.Stat

	// ViaSymlink is set when the entry was reached by dereferencing a
	// symlink; such entries never take part in hard-link grouping.
	ViaSymlink bool
}

// DevIno uniquely identifies an inode for hard-link detection.
type DevIno struct {
	Dev uint64
	Ino uint64
}

// Key returns the inode identity of the entry.
func (e *Entry) Key() DevIno {
	return DevIno{Dev: e.Stat.Dev, Ino: e.Stat.Ino}
}

// EntryList is a pre-order walk result: the root first, then each directory
// immediately followed by its subtree.
type EntryList []*Entry

// Root returns the first entry, or nil for an empty list.
func (l EntryList) Root() *Entry {
	if len(l) == 0 {
		return nil
	}
	return l[0]
}

// LinkGroup is one hard-linked inode: the representative that gets copied
// and the aliases that are recreated as links to its copy.
type LinkGroup struct {
	Rep     *Entry
	Aliases []*Entry
}

// Resolved is an entry list with the hard-link aliases split out.
type Resolved struct {
	Primary EntryList
	Groups  []*LinkGroup
}

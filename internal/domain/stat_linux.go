//go:build linux

package domain

import (
	"syscall"
	"time"
)

// fillStatFields extracts platform-specific fields from syscall.Stat_t into a Stat.
func fillStatFields(stat *syscall.Stat_t, st *Stat) {
	st.UID = stat.Uid
	st.GID = stat.Gid
	st.Nlink = uint64(stat.Nlink) //nolint:unconvert // uint32 on some arches
	st.Dev = uint64(stat.Dev)   //nolint:unconvert // uint32 on mips
	st.Ino = stat.Ino
	st.Rdev = uint64(stat.Rdev) //nolint:unconvert // uint32 on mips
	st.Atime = time.Unix(stat.Atim.Unix())
}

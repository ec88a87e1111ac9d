//go:build darwin

package domain

import (
	"syscall"
	"time"
)

// fillStatFields extracts platform-specific fields from syscall.Stat_t into a Stat.
func fillStatFields(stat *syscall.Stat_t, st *Stat) {
	st.UID = stat.Uid
	st.GID = stat.Gid
	st.Nlink = uint64(stat.Nlink)
	st.Dev = uint64(stat.Dev) //nolint:gosec // G115: dev_t is int32 on darwin
	st.Ino = stat.Ino
	st.Rdev = uint64(stat.Rdev) //nolint:gosec // G115: dev_t is int32 on darwin
	st.Atime = time.Unix(stat.Atimespec.Unix())
}

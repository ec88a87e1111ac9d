package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestClassify(t *testing.T) {
	wrap := func(errno error) error {
		return &fs.PathError{Op: "op", Path: "/p", Err: errno}
	}
	tests := []struct {
		err  error
		want Class
	}{
		{nil, ClassNone},
		{wrap(unix.ENOSPC), ClassNoSpace},
		{wrap(unix.EDQUOT), ClassNoSpace},
		{wrap(unix.EPERM), ClassPermission},
		{wrap(unix.EACCES), ClassPermission},
		{wrap(unix.ENOENT), ClassNotFound},
		{wrap(unix.ENOTDIR), ClassNotDir},
		{wrap(unix.EEXIST), ClassExists},
		{wrap(unix.EOPNOTSUPP), ClassUnsupported},
		{wrap(errors.ErrUnsupported), ClassUnsupported},
		{wrap(unix.EIO), ClassOther},
		{fmt.Errorf("copy: %w", wrap(unix.ENOSPC)), ClassNoSpace},
		{errors.New("plain"), ClassOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "Classify(%v)", tt.err)
	}
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "out-of-space", ClassNoSpace.String())
	assert.Equal(t, "not-a-directory", ClassNotDir.String())
	assert.Equal(t, "unknown", Class(99).String())
}

func TestIsHelpers(t *testing.T) {
	assert.True(t, IsNoSpace(&fs.PathError{Err: unix.ENOSPC}))
	assert.False(t, IsNoSpace(&fs.PathError{Err: unix.EIO}))
	assert.True(t, IsUnsupported(&fs.PathError{Err: errors.ErrUnsupported}))
}

package domain

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// Class is the coarse category of a domain failure.
type Class int

const (
	ClassNone Class = iota
	ClassOther
	ClassPermission
	ClassNotFound
	ClassNotDir
	ClassExists
	ClassNoSpace
	ClassUnsupported
)

var classNames = [...]string{
	ClassNone:        "none",
	ClassOther:       "other",
	ClassPermission:  "permission",
	ClassNotFound:    "not-found",
	ClassNotDir:      "not-a-directory",
	ClassExists:      "exists",
	ClassNoSpace:     "out-of-space",
	ClassUnsupported: "unsupported",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return "unknown"
}

// Classify sorts err into a Class. Both domains report errno values wrapped
// in *fs.PathError, so errors.Is does the work.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EDQUOT):
		return ClassNoSpace
	case errors.Is(err, errors.ErrUnsupported):
		return ClassUnsupported
	case errors.Is(err, unix.ENOTDIR):
		return ClassNotDir
	case errors.Is(err, fs.ErrNotExist):
		return ClassNotFound
	case errors.Is(err, fs.ErrPermission):
		return ClassPermission
	case errors.Is(err, fs.ErrExist):
		return ClassExists
	default:
		return ClassOther
	}
}

// IsNoSpace reports whether err means the destination ran out of space.
func IsNoSpace(err error) bool { return Classify(err) == ClassNoSpace }

// IsUnsupported reports whether err means the operation is not supported.
func IsUnsupported(err error) bool { return Classify(err) == ClassUnsupported }

package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNotDir          = errors.New("not a directory")
	ErrIsDir           = errors.New("is a directory")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooDeep         = errors.New("directory nesting too deep")
)

// StructuralError aborts a run before anything in the destination was
// changed: the source root is unreadable or the destination root cannot be
// made a directory.
type StructuralError struct {
	Err  error
	Op   string
	Path string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// EntryError records one entry that could not be copied, removed, relinked
// or verified. The run continues past it.
type EntryError struct {
	Err  error
	Op   string
	Path string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// ExhaustedError means the destination ran out of space. Entries copied
// before it stay in place; nothing after it was attempted.
type ExhaustedError struct {
	Err  error
	Path string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("out of space writing %s: %v", e.Path, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

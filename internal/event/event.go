package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	WalkComplete Type = iota + 1
	EntryCopied
	DirCreated
	SymlinkCreated
	SpecialCreated
	HardlinkCreated
	LinkFallback
	EntryFailed
	EntryRemoved
	VerifyOK
	VerifyFailed
	RunAborted
)

var typeNames = [...]string{
	WalkComplete:    "WalkComplete",
	EntryCopied:     "EntryCopied",
	DirCreated:      "DirCreated",
	SymlinkCreated:  "SymlinkCreated",
	SpecialCreated:  "SpecialCreated",
	HardlinkCreated: "HardlinkCreated",
	LinkFallback:    "LinkFallback",
	EntryFailed:     "EntryFailed",
	EntryRemoved:    "EntryRemoved",
	VerifyOK:        "VerifyOK",
	VerifyFailed:    "VerifyFailed",
	RunAborted:      "RunAborted",
}

func (t Type) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the engine.
type Event struct {
	Timestamp  time.Time
	Error      error
	Path       string // source path
	Target     string // destination path
	LinkTarget string // symlink contents, or the copy a hard link joins
	Type       Type
	Size       int64 // bytes copied, or entries walked for WalkComplete
}

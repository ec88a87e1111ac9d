package ui

import (
	"fmt"
	"io"

	"github.com/bamsammich/fsu/internal/event"
)

// quietPresenter prints failures and aborts only.
type quietPresenter struct {
	errW io.Writer
}

func (p quietPresenter) Run(events <-chan event.Event) error {
	for ev := range events {
		if p.errW == nil {
			continue
		}
		switch ev.Type {
		case event.EntryFailed:
			fmt.Fprintf(p.errW, "%s: %s\n", ev.Path, errText(ev.Error))
		case event.RunAborted:
			fmt.Fprintf(p.errW, "aborted: %s\n", errText(ev.Error))
		}
	}
	return nil
}

func (quietPresenter) Summary() string {
	return ""
}

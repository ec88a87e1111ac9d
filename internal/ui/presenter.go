package ui

import (
	"io"

	"github.com/bamsammich/fsu/internal/event"
	"github.com/bamsammich/fsu/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan event.Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer
	ErrWriter io.Writer
	Stats     *stats.Collector
	IsTTY     bool // ErrWriter is a terminal
	Width     int  // terminal columns; progress lines are cut to fit
	Quiet     bool
	Verbose   bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return quietPresenter{errW: cfg.ErrWriter}
	}
	return &plainPresenter{
		w:        cfg.Writer,
		errW:     cfg.ErrWriter,
		stats:    cfg.Stats,
		verbose:  cfg.Verbose,
		progress: cfg.IsTTY && !cfg.Verbose,
		width:    cfg.Width,
	}
}

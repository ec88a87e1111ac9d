package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/fsu/internal/event"
	"github.com/bamsammich/fsu/internal/stats"
)

const progressBarWidth = 20

// plainPresenter prints one line per created or removed entry to stdout when
// verbose, every failure to stderr, and with progress set redraws a single
// progress line on stderr once a second.
type plainPresenter struct {
	w        io.Writer
	errW     io.Writer
	stats    *stats.Collector
	verbose  bool
	progress bool
	width    int

	drawn bool
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clearProgress()
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			if p.progress {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.EntryCopied, event.DirCreated, event.SpecialCreated,
		event.HardlinkCreated, event.LinkFallback:
		if p.verbose {
			fmt.Fprintf(p.w, "%s -> %s\n", ev.Path, ev.Target)
		}
	case event.SymlinkCreated:
		if p.verbose {
			fmt.Fprintf(p.w, "%s -> %s : %s\n", ev.Path, ev.Target, ev.LinkTarget)
		}
	case event.EntryRemoved:
		if p.verbose {
			fmt.Fprintf(p.w, "Removing %s\n", ev.Path)
		}
	case event.EntryFailed:
		p.clearProgress()
		fmt.Fprintf(p.errW, "%s: %s\n", ev.Path, errText(ev.Error))
	case event.RunAborted:
		p.clearProgress()
		fmt.Fprintf(p.errW, "aborted: %s\n", errText(ev.Error))
	// A failed verify is also reported as EntryFailed.
	case event.WalkComplete, event.VerifyOK, event.VerifyFailed:
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	line := fmt.Sprintf("%s files, %s", FormatCount(snap.FilesCopied), FormatBytes(snap.BytesCopied))
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesCopied) / float64(snap.BytesTotal)
		line = fmt.Sprintf("%s %3.0f%% %s/%s %s eta %s",
			ProgressBar(pct, progressBarWidth),
			pct*100,
			FormatBytes(snap.BytesCopied), FormatBytes(snap.BytesTotal),
			FormatRate(p.stats.RollingSpeed(5)),
			FormatETA(p.stats.ETA()),
		)
	}
	if r := []rune(line); p.width > 1 && len(r) >= p.width {
		line = string(r[:p.width-1])
	}
	fmt.Fprintf(p.errW, "\r\033[K%s", line)
	p.drawn = true
}

func (p *plainPresenter) clearProgress() {
	if p.drawn {
		fmt.Fprint(p.errW, "\r\033[K")
		p.drawn = false
	}
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}

func errText(err error) string {
	if err == nil {
		return "error"
	}
	return err.Error()
}

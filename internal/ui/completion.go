package ui

import (
	"fmt"

	"github.com/bamsammich/fsu/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot.
// Format: done ✓  files 1,204  dirs 87  links 12  size 2.1 GB  avg 64 MB/s  time 3s  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesCopied) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.EntriesFailed > 0 {
		icon = "✗"
	}

	base := fmt.Sprintf("done %s  files %s  dirs %s",
		icon,
		FormatCount(snap.FilesCopied),
		FormatCount(snap.DirsCreated),
	)
	if links := snap.HardlinksCreated + snap.LinkFallbacks; links > 0 {
		base += fmt.Sprintf("  links %s", FormatCount(links))
	}
	if snap.LinkFallbacks > 0 {
		base += fmt.Sprintf(" (%s copied)", FormatCount(snap.LinkFallbacks))
	}
	base += fmt.Sprintf("  size %s  avg %s  time %s",
		FormatBytes(snap.BytesCopied),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
	)
	if snap.EntriesRemoved > 0 {
		base += fmt.Sprintf("  removed %s", FormatCount(snap.EntriesRemoved))
	}
	if snap.FilesVerified > 0 || snap.VerifyFailed > 0 {
		base += fmt.Sprintf("  verified %s", FormatCount(snap.FilesVerified))
	}

	return base + fmt.Sprintf("  errors %d", snap.EntriesFailed)
}

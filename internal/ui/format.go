package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bamsammich/fsu/internal/stats"
)

var rateUnits = [...]string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s", "PB/s"}

// FormatRate formats a bytes-per-second rate with three significant digits.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	val, i := bytesPerSec, 0
	for val >= 1024 && i < len(rateUnits)-1 {
		val /= 1024
		i++
	}
	switch {
	case val < 10:
		return fmt.Sprintf("%.2f %s", val, rateUnits[i])
	case val < 100:
		return fmt.Sprintf("%.1f %s", val, rateUnits[i])
	default:
		return fmt.Sprintf("%.0f %s", val, rateUnits[i])
	}
}

// FormatETA formats a remaining-time estimate; unknown is "--".
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return clock(d)
}

// FormatDuration formats elapsed time concisely.
func FormatDuration(d time.Duration) string {
	return clock(max(d, 0))
}

func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	s := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ProgressBar renders pct (clamped to 0..1) as width ▪/□ cells.
func ProgressBar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(min(max(pct, 0), 1) * float64(width))
	return strings.Repeat("▪", filled) + strings.Repeat("□", width-filled)
}

// FormatBytes wraps stats.FormatBytes for UI use.
func FormatBytes(b int64) string {
	return stats.FormatBytes(b)
}

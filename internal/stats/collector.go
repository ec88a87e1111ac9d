package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks replication statistics using lock-free atomic counters.
type Collector struct {
	startTime time.Time

	entriesWalked    atomic.Int64
	filesCopied      atomic.Int64
	dirsCreated      atomic.Int64
	symlinksCreated  atomic.Int64
	specialsCreated  atomic.Int64
	hardlinksCreated atomic.Int64
	linkFallbacks    atomic.Int64
	entriesFailed    atomic.Int64
	entriesRemoved   atomic.Int64
	bytesCopied      atomic.Int64
	bytesTotal       atomic.Int64
	filesVerified    atomic.Int64
	verifyFailed     atomic.Int64

	// Ring buffer, written only by the presenter's Tick.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per second
	ringIdx    int
	ringCount  int
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	EntriesWalked    int64
	FilesCopied      int64
	DirsCreated      int64
	SymlinksCreated  int64
	SpecialsCreated  int64
	HardlinksCreated int64
	LinkFallbacks    int64
	EntriesFailed    int64
	EntriesRemoved   int64
	BytesCopied      int64
	BytesTotal       int64
	FilesVerified    int64
	VerifyFailed     int64
	Elapsed          time.Duration
}

func (c *Collector) AddEntriesWalked(n int64)    { c.entriesWalked.Add(n) }
func (c *Collector) AddFilesCopied(n int64)      { c.filesCopied.Add(n) }
func (c *Collector) AddDirsCreated(n int64)      { c.dirsCreated.Add(n) }
func (c *Collector) AddSymlinksCreated(n int64)  { c.symlinksCreated.Add(n) }
func (c *Collector) AddSpecialsCreated(n int64)  { c.specialsCreated.Add(n) }
func (c *Collector) AddHardlinksCreated(n int64) { c.hardlinksCreated.Add(n) }
func (c *Collector) AddLinkFallbacks(n int64)    { c.linkFallbacks.Add(n) }
func (c *Collector) AddEntriesFailed(n int64)    { c.entriesFailed.Add(n) }
func (c *Collector) AddEntriesRemoved(n int64)   { c.entriesRemoved.Add(n) }
func (c *Collector) AddBytesCopied(n int64)      { c.bytesCopied.Add(n) }
func (c *Collector) AddBytesTotal(n int64)       { c.bytesTotal.Add(n) }
func (c *Collector) AddFilesVerified(n int64)    { c.filesVerified.Add(n) }
func (c *Collector) AddVerifyFailed(n int64)     { c.verifyFailed.Add(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		EntriesWalked:    c.entriesWalked.Load(),
		FilesCopied:      c.filesCopied.Load(),
		DirsCreated:      c.dirsCreated.Load(),
		SymlinksCreated:  c.symlinksCreated.Load(),
		SpecialsCreated:  c.specialsCreated.Load(),
		HardlinksCreated: c.hardlinksCreated.Load(),
		LinkFallbacks:    c.linkFallbacks.Load(),
		EntriesFailed:    c.entriesFailed.Load(),
		EntriesRemoved:   c.entriesRemoved.Load(),
		BytesCopied:      c.bytesCopied.Load(),
		BytesTotal:       c.bytesTotal.Load(),
		FilesVerified:    c.filesVerified.Load(),
		VerifyFailed:     c.verifyFailed.Load(),
		Elapsed:          c.Elapsed(),
	}
}

// Tick records the bytes copied since the previous call into the ring
// buffer. Called once per second by the presenter.
func (c *Collector) Tick() {
	current := c.bytesCopied.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// ETA estimates remaining time based on rolling speed and remaining bytes.
func (c *Collector) ETA() time.Duration {
	speed := c.RollingSpeed(10)
	if speed <= 0 {
		return 0
	}
	remaining := c.bytesTotal.Load() - c.bytesCopied.Load()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining)/speed) * time.Second
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

// Add merges the counters of o into s. Elapsed takes the larger value.
func (s Snapshot) Add(o Snapshot) Snapshot {
	s.EntriesWalked += o.EntriesWalked
	s.FilesCopied += o.FilesCopied
	s.DirsCreated += o.DirsCreated
	s.SymlinksCreated += o.SymlinksCreated
	s.SpecialsCreated += o.SpecialsCreated
	s.HardlinksCreated += o.HardlinksCreated
	s.LinkFallbacks += o.LinkFallbacks
	s.EntriesFailed += o.EntriesFailed
	s.EntriesRemoved += o.EntriesRemoved
	s.BytesCopied += o.BytesCopied
	s.BytesTotal += o.BytesTotal
	s.FilesVerified += o.FilesVerified
	s.VerifyFailed += o.VerifyFailed
	s.Elapsed = max(s.Elapsed, o.Elapsed)
	return s
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"walked=%d files=%d dirs=%d symlinks=%d specials=%d hardlinks=%d fallbacks=%d failed=%d removed=%d bytes=%d",
		s.EntriesWalked, s.FilesCopied, s.DirsCreated, s.SymlinksCreated, s.SpecialsCreated,
		s.HardlinksCreated, s.LinkFallbacks, s.EntriesFailed, s.EntriesRemoved, s.BytesCopied,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

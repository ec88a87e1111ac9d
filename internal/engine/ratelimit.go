package engine

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewBWLimiter creates a rate.Limiter capping aggregate write throughput to
// bytesPerSec. The burst is one copy buffer, or the rate itself when that is
// smaller.
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := copyBufSize
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// rateLimitedWriter throttles writes through a shared limiter. Writes larger
// than the burst are split.
type rateLimitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (rw *rateLimitedWriter) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		chunk := min(len(p), rw.limiter.Burst())
		if err := rw.limiter.WaitN(rw.ctx, chunk); err != nil {
			return written, err
		}
		n, err := rw.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/bamsammich/fsu/internal/event"
)

// ErrChecksumMismatch is wrapped by verify failures whose digests differ.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// verify compares every regular file copied by this run against its source.
func (r *replicator) verify(ctx context.Context) {
	for _, f := range r.files {
		if ctx.Err() != nil {
			return
		}
		if err := r.verifyFile(ctx, f.e.Path, f.dst); err != nil {
			r.fail(ctx, "verify", f.e.Path, err)
		}
	}
}

func (c *copier) verifyFile(ctx context.Context, src, dst string) error {
	srcHash, err := HashFile(c.src, src)
	if err == nil {
		var dstHash string
		dstHash, err = HashFile(c.dst, dst)
		if err == nil && srcHash != dstHash {
			err = fmt.Errorf("%w: %s has %.16s, %s has %.16s",
				ErrChecksumMismatch, src, srcHash, dst, dstHash)
		}
	}
	if err != nil {
		c.stats.AddVerifyFailed(1)
		c.emit(ctx, event.Event{Type: event.VerifyFailed, Path: src, Target: dst, Error: err})
		return err
	}
	c.stats.AddFilesVerified(1)
	c.emit(ctx, event.Event{Type: event.VerifyOK, Path: src, Target: dst})
	return nil
}

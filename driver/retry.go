package driver

import (
	"context"
	"math/rand"
	"time"
)

// retryWithBackoff calls try until it succeeds or ctx is done, waiting an
// exponentially growing, jittered delay between attempts, capped at maxWait.
// Grounded on dedis-tlc's lib/backoff.Retry: same growth rule (double the
// previous wait, jittered by a uniform random fraction of it), generalized
// here only by taking an explicit cap instead of an optional Config struct,
// since every pull the driver issues already has one from Config.MaxPullBackoff.
func retryWithBackoff(ctx context.Context, maxWait time.Duration, try func() error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	wait := time.Duration(0)
	for {
		err := try()
		if err == nil {
			return nil
		}
		if wait == 0 {
			wait = 50 * time.Millisecond
		} else {
			wait *= 2
		}
		if maxWait > 0 && wait > maxWait {
			wait = maxWait
		}
		wait += time.Duration(rand.Int63n(int64(wait) + 1))
		if maxWait > 0 && wait > maxWait {
			wait = maxWait
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

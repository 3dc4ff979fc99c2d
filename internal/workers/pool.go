package workers

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ForEach runs fn for every item with at most limit in flight. Each worker
// waits a random delay below jitter before starting. Item errors are logged
// and counted; they never stop the other items.
func ForEach[T any](ctx context.Context, name string, items []T, limit int, jitter time.Duration, fn func(ctx context.Context, item T) error) int {
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	var failed atomic.Int64
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if !sleep(ctx, randomDelay(jitter)) {
				return nil
			}
			if err := fn(ctx, item); err != nil {
				failed.Add(1)
				log.WithField("job", name).Warnf("item failed: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func randomDelay(jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return 0
	}
	return rand.N(jitter)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForEach_BoundedAndIsolated(t *testing.T) {
	items := make([]int, 40)
	for i := range items {
		items[i] = i
	}

	var inFlight, peak atomic.Int64
	var mu sync.Mutex
	seen := map[int]bool{}

	failed := ForEach(context.Background(), "test", items, 4, time.Millisecond, func(_ context.Context, n int) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		seen[n] = true
		mu.Unlock()
		if n%10 == 0 {
			return errors.New("boom")
		}
		return nil
	})

	assert.Equal(t, 4, failed)
	assert.Len(t, seen, 40)
	assert.LessOrEqual(t, peak.Load(), int64(4))
}

func TestForEach_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	ForEach(ctx, "test", []int{1, 2, 3}, 2, time.Second, func(context.Context, int) error {
		calls.Add(1)
		return nil
	})
	assert.Zero(t, calls.Load())
}

func TestRandomDelay(t *testing.T) {
	assert.Zero(t, randomDelay(0))
	for i := 0; i < 100; i++ {
		d := randomDelay(50 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 50*time.Millisecond)
	}
}

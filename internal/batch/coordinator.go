// Package batch drives a set of items through a processor under bounded
// concurrency and classifies the batch outcome.
package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Func processes the item at index i. Returned errors are recorded, never
// propagated to siblings.
type Func func(ctx context.Context, i int) error

// Result is the settled state of one item, aligned to input order.
type Result struct {
	Index     int
	Scheduled bool
	Err       error
}

// Coordinator partitions items into consecutive chunks of at most
// Concurrency items. A chunk starts only after the previous one fully settled.
type Coordinator struct {
	concurrency int
	delay       time.Duration
}

// NewCoordinator creates a coordinator. concurrency < 1 is treated as 1.
func NewCoordinator(concurrency int, chunkDelay time.Duration) *Coordinator {
	if concurrency < 1 {
		concurrency = 1
	}
	if chunkDelay < 0 {
		chunkDelay = 0
	}
	return &Coordinator{concurrency: concurrency, delay: chunkDelay}
}

// Concurrency returns the chunk size.
func (c *Coordinator) Concurrency() int { return c.concurrency }

// Run processes n items. When ctx is cancelled no further chunk is
// scheduled; the chunk in flight keeps running on a context detached from
// the caller's cancellation so its results can still be committed.
// The returned error is ctx.Err() when scheduling stopped early.
func (c *Coordinator) Run(ctx context.Context, n int, fn Func) ([]Result, error) {
	results := make([]Result, n)
	for i := range results {
		results[i].Index = i
	}

	work := context.WithoutCancel(ctx)

	for start := 0; start < n; start += c.concurrency {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		end := min(start+c.concurrency, n)

		var g errgroup.Group
		for i := start; i < end; i++ {
			results[i].Scheduled = true
			g.Go(func() error {
				results[i].Err = call(work, i, fn)
				return nil
			})
		}
		_ = g.Wait()

		if end < n && c.delay > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(c.delay):
			}
		}
	}

	return results, nil
}

func call(ctx context.Context, i int, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing item %d: %v", i, r)
		}
	}()
	return fn(ctx, i)
}

package workers

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

const DefaultThreads = 10

// Progress is called after each task completes.
type Progress func(done, total int)

// LogProgress logs every n completions and the final one.
func LogProgress(label string, every int) Progress {
	if every <= 0 {
		every = 1
	}
	return func(done, total int) {
		if done%every == 0 || done == total {
			log.Printf("[info] %s: %s/%s done", label, humanize.Comma(int64(done)), humanize.Comma(int64(total)))
		}
	}
}

// OrderedMap runs fn over items with at most threads concurrent calls and
// returns the results in item order. fn must absorb its own failures: the
// pool never stops early.
func OrderedMap[T, R any](ctx context.Context, items []T, threads int, fn func(ctx context.Context, item T) R, progress Progress) []R {
	if threads <= 0 {
		threads = DefaultThreads
	}

	results := make([]R, len(items))
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(threads)
	for i, item := range items {
		g.Go(func() error {
			results[i] = fn(ctx, item)
			n := done.Add(1)
			if progress != nil {
				progress(int(n), len(items))
			}
			return nil
		})
	}
	g.Wait()

	return results
}

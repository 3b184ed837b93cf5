// Package batch runs per-item tasks in fixed-size groups: concurrent within a
// group, strictly sequential across groups.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Options configures Run.
type Options struct {
	Logger *slog.Logger
	// Label names item i in logs. Defaults to the item index.
	Label func(i int) string
	// OnItem is called after each item settles, err is nil on success.
	OnItem func(i int, err error)
}

// Summary describes a completed run.
type Summary struct {
	Groups     int
	GroupSizes []int
	Succeeded  int
	Failed     int
}

// Groups returns the [start, end) bounds of each consecutive group of at most size items.
func Groups(n, size int) [][2]int {
	if size < 1 {
		size = 1
	}
	groups := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		groups = append(groups, [2]int{start, min(start+size, n)})
	}
	return groups
}

// Run partitions items into groups of at most size and runs task for every
// member of a group concurrently. The next group starts only after every task
// in the current one has returned. A task error or panic is logged and counted;
// it never cancels sibling tasks or later groups. Run stops between groups
// when ctx is done.
func Run[T any](ctx context.Context, items []T, size int, task func(ctx context.Context, item T) error, opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	label := opts.Label
	if label == nil {
		label = func(i int) string { return fmt.Sprintf("#%d", i) }
	}

	groups := Groups(len(items), size)
	summary := Summary{Groups: len(groups), GroupSizes: make([]int, 0, len(groups))}
	var succeeded, failed atomic.Int64

	for g, bounds := range groups {
		if err := ctx.Err(); err != nil {
			summary.Succeeded, summary.Failed = int(succeeded.Load()), int(failed.Load())
			return summary, err
		}

		start, end := bounds[0], bounds[1]
		summary.GroupSizes = append(summary.GroupSizes, end-start)
		logger.Info("Processing batch",
			slog.Int("batch", g+1),
			slog.Int("batches", len(groups)),
			slog.Int("size", end-start),
		)

		// Tasks always return nil to the group so one failure never cancels siblings.
		var eg errgroup.Group
		for i := start; i < end; i++ {
			eg.Go(func() error {
				err := safeCall(ctx, items[i], task)
				if err != nil {
					failed.Add(1)
					logger.Error("Item failed",
						slog.String("item", label(i)),
						slog.String("error", err.Error()),
					)
				} else {
					succeeded.Add(1)
				}
				if opts.OnItem != nil {
					opts.OnItem(i, err)
				}
				return nil
			})
		}
		_ = eg.Wait()
	}

	summary.Succeeded, summary.Failed = int(succeeded.Load()), int(failed.Load())
	logger.Info("All batches processed",
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

func safeCall[T any](ctx context.Context, item T, task func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx, item)
}

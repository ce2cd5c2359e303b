package task

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs a set of tasks on parallel workers. Each task's ledger
// is exclusively owned, so tasks never need cross-task synchronization:
// the only sharing is at the object level and the copy-on-write gate
// keeps each task's writes private. Typical use is running a population
// of forked particles to completion.
type Scheduler struct {
	// Workers bounds how many tasks run at once. Zero or negative means
	// no bound.
	Workers int
}

// Run invokes each on every task, Workers at a time, and waits. The
// first error cancels the context handed to the remaining invocations.
func (s *Scheduler) Run(ctx context.Context, tasks []*Task, each func(context.Context, *Task) error) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.Workers > 0 {
		g.SetLimit(s.Workers)
	}
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return each(ctx, t)
		})
	}
	return g.Wait()
}

// Drain consumes t to completion and returns every produced value in
// order.
func Drain(t *Task) ([]any, error) {
	var out []any
	for {
		v, err := t.Consume()
		if err != nil {
			return out, err
		}
		if t.Done() {
			return out, nil
		}
		out = append(out, v)
	}
}

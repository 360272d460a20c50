package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// SettleAll runs every task concurrently, waits for all of them to finish and
// returns the errors of the ones that failed. A failure never cancels the others.
func SettleAll(ctx context.Context, tasks ...func(context.Context) error) []error {
	if len(tasks) == 0 {
		return nil
	}

	results := make([]error, len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = task(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for _, err := range results {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return failed
}

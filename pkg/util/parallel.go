package util

import (
	"context"
	"errors"
	"sync"
)

// Parallel runs fn over inputs with at most workerLimit goroutines. The first
// error cancels the remaining work and is returned.
func Parallel[T any](parent context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}

	if workerLimit <= 0 {
		workerLimit = 1
	}
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	tasks := make(chan T)
	errCh := make(chan error, 1)

	// workers
	wg := sync.WaitGroup{}
	for i := 0; i < workerLimit; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(ctx, item); err != nil {
					select {
					case errCh <- err:
						cancel() // stop others
					default:
					}
					return
				}
			}
		}()
	}

	// feed tasks
	go func() {
		defer close(tasks)
		for _, item := range inputs {
			select {
			case <-ctx.Done():
				return
			case tasks <- item:
			}
		}
	}()

	wg.Wait()
	cancel()

	select {
	case err := <-errCh:
		return err
	default:
		return parent.Err()
	}
}

// ForEach runs fn over every input with at most workerLimit goroutines and
// joins all errors instead of stopping at the first.
func ForEach[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	err := Parallel(ctx, inputs, workerLimit, func(ctx context.Context, item T) error {
		if err := fn(ctx, item); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

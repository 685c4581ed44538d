package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work to be processed by a Pool
type Task[T any] struct {
	ID  string
	Run func(ctx context.Context) (T, error)
}

// TaskResult represents the result of a task execution
type TaskResult[T any] struct {
	TaskID  string
	Result  T
	Error   error
	Retries int
}

// Pool runs independent tasks with bounded concurrency
type Pool struct {
	maxWorkers int
	maxRetries int
	retryDelay time.Duration
}

// NewPool creates a pool from config
func NewPool(config Config) *Pool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	return &Pool{
		maxWorkers: config.MaxWorkers,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}
}

// MaxWorkers returns the concurrency limit
func (p *Pool) MaxWorkers() int {
	return p.maxWorkers
}

// ProcessAll runs every task and returns one result per task in task order. A failing task
// never stops the others; its error is reported in its result.
func ProcessAll[T any](ctx context.Context, p *Pool, tasks []Task[T]) []TaskResult[T] {
	results := make([]TaskResult[T], len(tasks))

	var g errgroup.Group
	g.SetLimit(p.maxWorkers)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = execute(ctx, p, task)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Collect runs every task and returns the values in task order. The first failure cancels the
// remaining tasks and is returned.
func Collect[T any](ctx context.Context, p *Pool, tasks []Task[T]) ([]T, error) {
	values := make([]T, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)
	for i, task := range tasks {
		g.Go(func() error {
			res := execute(gctx, p, task)
			if res.Error != nil {
				return fmt.Errorf("task %s: %w", task.ID, res.Error)
			}
			values[i] = res.Result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}

// execute runs one task, retrying failures up to the pool's retry budget
func execute[T any](ctx context.Context, p *Pool, task Task[T]) TaskResult[T] {
	var result T
	var err error
	retries := 0

	for {
		if err = ctx.Err(); err != nil {
			err = fmt.Errorf("task cancelled: %w", err)
			break
		}
		result, err = task.Run(ctx)
		if err == nil || retries >= p.maxRetries {
			break
		}
		retries++

		select {
		case <-time.After(p.retryDelay):
		case <-ctx.Done():
		}
	}

	return TaskResult[T]{
		TaskID:  task.ID,
		Result:  result,
		Error:   err,
		Retries: retries,
	}
}

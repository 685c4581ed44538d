package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessAll_PreservesOrderAndCapturesErrors(t *testing.T) {
	pool := NewPool(Config{MaxWorkers: 3})

	var tasks []Task[int]
	for i := 0; i < 10; i++ {
		tasks = append(tasks, Task[int]{
			ID: fmt.Sprintf("task-%d", i),
			Run: func(ctx context.Context) (int, error) {
				if i == 4 {
					return 0, errors.New("file deleted upstream")
				}
				return i * i, nil
			},
		})
	}

	results := ProcessAll(context.Background(), pool, tasks)
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("task-%d", i), r.TaskID)
		if i == 4 {
			assert.EqualError(t, r.Error, "file deleted upstream")
			continue
		}
		assert.NoError(t, r.Error)
		assert.Equal(t, i*i, r.Result)
	}
}

func TestProcessAll_RespectsConcurrencyLimit(t *testing.T) {
	pool := NewPool(Config{MaxWorkers: 2})

	var running, peak int32
	var tasks []Task[struct{}]
	for i := 0; i < 8; i++ {
		tasks = append(tasks, Task[struct{}]{
			ID: fmt.Sprint(i),
			Run: func(ctx context.Context) (struct{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return struct{}{}, nil
			},
		})
	}

	ProcessAll(context.Background(), pool, tasks)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestProcessAll_Retries(t *testing.T) {
	pool := NewPool(Config{MaxWorkers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})

	var calls int32
	results := ProcessAll(context.Background(), pool, []Task[string]{{
		ID: "flaky",
		Run: func(ctx context.Context) (string, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return "", errors.New("503")
			}
			return "ok", nil
		},
	}})

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Error)
	assert.Equal(t, "ok", results[0].Result)
	assert.Equal(t, 2, results[0].Retries)
}

func TestCollect(t *testing.T) {
	pool := NewPool(Config{MaxWorkers: 4})

	values, err := Collect(context.Background(), pool, []Task[string]{
		{ID: "a", Run: func(ctx context.Context) (string, error) { return "A", nil }},
		{ID: "b", Run: func(ctx context.Context) (string, error) { return "B", nil }},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, values)

	boom := errors.New("boom")
	_, err = Collect(context.Background(), pool, []Task[string]{
		{ID: "a", Run: func(ctx context.Context) (string, error) { return "A", nil }},
		{ID: "b", Run: func(ctx context.Context) (string, error) { return "", boom }},
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "task b")
}

func TestNewPool_ClampsWorkers(t *testing.T) {
	assert.Equal(t, 1, NewPool(Config{}).MaxWorkers())
}

func TestConfigFromMap(t *testing.T) {
	config := ConfigFromMap(map[string]interface{}{
		"max_workers":    float64(8),
		"max_retries":    int64(1),
		"retry_delay_ms": 250,
	})
	assert.Equal(t, 8, config.MaxWorkers)
	assert.Equal(t, 1, config.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, config.RetryDelay)

	assert.Equal(t, DefaultConfig(), ConfigFromMap(nil))
}

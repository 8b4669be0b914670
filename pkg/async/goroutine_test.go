package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo(t *testing.T) {
	t.Run("runs the task", func(t *testing.T) {
		done := make(chan struct{})
		SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
			close(done)
			return errors.New("logged, not returned")
		})

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("SafeGo did not run the task")
		}
	})

	t.Run("survives a panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			SafeGo(context.Background(), time.Second, "panicking task", func(ctx context.Context) error {
				panic("boom")
			})
			time.Sleep(50 * time.Millisecond)
		})
	})

	t.Run("enforces the timeout", func(t *testing.T) {
		timedOut := make(chan struct{})
		SafeGo(context.Background(), 20*time.Millisecond, "slow task", func(ctx context.Context) error {
			<-ctx.Done()
			close(timedOut)
			return ctx.Err()
		})

		select {
		case <-timedOut:
		case <-time.After(time.Second):
			t.Fatal("task context was not cancelled")
		}
	})
}

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 2, "test pool", time.Second)

	var executed atomic.Int32
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			executed.Add(1)
			if i%5 == 0 {
				return errors.New("task failed")
			}
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int32(10), executed.Load())

	var errs int
	for len(pool.Errors()) > 0 {
		<-pool.Errors()
		errs++
	}
	assert.Equal(t, 2, errs)

	assert.Error(t, pool.Submit(func(ctx context.Context) error { return nil }))
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	pool := NewWorkerPool(context.Background(), 1, "test pool", 20*time.Millisecond)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	require.NoError(t, pool.Shutdown(time.Second))

	err := <-pool.Errors()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBatch(t *testing.T) {
	items := []string{"clock", "weather", "stocks", "sports", "news"}

	errs := Batch(context.Background(), items, 2, "test batch", time.Second, func(ctx context.Context, id string) error {
		if id == "stocks" || id == "news" {
			return errors.New(id + " failed")
		}
		return nil
	})
	assert.Len(t, errs, 2)
}

func TestBatch_Panic(t *testing.T) {
	errs := Batch(context.Background(), []int{1, 2, 3}, 3, "test batch", time.Second, func(ctx context.Context, n int) error {
		if n == 2 {
			panic("boom")
		}
		return nil
	})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "panic: boom")
}

func TestMap(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	results := Map(context.Background(), items, 3, "test map", time.Second, func(ctx context.Context, n int) int {
		time.Sleep(time.Duration(7-n) * time.Millisecond)
		return n * n
	})
	assert.Equal(t, []int{1, 4, 9, 16, 25, 36, 49}, results)
}

package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var logger = logrus.StandardLogger()

// SetLogger sets the logger used for background failures and panics
func SetLogger(l *logrus.Logger) {
	if l != nil {
		logger = l
	}
}

// SafeGo runs fn in a goroutine with a timeout, panic recovery and error
// logging. Use it instead of a bare `go func()` for fire-and-forget work.
//
//	SafeGo(ctx, 10*time.Minute, "update all", func(ctx context.Context) error {
//	    _, err := orchestrator.UpdateAll(ctx)
//	    return err
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithField("task", taskName).Errorf("PANIC: %v\nStack trace:\n%s", r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", taskName).Warnf("Background task failed: %v", err)
		}
	}()
}

// WorkerPool runs submitted tasks on a fixed number of workers, each task
// under its own timeout
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	errCh        chan error
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	closeOnce    sync.Once
}

// NewWorkerPool creates a pool and starts its workers
//
//	pool := NewWorkerPool(ctx, 4, "dependency install", 5*time.Minute)
//	defer pool.Shutdown(5 * time.Second)
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues a task. It fails once the pool is shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) (err error) {
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	// A concurrent Shutdown may close workCh under us
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker pool shut down")
		}
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	}
}

func (p *WorkerPool) closeWork() {
	p.closeOnce.Do(func() { close(p.workCh) })
}

// Wait closes the queue and blocks until every submitted task has run
func (p *WorkerPool) Wait() {
	p.closeWork()
	<-p.doneCh
}

// Shutdown closes the queue and waits up to timeout for running tasks
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.closeWork()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

// Errors returns a channel that receives task errors
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("task", p.taskName).Errorf("PANIC in worker %d: %v\nStack trace:\n%s", id, r, string(debug.Stack()))
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(fn)
		}
	}
}

func (p *WorkerPool) run(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		logger.WithField("task", p.taskName).Warnf("Error channel full, dropping error: %v", err)
	}
}

// Batch runs fn over items on a pool of workers and returns the errors
//
//	errs := Batch(ctx, roots, 4, "dependency install", 5*time.Minute, func(ctx context.Context, root string) error {
//	    _, err := deps.InstallDependencies(ctx, root)
//	    return err
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	pool := NewWorkerPool(ctx, workers, taskName, timeout)
	defer pool.Shutdown(5 * time.Second)

	for _, item := range items {
		item := item
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			return []error{err}
		}
	}

	pool.Wait()
	pool.cancel()

	var errs []error
	for {
		select {
		case err := <-pool.errCh:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Map is Batch for functions that produce a value. Results keep the order of
// items; a task that panics leaves the zero value in its slot.
func Map[T, R any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) R) []R {

	results := make([]R, len(items))
	indexes := make([]int, len(items))
	for i := range items {
		indexes[i] = i
	}

	Batch(ctx, indexes, workers, taskName, timeout, func(ctx context.Context, i int) error {
		results[i] = fn(ctx, items[i])
		return nil
	})
	return results
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"B2P/task"

	"go.uber.org/zap"
)

// ErrStopped is returned by Dispatch once shutdown has begun.
var ErrStopped = errors.New("queue: dispatcher is shutting down")

// Handler runs one job to completion.
type Handler interface {
	Process(ctx context.Context, job task.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job task.Job) error

func (f HandlerFunc) Process(ctx context.Context, job task.Job) error { return f(ctx, job) }

// Dispatcher schedules jobs for background execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, job task.Job) error
	// Shutdown stops accepting jobs and waits for running ones until ctx is done.
	Shutdown(ctx context.Context) error
}

// InProcess runs every job on its own goroutine in this process.
type InProcess struct {
	handler Handler

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewInProcess(h Handler) *InProcess {
	return &InProcess{handler: h}
}

// Dispatch starts the job and returns immediately. The job outlives ctx.
// 请求返回后 ctx 会被取消, 所以任务用 context.WithoutCancel 脱离请求
func (d *InProcess) Dispatch(ctx context.Context, job task.Job) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrStopped
	}
	d.wg.Add(1)
	d.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		if err := runSafely(bg, d.handler, job); err != nil {
			zap.L().Error("background job failed",
				zap.String("submission_id", job.ID),
				zap.String("task", job.Submission.Task),
				zap.Error(err))
		}
	}()
	return nil
}

func (d *InProcess) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain in-flight jobs: %w", ctx.Err())
	}
}

// runSafely 把 handler 里的 panic 转成 error, 防止整个进程崩掉
func runSafely(ctx context.Context, h Handler, job task.Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("panic in background job",
				zap.String("submission_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
		zap.L().Debug("job finished", zap.String("submission_id", job.ID), zap.Duration("took", time.Since(start)))
	}()
	return h.Process(ctx, job)
}

// Package worker provides the bounded pool node bodies are dispatched to.
// Orchestration stays on a single logical goroutine per executor; only the
// blocking node bodies run here.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is one blocking node body.
type Task func(ctx context.Context) (interface{}, error)

type job struct {
	ctx  context.Context
	task Task
	out  chan result
}

type result struct {
	value   interface{}
	elapsed time.Duration
	err     error
}

// Pool runs tasks on a fixed set of worker goroutines. It is shared by a run
// and all of its nested sub-executors.
type Pool struct {
	jobs   chan job
	wg     sync.WaitGroup
	logger *zap.Logger

	mu         sync.Mutex
	closed     bool
	submitting sync.WaitGroup
}

// NewPool creates and starts a pool. Non-positive workers defaults to
// runtime.NumCPU().
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		jobs:   make(chan job),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Debug("started worker pool", zap.Int("workers", workers))
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		start := time.Now()
		value, err := j.task(j.ctx)
		j.out <- result{value: value, elapsed: time.Since(start), err: err}
	}
	p.logger.Debug("worker stopped", zap.Int("worker_id", id))
}

// Submit runs the task on a worker and blocks until it returns, reporting
// the result and the elapsed wall time. Submission honors context
// cancellation while queued; once a worker picks the task up it runs to
// completion, and cancellation is observed by the caller afterwards.
func (p *Pool) Submit(ctx context.Context, task Task) (interface{}, time.Duration, error) {
	// The in-flight count is raised under the same lock that guards closed,
	// so Close cannot close the jobs channel while a submission is mid-send.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, 0, ErrPoolClosed
	}
	p.submitting.Add(1)
	p.mu.Unlock()
	defer p.submitting.Done()

	out := make(chan result, 1)
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case p.jobs <- job{ctx: ctx, task: task, out: out}:
	}

	res := <-out
	return res.value, res.elapsed, res.err
}

// Close stops accepting tasks and waits for in-flight ones to finish.
// Submissions already past the closed check complete normally; the jobs
// channel is closed only once no producer can still be sending on it.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.submitting.Wait()
	close(p.jobs)
	p.wg.Wait()
}

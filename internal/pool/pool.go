// Package pool runs worker.Run attempts under a bounded concurrency limit,
// translating the driver's "N parallel interestingness tests" requirement
// into goroutines governed by a weighted semaphore rather than a process
// pool: Go's scheduler multiplexes these goroutines onto OS threads itself,
// so there is no separate process-per-worker concept to manage here.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/reduceit/reduce/internal/pass"
)

// Task is one submitted attempt: a thunk the pool runs on its own goroutine
// once a slot is free, and the submission order it is attributed with.
type Task struct {
	Order int
	Run   func(ctx context.Context, pids chan<- pass.PIDReport) any
}

// Handle is returned for a submitted [Task]. Done is closed once Result has
// been populated.
type Handle struct {
	Order  int
	Result any
	Done   chan struct{}
	cancel context.CancelFunc
}

// Cancel requests early termination of this attempt. If the attempt has
// already started its subprocess, the pool's caller is responsible for
// using the PID reports collected via the pool's Pids channel to send
// SIGTERM; Cancel only cancels the attempt's context, which is what causes
// exec.CommandContext to kill its own child on the next scheduling point.
func (h *Handle) Cancel() {
	h.cancel()
}

// Pool bounds concurrent attempts to Capacity via a weighted semaphore, and
// attaches a per-attempt timeout to every submission.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	parent  context.Context
	wg      sync.WaitGroup
	Pids    chan pass.PIDReport
}

// New creates a Pool that runs at most capacity attempts concurrently, each
// bounded by timeout. parent is the pool-lifetime context; cancelling it
// terminates every in-flight and future attempt.
func New(parent context.Context, capacity int, timeout time.Duration) *Pool {
	return &Pool{
		sem:     semaphore.NewWeighted(int64(capacity)),
		timeout: timeout,
		parent:  parent,
		Pids:    make(chan pass.PIDReport, capacity*4), //nolint:mnd // generous buffer, never a correctness bound
	}
}

// Submit blocks until a slot is available (or ctx is done), then runs
// task.Run on its own goroutine. The returned Handle's Done channel closes
// once Result is populated.
func (p *Pool) Submit(ctx context.Context, task Task) (*Handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	attemptCtx, cancel := context.WithTimeout(p.parent, p.timeout)

	h := &Handle{Order: task.Order, Done: make(chan struct{}), cancel: cancel}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer cancel()
		defer close(h.Done)

		h.Result = task.Run(attemptCtx, p.Pids)
	}()

	return h, nil
}

// Wait blocks until every submitted task has completed. Used at pool
// shutdown (pass exhausted, or the whole run ending).
func (p *Pool) Wait() {
	p.wg.Wait()
}

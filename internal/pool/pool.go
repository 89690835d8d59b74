// Package pool implements the fixed-size worker pool used by flush,
// compression and sink-creation (core spec §4.3, §7 "thread pool error
// callback records a sticky error").
package pool

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/zarrstream/zarrstream/internal/debug"
)

func init() {
	// don't import go.uber.org/automaxprocs to disable the log output
	_, _ = maxprocs.Set()
}

// Clamp bounds n to [1, GOMAXPROCS], standing in for the original's clamp
// to std::thread::hardware_concurrency().
func Clamp(n int) int {
	max := runtime.GOMAXPROCS(0)
	if max < 1 {
		max = 1
	}
	if n < 1 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

// Task is one unit of work submitted to a Pool. It returns an error if the
// unit failed; the pool's error handler is invoked with the first non-nil
// error it sees and keeps running (matching the original thread pool,
// which logs via an error callback rather than aborting other workers).
type Task func() error

// Pool is a fixed-size set of worker goroutines draining a job queue, with
// sticky first-error reporting. It mirrors restic's
// internal/archiver.newFileSaver: a channel of jobs plus N worker
// goroutines registered on an errgroup.Group, one wg.Go per worker.
type Pool struct {
	jobs chan Task

	mu       sync.Mutex
	firstErr error

	g      *errgroup.Group
	cancel context.CancelFunc
}

// New starts a Pool with Clamp(n) worker goroutines. The pool keeps
// accepting jobs until Close is called; Close drains in-flight work before
// returning.
func New(n int) *Pool {
	n = Clamp(n)
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	p := &Pool{
		jobs:   make(chan Task),
		g:      g,
		cancel: cancel,
	}

	for i := 0; i < n; i++ {
		p.g.Go(func() error {
			p.worker(ctx)
			return nil
		})
	}

	return p
}

// worker always returns nil to the errgroup: a failed job records a sticky
// error on p but must not cancel the group's context, which would stop
// sibling workers from draining the rest of the queue (the original
// thread pool logs via an error callback rather than aborting others).
func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := job(); err != nil {
				p.recordError(err)
			}
		}
	}
}

func (p *Pool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.firstErr == nil {
		p.firstErr = err
		debug.Log("pool: sticky error recorded: %v", err)
	}
}

// Err returns the first error recorded by any worker, or nil.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

// Submit enqueues job, blocking until a worker is free or ctx is done.
func (p *Pool) Submit(ctx context.Context, job Task) bool {
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting jobs and waits for all workers to finish.
func (p *Pool) Close() {
	close(p.jobs)
	_ = p.g.Wait()
	p.cancel()
}

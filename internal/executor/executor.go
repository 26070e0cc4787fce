package executor

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Submit and Future.Wait once the executor has
// been shut down.
var ErrClosed = errors.New("executor: closed")

// Unit is a piece of work dispatched on the executor. It receives the
// context passed to Submit so long-running store/transport calls inside it
// can still be cancelled.
type Unit func(ctx context.Context) (any, error)

// Future is the handle Submit returns; Wait blocks until the unit has run.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

// Wait blocks until the unit completes or ctx is cancelled, whichever comes
// first. Cancelling ctx here does not remove the unit from the queue; it
// only stops this caller from waiting on it.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type job struct {
	ctx  context.Context
	unit Unit
	fut  *Future
}

// Executor is a single cooperatively-scheduled worker. Units submitted to
// it run strictly one at a time in submission order; it never runs two
// units concurrently, by construction.
type Executor struct {
	mu       sync.Mutex
	queue    []job
	wake     chan struct{}
	closed   chan struct{}
	closeOne sync.Once
}

// New starts the executor's worker goroutine and returns a handle to it.
func New() *Executor {
	e := &Executor{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go e.run()
	return e
}

// Submit enqueues unit, preserving FIFO order relative to every other
// Submit call on this executor, and returns a Future for its result.
func (e *Executor) Submit(ctx context.Context, unit Unit) *Future {
	fut := &Future{done: make(chan struct{})}

	select {
	case <-e.closed:
		fut.err = ErrClosed
		close(fut.done)
		return fut
	default:
	}

	e.mu.Lock()
	e.queue = append(e.queue, job{ctx: ctx, unit: unit, fut: fut})
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return fut
}

// Close stops accepting new work. Units already queued still run; Close
// does not wait for them (callers that need that should Wait on the
// Future of the last unit they submitted).
func (e *Executor) Close() {
	e.closeOne.Do(func() { close(e.closed) })
}

func (e *Executor) run() {
	for {
		j, ok := e.dequeue()
		if !ok {
			select {
			case <-e.wake:
				continue
			case <-e.closed:
				return
			}
		}

		result, err := j.unit(j.ctx)
		j.fut.result, j.fut.err = result, err
		close(j.fut.done)
	}
}

func (e *Executor) dequeue() (job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return job{}, false
	}
	j := e.queue[0]
	e.queue = e.queue[1:]
	return j, true
}

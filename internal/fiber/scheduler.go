// Package fiber provides a single-threaded cooperative execution model:
// one fiber per connection, yielding at
// every I/O suspension point, never interrupted by a signal directly.
// Go's goroutines stand in for userspace fiber stacks; the
// cooperative discipline that matters is preserved at the API boundary
// instead: a fiber only learns about shutdown by checking Scheduler.Done
// at its own yield points (reading a new request, starting a new round)
// rather than by being preempted mid-flight.
package fiber

import (
	"context"
	"sync"
)

// Func is one fiber's body. It must poll ctx.Done() at its own
// suspension points rather than assume preemption.
type Func func(ctx context.Context) error

// Scheduler tracks every live fiber and coordinates quiescence: once
// Quiesce is called, Done() is closed so running fibers can notice and
// wind down, but Scheduler does not forcibly cancel anything until
// Terminate is called.
type Scheduler struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	quiesce  chan struct{}
	quiesced bool
	cancel   context.CancelFunc
	ctx      context.Context
}

// NewScheduler builds a Scheduler bound to a fresh cancellable context.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{quiesce: make(chan struct{}), cancel: cancel, ctx: ctx}
}

// Spawn starts fn as a new fiber. It returns false without starting fn
// if the scheduler has already quiesced — no new I/O starts past that
// point.
func (s *Scheduler) Spawn(fn Func) bool {
	s.mu.Lock()
	if s.quiesced {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		_ = fn(s.ctx)
	}()
	return true
}

// Done returns a channel closed once Quiesce has been called, for
// fibers to select on at their own yield points.
func (s *Scheduler) Done() <-chan struct{} {
	return s.quiesce
}

// Quiescing reports whether Quiesce has already been called.
func (s *Scheduler) Quiescing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiesced
}

// Quiesce stops new fibers from being spawned and signals existing
// fibers (via Done) to wind down on their own. In-flight reads are
// expected to drain on their own schedule.
func (s *Scheduler) Quiesce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quiesced {
		return
	}
	s.quiesced = true
	close(s.quiesce)
}

// Terminate cancels every fiber's context immediately, for the case
// where cooperative quiescence didn't finish in time.
func (s *Scheduler) Terminate() {
	s.Quiesce()
	s.cancel()
}

// Wait blocks until every spawned fiber has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

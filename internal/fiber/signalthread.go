package fiber

import (
	"os"
	"os/signal"
	"syscall"
)

// SignalThread is the dedicated OS thread
// that owns signal delivery: fibers must never be interrupted by a
// signal directly, so this goroutine alone calls signal.Notify and
// translates SIGHUP/SIGTERM/SIGQUIT/SIGINT into a Scheduler.Quiesce
// call the fibers observe cooperatively through Scheduler.Done.
type SignalThread struct {
	sched *Scheduler
	sigCh chan os.Signal
	done  chan struct{}
}

// NewSignalThread builds a SignalThread bound to sched.
func NewSignalThread(sched *Scheduler) *SignalThread {
	return &SignalThread{
		sched: sched,
		sigCh: make(chan os.Signal, 1),
		done:  make(chan struct{}),
	}
}

// Run registers for the shutdown signal set and blocks, quiescing the
// scheduler on the first signal received. It returns when Stop is
// called or a signal arrives.
func (t *SignalThread) Run() {
	signal.Notify(t.sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
	defer signal.Stop(t.sigCh)

	select {
	case <-t.sigCh:
		t.sched.Quiesce()
	case <-t.done:
	}
}

// Stop unblocks Run without a signal having arrived, for orderly
// shutdown in tests and in callers that quiesce through another path.
func (t *SignalThread) Stop() {
	close(t.done)
}

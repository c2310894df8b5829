package eventloop

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// RunMode selects how long Run blocks.
type RunMode int

const (
	// RunDefault runs until there are no active, referenced handles (and no
	// pending close callbacks or async sends), or Stop is called, or the
	// context is done.
	RunDefault RunMode = iota
	// RunOnce performs a single iteration, blocking in poll if there is
	// nothing to do.
	RunOnce
	// RunNoWait performs a single iteration, without blocking.
	RunNoWait
)

// String returns a human-readable representation of the mode.
func (m RunMode) String() string {
	switch m {
	case RunDefault:
		return "Default"
	case RunOnce:
		return "Once"
	case RunNoWait:
		return "NoWait"
	default:
		return "Unknown"
	}
}

// Loop is a single goroutine event loop, offering one-shot timers and
// cross-goroutine async notifications, in the style of libuv.
//
// Each iteration runs, in order: due timers, a poll for wake-ups (blocking
// until the next timer is due, unless there is pending work), pending async
// callbacks, then pending close callbacks.
//
// Handles are owned by the loop goroutine. Only Async.Send, Stop, State, ID
// and IsLoopThread are safe to call concurrently with Run.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	logger *logiface.Logger[logiface.Event]

	state loopState

	// Wake-up mechanism
	waker       waker
	wakePending atomic.Uint32

	timers   timerHeap
	timerSeq uint64
	asyncs   []*Async
	closing  []*handle

	// Timing
	anchor time.Time     // reference time for monotonicity, never changes
	now    time.Duration // cached time, offset from anchor, loop goroutine only

	// Goroutine tracking
	loopGoroutineID atomic.Uint64

	stopFlag atomic.Bool

	handles        int // open handles, including those closing
	activeRefs     int // active, referenced handles
	maxHandles     int
	maxPollTimeout time.Duration

	iterations uint64

	// Loop ID
	id uint64
}

var loopIDCounter atomic.Uint64

// New creates a new event loop.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	w, err := newWaker()
	if err != nil {
		return nil, fmt.Errorf("eventloop: failed to create wake-up mechanism: %w", err)
	}

	return &Loop{
		id:             loopIDCounter.Add(1),
		logger:         cfg.logger,
		waker:          w,
		timers:         make(timerHeap, 0),
		anchor:         time.Now(),
		maxHandles:     cfg.maxHandles,
		maxPollTimeout: cfg.maxPollTimeout,
	}, nil
}

// Run runs the event loop, on the calling goroutine, in the given mode.
//
// In RunDefault mode, Run blocks until no active, referenced handles or
// pending async sends remain, Stop is called, or ctx is done (in which case
// ctx.Err() is returned).
// The loop may be run again, after Run returns.
func (l *Loop) Run(ctx context.Context, mode RunMode) error {
	if l.isLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.transition(StateAwake, StateRunning) {
		if l.state.load() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopRunning
	}
	defer l.state.transition(StateRunning, StateAwake)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)

	// Start context watcher goroutine to wake loop on cancellation
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = l.wake()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	// the stop flag only applies to the current (or next) Run
	defer l.stopFlag.Store(false)

	l.updateTime()

	for l.alive() && !l.stopFlag.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.iterations++

		l.updateTime()
		l.runTimers()

		if err := l.poll(l.pollTimeout(mode)); err != nil {
			return err
		}

		l.runAsyncs()
		l.runClosing()

		if mode == RunOnce {
			// progress for timers that became due while polling
			l.updateTime()
			l.runTimers()
		}

		if mode != RunDefault {
			break
		}
	}

	return ctx.Err()
}

// Stop causes Run to return, as soon as possible. The flag is cleared when
// Run returns, i.e. it does not persist across calls to Run. Safe to call
// from any goroutine.
func (l *Loop) Stop() {
	l.stopFlag.Store(true)
	_ = l.wake()
}

// Close releases the loop's resources. It fails with ErrLoopBusy, if any
// handle has not completed its close, and ErrLoopRunning, if the loop is
// running.
func (l *Loop) Close() error {
	if l.state.terminated() {
		return ErrLoopTerminated
	}
	if l.state.running() {
		return ErrLoopRunning
	}
	if l.handles > 0 {
		return ErrLoopBusy
	}
	if !l.state.transition(StateAwake, StateTerminated) {
		return ErrLoopRunning
	}
	return l.waker.close()
}

// alive reports whether Run (default mode) has anything to wait on, or to
// dispatch.
func (l *Loop) alive() bool {
	return l.activeRefs > 0 || len(l.closing) > 0 || l.asyncPending()
}

// asyncPending reports whether any open async, referenced or not, has a send
// waiting to be dispatched.
func (l *Loop) asyncPending() bool {
	for _, a := range l.asyncs {
		if !a.Closing() && a.Pending() {
			return true
		}
	}
	return false
}

// Alive reports whether the loop has active, referenced handles, pending
// close callbacks, or an async with a pending send. Unreferenced handles do
// not keep the loop waiting, but a send made before Run would return is
// always dispatched. Must be called from the loop goroutine, or while the
// loop is not running.
func (l *Loop) Alive() bool {
	return l.alive()
}

// pollTimeout determines how long to block in poll. A negative value is not
// used; the maximum is bounded by WithMaxPollTimeout.
func (l *Loop) pollTimeout(mode RunMode) time.Duration {
	if mode == RunNoWait || l.stopFlag.Load() || len(l.closing) > 0 || l.activeRefs == 0 {
		return 0
	}

	timeout := l.maxPollTimeout

	// Cap by next timer
	if len(l.timers) > 0 {
		delay := l.timers[0].when - l.now
		if delay < 0 {
			delay = 0
		}
		if delay < timeout {
			timeout = delay
		}
	}

	return timeout
}

// poll blocks until woken, or the timeout elapses, then drains the wake-up.
func (l *Loop) poll(timeout time.Duration) error {
	if !l.state.transition(StateRunning, StateSleeping) {
		return nil
	}

	err := l.waker.wait(timeout)

	l.state.transition(StateSleeping, StateRunning)

	if err != nil {
		l.logPollError(err)
		return fmt.Errorf("eventloop: poll failed: %w", err)
	}

	// reset BEFORE dispatching, so sends during dispatch wake the next poll
	l.waker.drain()
	l.wakePending.Store(0)

	return nil
}

// runClosing invokes the callbacks of every handle closed before this pass.
func (l *Loop) runClosing() {
	if len(l.closing) == 0 {
		return
	}
	closing := l.closing
	l.closing = nil
	for i, h := range closing {
		closing[i] = nil
		h.finishClose()
	}
	l.compactAsyncs()
}

// wake interrupts a blocking poll. Writes are deduplicated, until the loop
// drains the wake-up.
func (l *Loop) wake() error {
	if l.state.load() == StateTerminated {
		return ErrLoopTerminated
	}
	if !l.wakePending.CompareAndSwap(0, 1) {
		return nil
	}
	if err := l.waker.signal(); err != nil {
		// Reset pending flag on failure so future wake-ups can retry
		l.wakePending.Store(0)
		return fmt.Errorf("eventloop: wake-up failed: %w", err)
	}
	return nil
}

// updateTime refreshes the loop's cached time.
func (l *Loop) updateTime() {
	l.now = time.Since(l.anchor)
}

// UpdateTime refreshes the loop's cached time, which is otherwise updated
// once per iteration. Must be called from the loop goroutine.
func (l *Loop) UpdateTime() {
	l.updateTime()
}

// Now returns the loop's cached time. Timers are scheduled relative to it.
func (l *Loop) Now() time.Time {
	return l.anchor.Add(l.now)
}

// ID returns the unique (per process) identifier of the loop.
func (l *Loop) ID() uint64 {
	return l.id
}

// State returns the current loop state.
func (l *Loop) State() LoopState {
	return l.state.load()
}

// Iterations returns the number of completed loop iterations.
func (l *Loop) Iterations() uint64 {
	return l.iterations
}

// IsLoopThread reports whether the caller is running on the loop goroutine.
func (l *Loop) IsLoopThread() bool {
	return l.isLoopThread()
}

// safeExecute executes a callback with panic recovery.
func (l *Loop) safeExecute(phase string, fn func()) {
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			l.logPanic(phase, r)
		}
	}()

	fn()
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

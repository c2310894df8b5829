package eventloop

import (
	"errors"
)

// Standard errors.
var (
	// ErrLoopRunning is returned when Run() or Close() is called on a loop
	// that is already running.
	ErrLoopRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a closed loop.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")

	// ErrLoopBusy is returned by Close() while handles are still open, or
	// still waiting on their close callback.
	ErrLoopBusy = errors.New("eventloop: loop has open handles")

	// ErrReentrantRun is returned when Run() is called from within the loop itself.
	ErrReentrantRun = errors.New("eventloop: cannot call Run() from within the loop")

	// ErrHandleLimit is returned when a handle cannot be allocated, because
	// the loop was configured WithMaxHandles, and the limit was reached.
	ErrHandleLimit = errors.New("eventloop: handle limit reached")

	// ErrHandleClosing is returned when a handle is used after Close.
	ErrHandleClosing = errors.New("eventloop: handle is closing")

	// ErrNilCallback is returned when a required callback is nil.
	ErrNilCallback = errors.New("eventloop: nil callback")
)

package eventloop

import (
	"fmt"
	"sync/atomic"
)

// Async is a cross-goroutine notification handle, bound to a Loop.
//
// Send may be called from any goroutine, concurrently. Any number of sends
// made before the loop dispatches the handle coalesce into a single callback,
// which is always invoked from the loop goroutine. An async is active (keeps
// the loop alive) until closed, unless Unref is used. An unreferenced async
// with a pending send still keeps Run going, until it is dispatched.
type Async struct {
	handle
	cb      func()
	pending atomic.Uint32
	closed  atomic.Bool
}

// NewAsync allocates an async handle, which will invoke cb on the loop
// goroutine, after one or more calls to Send.
//
// Must be called from the loop goroutine, or while the loop is not running.
func (l *Loop) NewAsync(cb func()) (*Async, error) {
	if cb == nil {
		return nil, fmt.Errorf("eventloop: new async: %w", ErrNilCallback)
	}
	a := &Async{cb: cb}
	if err := a.init(l); err != nil {
		return nil, fmt.Errorf("eventloop: new async: %w", err)
	}
	a.start()
	l.asyncs = append(l.asyncs, a)
	return a, nil
}

// Send requests that the callback be invoked on the loop goroutine.
//
// If the wake-up of a sleeping loop fails, the error is returned, but the
// request remains pending: it will be dispatched on the next loop iteration,
// whatever causes it (bounded by WithMaxPollTimeout).
func (a *Async) Send() error {
	if a.closed.Load() {
		return ErrHandleClosing
	}
	if a.pending.Swap(1) == 1 {
		// coalesced with a request that has not been dispatched yet
		return nil
	}
	return a.loop.wake()
}

// Pending reports whether a Send is waiting to be dispatched.
func (a *Async) Pending() bool {
	return a.pending.Load() == 1
}

// Close releases the async. Pending sends are discarded. cb (optional) is
// called on the next loop iteration. Must be called from the loop goroutine,
// or while the loop is not running. Calling Close twice panics.
func (a *Async) Close(cb func()) {
	a.closed.Store(true)
	a.pending.Store(0)
	a.close("async", cb)
}

// runAsyncs dispatches every async with a pending send.
func (l *Loop) runAsyncs() {
	// only those registered at the start of the pass
	n := len(l.asyncs)
	for i := 0; i < n; i++ {
		a := l.asyncs[i]
		if a.Closing() {
			continue
		}
		if a.pending.Swap(0) == 1 {
			l.safeExecute(phaseAsync, a.cb)
		}
	}
}

// compactAsyncs drops closed asyncs from the dispatch list.
func (l *Loop) compactAsyncs() {
	out := l.asyncs[:0]
	for _, a := range l.asyncs {
		if a.flags&flagClosed == 0 {
			out = append(out, a)
		}
	}
	for i := len(out); i < len(l.asyncs); i++ {
		l.asyncs[i] = nil
	}
	l.asyncs = out
}

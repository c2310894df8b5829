//go:build !unix

package eventloop

import (
	"time"
)

type waker interface {
	wait(timeout time.Duration) error
	signal() error
	drain()
	close() error
}

// chanWaker is the fallback for platforms without poll(2). A buffered
// channel of capacity one provides the same coalescing as an eventfd.
type chanWaker struct {
	ch chan struct{}
}

func newWaker() (waker, error) {
	return &chanWaker{ch: make(chan struct{}, 1)}, nil
}

func (w *chanWaker) wait(timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.ch:
		// keep readable, drain consumes it
		w.signalLocked()
	case <-t.C:
	}
	return nil
}

func (w *chanWaker) signalLocked() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *chanWaker) signal() error {
	w.signalLocked()
	return nil
}

func (w *chanWaker) drain() {
	select {
	case <-w.ch:
	default:
	}
}

func (w *chanWaker) close() error { return nil }

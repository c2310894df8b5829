package eventloop

import (
	"fmt"
)

type handleFlags uint8

const (
	flagActive handleFlags = 1 << iota
	flagUnref
	flagClosing
	flagClosed
)

// handle is the state shared by all loop handles. It is owned by the loop
// goroutine, with the exception of the fields documented on each handle type.
//
// A handle is "active" while it may still produce callbacks (a started timer,
// an open async). The loop stays alive while at least one active handle is
// referenced, or a close callback is pending.
type handle struct {
	loop    *Loop
	closeCb func()
	flags   handleFlags
}

func (h *handle) init(l *Loop) error {
	if l.state.terminated() {
		return ErrLoopTerminated
	}
	if l.maxHandles > 0 && l.handles >= l.maxHandles {
		return ErrHandleLimit
	}
	l.handles++
	h.loop = l
	return nil
}

func (h *handle) start() {
	if h.flags&flagActive != 0 {
		return
	}
	h.flags |= flagActive
	if h.flags&flagUnref == 0 {
		h.loop.activeRefs++
	}
}

func (h *handle) stop() {
	if h.flags&flagActive == 0 {
		return
	}
	h.flags &^= flagActive
	if h.flags&flagUnref == 0 {
		h.loop.activeRefs--
	}
}

// Ref marks the handle as keeping the loop alive, while active. Handles are
// referenced by default. Idempotent.
func (h *handle) Ref() {
	if h.flags&flagUnref == 0 {
		return
	}
	h.flags &^= flagUnref
	if h.flags&flagActive != 0 {
		h.loop.activeRefs++
	}
}

// Unref stops the handle from keeping the loop alive. Idempotent.
func (h *handle) Unref() {
	if h.flags&flagUnref != 0 {
		return
	}
	h.flags |= flagUnref
	if h.flags&flagActive != 0 {
		h.loop.activeRefs--
	}
}

// HasRef reports whether the handle is referenced, see Ref.
func (h *handle) HasRef() bool { return h.flags&flagUnref == 0 }

// Active reports whether the handle may still produce callbacks.
func (h *handle) Active() bool { return h.flags&flagActive != 0 }

// Closing reports whether Close has been called on the handle.
func (h *handle) Closing() bool { return h.flags&(flagClosing|flagClosed) != 0 }

// close requests the two-phase teardown: the handle is stopped immediately,
// and cb (if any) is called from the loop on its next iteration, after which
// the loop no longer references the handle.
func (h *handle) close(kind string, cb func()) {
	if h.flags&(flagClosing|flagClosed) != 0 {
		panic(fmt.Errorf("eventloop: %s: close called twice: %w", kind, ErrHandleClosing))
	}
	h.stop()
	h.flags |= flagClosing
	h.closeCb = cb
	h.loop.closing = append(h.loop.closing, h)
}

func (h *handle) finishClose() {
	h.flags = (h.flags &^ flagClosing) | flagClosed
	h.loop.handles--
	cb := h.closeCb
	h.closeCb = nil
	if cb != nil {
		h.loop.safeExecute(phaseClose, cb)
	}
}

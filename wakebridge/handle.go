package wakebridge

import (
	"fmt"
	"time"

	"github.com/joeycumines/go-wakebridge/anim"
)

// State is the lifecycle state of a Handle.
//
//	Created → Armed → {Fired | Canceled} → Armed → ...
//	{Created | Fired | Canceled | Armed} → Destroying → Destroyed
type State uint8

const (
	StateCreated State = iota
	StateArmed
	StateFired
	StateCanceled
	// StateDestroying means Destroy was called, but the native primitive has
	// not finished closing (or a completion callback was in flight).
	StateDestroying
	StateDestroyed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateArmed:
		return "Armed"
	case StateFired:
		return "Fired"
	case StateCanceled:
		return "Canceled"
	case StateDestroying:
		return "Destroying"
	case StateDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// primitive is the native side of a Handle, parameterized by its arm
// argument. fire must be called at most once per start, and never after stop.
type primitive[A any] interface {
	start(arg A, fire func()) error
	stop()
	close(done func())
}

// Handle wraps a native timer, animation, or notification, associating it
// with the executor's waiter token while armed.
//
// All methods must be called from the loop goroutine.
type Handle[A any] struct {
	bridge *Bridge
	prim   primitive[A]
	kind   Kind
	state  State
	token  Token
	// cycle invalidates completions from previous arms
	cycle          uint64
	firing         bool
	destroyPending bool
}

type (
	// Delay is a Handle over a one-shot timer, armed with a timeout.
	Delay = Handle[time.Duration]

	// AnimationHandle is a Handle over an animation, armed with its spec.
	AnimationHandle = Handle[anim.Spec]
)

func newHandle[A any](b *Bridge, kind Kind, prim primitive[A]) *Handle[A] {
	h := &Handle[A]{
		bridge: b,
		prim:   prim,
		kind:   kind,
	}
	b.track(h)
	return h
}

// Kind returns the primitive kind, reported to Executor.Wake.
func (h *Handle[A]) Kind() Kind {
	return h.kind
}

// State returns the current lifecycle state.
func (h *Handle[A]) State() State {
	return h.state
}

// Token returns the waiter token, if the handle is armed.
func (h *Handle[A]) Token() (Token, bool) {
	if h.state != StateArmed {
		return 0, false
	}
	return h.token, true
}

// Arm stores token on the handle, and starts the native primitive, such
// that the executor is woken with token exactly once, when it fires, unless
// canceled first.
//
// Arming a destroyed handle, or one that is still armed, panics. An error is
// returned only if the native primitive fails to start, in which case the
// handle is left unarmed.
func (h *Handle[A]) Arm(arg A, token Token) error {
	switch h.state {
	case StateDestroying, StateDestroyed:
		panic(fmt.Errorf("wakebridge: arm %s: %w", h.kind, ErrInvalidHandle))
	case StateArmed:
		panic(fmt.Errorf("wakebridge: arm %s: %w", h.kind, ErrHandleArmed))
	}

	h.cycle++
	cycle := h.cycle
	h.token = token
	h.state = StateArmed

	if err := h.prim.start(arg, func() { h.complete(cycle) }); err != nil {
		h.cycle++
		h.token = 0
		h.state = StateCanceled
		return fmt.Errorf("wakebridge: arm %s: %w", h.kind, err)
	}
	return nil
}

// Cancel stops the native primitive, guaranteeing that the executor will
// not be woken for the current arm. Returns false, with no effect, if the
// handle is not armed.
func (h *Handle[A]) Cancel() bool {
	if h.state != StateArmed {
		return false
	}
	h.prim.stop()
	h.cycle++
	h.token = 0
	h.state = StateCanceled
	return true
}

// Destroy releases the native primitive, canceling it first if armed. The
// release is two-phase: the handle reaches StateDestroyed once the native
// close completes, on a later loop iteration. If called from within the
// handle's own completion (e.g. from Executor.Wake), the release is deferred
// until the completion returns. Calling Destroy twice panics.
func (h *Handle[A]) Destroy() {
	switch h.state {
	case StateDestroying, StateDestroyed:
		panic(fmt.Errorf("wakebridge: destroy %s: %w", h.kind, ErrInvalidHandle))
	}
	h.Cancel()
	h.state = StateDestroying
	h.bridge.untrack(h)
	if h.firing {
		h.destroyPending = true
		return
	}
	h.release()
}

func (h *Handle[A]) release() {
	h.destroyPending = false
	h.prim.close(func() {
		h.state = StateDestroyed
	})
}

// destroyOutstanding is called by Bridge.Close.
func (h *Handle[A]) destroyOutstanding() {
	if h.state != StateDestroying && h.state != StateDestroyed {
		h.Destroy()
	}
}

// complete is the completion callback, invoked by the native primitive.
func (h *Handle[A]) complete(cycle uint64) {
	if cycle != h.cycle || h.state != StateArmed {
		// stale: canceled or re-armed since this fire was scheduled
		h.bridge.staleFires.Add(1)
		return
	}

	token := h.token
	h.token = 0
	h.state = StateFired

	h.firing = true
	// runs even if Executor.Wake panics
	defer func() {
		h.firing = false
		if h.destroyPending {
			h.release()
		}
		if err := h.bridge.RequestDrive(); err != nil {
			h.bridge.reportDriveFailure(h.kind, err)
		}
	}()

	h.bridge.wake(h.kind, token)
}

type timerPrimitive struct {
	timer Timer
}

func (p *timerPrimitive) start(timeout time.Duration, fire func()) error {
	return p.timer.Start(timeout, fire)
}

func (p *timerPrimitive) stop() {
	_ = p.timer.Stop()
}

func (p *timerPrimitive) close(done func()) {
	p.timer.Close(done)
}

type animationPrimitive struct {
	anim Animation
}

func (p *animationPrimitive) start(spec anim.Spec, fire func()) error {
	return p.anim.Start(spec, fire)
}

func (p *animationPrimitive) stop() {
	p.anim.Delete()
}

// close completes synchronously, as animations hold no loop handle of their
// own.
func (p *animationPrimitive) close(done func()) {
	p.anim.Close()
	done()
}

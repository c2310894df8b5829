// Package loopfake implements a deterministic, single goroutine fake of the
// native loop consumed by wakebridge, with a virtual clock, manually
// completed animations, injectable failures, and a trace of native events.
package loopfake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/joeycumines/go-wakebridge/anim"
	"github.com/joeycumines/go-wakebridge/eventloop"
	"github.com/joeycumines/go-wakebridge/wakebridge"
)

// ErrClosed is returned when using a closed fake handle.
var ErrClosed = errors.New("loopfake: handle closed")

// Loop is a fake wakebridge.Loop. Time only moves via Advance, or Run in
// default mode, which jumps straight to the next timer.
//
// Only Async.Send is safe to call from other goroutines.
type Loop struct {
	// AllocErr, if set, fails every handle allocation.
	AllocErr error

	// SendErr, if set, is consulted by every Async.Send. A non-nil result
	// fails the send, and drops it.
	SendErr func(a *Async) error

	mu      sync.Mutex
	trace   []string
	timers  []*Timer
	asyncs  []*Async
	closing []func()
	now     time.Duration
	seq     uint64
	ids     int
}

var (
	_ wakebridge.Loop      = (*Loop)(nil)
	_ wakebridge.Timer     = (*Timer)(nil)
	_ wakebridge.Async     = (*Async)(nil)
	_ wakebridge.Animator  = (*Animator)(nil)
	_ wakebridge.Animation = (*Animation)(nil)
)

// New returns a fake loop at virtual time zero.
func New() *Loop {
	return &Loop{}
}

// Now returns the virtual time.
func (l *Loop) Now() time.Duration {
	return l.now
}

// Trace returns the native events recorded so far, e.g. "timer#1 fire".
func (l *Loop) Trace() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.trace...)
}

func (l *Loop) record(format string, args ...any) {
	l.mu.Lock()
	l.trace = append(l.trace, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *Loop) nextID() int {
	l.ids++
	return l.ids
}

// NewTimer implements wakebridge.Loop.
func (l *Loop) NewTimer() (wakebridge.Timer, error) {
	if l.AllocErr != nil {
		return nil, l.AllocErr
	}
	t := &Timer{loop: l, id: l.nextID()}
	l.record("timer#%d new", t.id)
	return t, nil
}

// NewAsync implements wakebridge.Loop.
func (l *Loop) NewAsync(cb func()) (wakebridge.Async, error) {
	if l.AllocErr != nil {
		return nil, l.AllocErr
	}
	a := &Async{loop: l, id: l.nextID(), cb: cb, ref: true}
	l.asyncs = append(l.asyncs, a)
	l.record("async#%d new", a.id)
	return a, nil
}

// Run implements wakebridge.Loop. RunDefault repeatedly dispatches pending
// work, jumping the virtual clock to the next timer, until no timer is
// active, and no referenced async has a pending send, or ctx is done. Unlike
// a real loop, it does not block on an idle referenced async.
func (l *Loop) Run(ctx context.Context, mode eventloop.RunMode) error {
	if mode != eventloop.RunDefault {
		l.Step()
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.Drain()
		next, ok := l.nextTimer()
		if !ok {
			if l.refAsyncPending() {
				continue
			}
			return nil
		}
		l.now = next.when
	}
}

// Advance moves the virtual clock forward by d, firing due timers in expiry
// order, and dispatching pending work after each.
func (l *Loop) Advance(d time.Duration) {
	target := l.now + d
	for {
		next, ok := l.nextTimer()
		if !ok || next.when > target {
			break
		}
		l.now = next.when
		l.Step()
	}
	l.now = target
	l.Drain()
}

// Step performs one iteration: due timers, pending asyncs, then close
// callbacks. It reports whether anything ran.
func (l *Loop) Step() bool {
	ran := l.runTimers()
	if l.runAsyncs() {
		ran = true
	}
	if l.runClosing() {
		ran = true
	}
	return ran
}

// Drain steps until an iteration does nothing.
func (l *Loop) Drain() {
	for l.Step() {
	}
}

// Asyncs returns the open async handles, in allocation order.
func (l *Loop) Asyncs() []*Async {
	return append([]*Async(nil), l.asyncs...)
}

// Pending reports whether any timer is active, or async send pending.
func (l *Loop) Pending() bool {
	if _, ok := l.nextTimer(); ok {
		return true
	}
	for _, a := range l.asyncs {
		if a.Pending() {
			return true
		}
	}
	return len(l.closing) != 0
}

func (l *Loop) nextTimer() (*Timer, bool) {
	var next *Timer
	for _, t := range l.timers {
		if next == nil || t.when < next.when || (t.when == next.when && t.seq < next.seq) {
			next = t
		}
	}
	return next, next != nil
}

func (l *Loop) refAsyncPending() bool {
	for _, a := range l.asyncs {
		if a.ref && a.Pending() {
			return true
		}
	}
	return false
}

func (l *Loop) runTimers() bool {
	limit := l.seq
	var due []*Timer
	for _, t := range l.timers {
		if t.when <= l.now {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].when != due[j].when {
			return due[i].when < due[j].when
		}
		return due[i].seq < due[j].seq
	})
	ran := false
	for _, t := range due {
		if !t.active || t.seq > limit {
			// stopped or restarted by an earlier callback
			continue
		}
		cb := t.cb
		t.unschedule()
		l.record("timer#%d fire", t.id)
		cb()
		l.record("timer#%d fire done", t.id)
		ran = true
	}
	return ran
}

func (l *Loop) runAsyncs() bool {
	ran := false
	for _, a := range append([]*Async(nil), l.asyncs...) {
		if a.closed {
			continue
		}
		l.mu.Lock()
		pending := a.pending
		a.pending = false
		l.mu.Unlock()
		if !pending {
			continue
		}
		l.record("async#%d fire", a.id)
		a.cb()
		l.record("async#%d fire done", a.id)
		ran = true
	}
	return ran
}

func (l *Loop) runClosing() bool {
	if len(l.closing) == 0 {
		return false
	}
	closing := l.closing
	l.closing = nil
	for _, fn := range closing {
		fn()
	}
	return true
}

// Timer is a fake one-shot timer.
type Timer struct {
	loop   *Loop
	cb     func()
	when   time.Duration
	seq    uint64
	id     int
	active bool
	closed bool
}

// ID returns the identifier used in the trace.
func (t *Timer) ID() int { return t.id }

// Active reports whether the timer is scheduled.
func (t *Timer) Active() bool { return t.active }

// Start implements wakebridge.Timer.
func (t *Timer) Start(timeout time.Duration, cb func()) error {
	if t.closed {
		return ErrClosed
	}
	if timeout < 0 {
		timeout = 0
	}
	if !t.active {
		t.loop.timers = append(t.loop.timers, t)
	}
	t.loop.seq++
	t.seq = t.loop.seq
	t.when = t.loop.now + timeout
	t.cb = cb
	t.active = true
	t.loop.record("timer#%d start %s", t.id, timeout)
	return nil
}

// Stop implements wakebridge.Timer.
func (t *Timer) Stop() error {
	if t.active {
		t.loop.record("timer#%d stop", t.id)
	}
	t.unschedule()
	return nil
}

func (t *Timer) unschedule() {
	if !t.active {
		return
	}
	t.active = false
	t.cb = nil
	for i, v := range t.loop.timers {
		if v == t {
			t.loop.timers = append(t.loop.timers[:i], t.loop.timers[i+1:]...)
			break
		}
	}
}

// Close implements wakebridge.Timer, completing on the next Step.
func (t *Timer) Close(cb func()) {
	if t.closed {
		panic(fmt.Errorf("loopfake: timer#%d: close called twice", t.id))
	}
	t.unschedule()
	t.closed = true
	t.loop.record("timer#%d close", t.id)
	t.loop.closing = append(t.loop.closing, func() {
		t.loop.record("timer#%d closed", t.id)
		if cb != nil {
			cb()
		}
	})
}

// Async is a fake async handle.
type Async struct {
	loop    *Loop
	cb      func()
	id      int
	sends   int
	pending bool
	ref     bool
	closed  bool
}

// ID returns the identifier used in the trace.
func (a *Async) ID() int { return a.id }

// Send implements wakebridge.Async. Safe to call from any goroutine.
func (a *Async) Send() error {
	l := a.loop
	l.mu.Lock()
	if a.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	a.sends++
	fail := l.SendErr
	l.mu.Unlock()
	if fail != nil {
		if err := fail(a); err != nil {
			l.record("async#%d send failed", a.id)
			return err
		}
	}
	l.mu.Lock()
	a.pending = true
	l.mu.Unlock()
	return nil
}

// Sends returns the number of calls to Send.
func (a *Async) Sends() int {
	a.loop.mu.Lock()
	defer a.loop.mu.Unlock()
	return a.sends
}

// Pending reports whether a send awaits dispatch.
func (a *Async) Pending() bool {
	a.loop.mu.Lock()
	defer a.loop.mu.Unlock()
	return a.pending && !a.closed
}

// HasRef reports whether the async is referenced.
func (a *Async) HasRef() bool { return a.ref }

// Ref implements wakebridge.Async.
func (a *Async) Ref() { a.ref = true }

// Unref implements wakebridge.Async.
func (a *Async) Unref() { a.ref = false }

// Close implements wakebridge.Async, completing on the next Step.
func (a *Async) Close(cb func()) {
	l := a.loop
	l.mu.Lock()
	if a.closed {
		l.mu.Unlock()
		panic(fmt.Errorf("loopfake: async#%d: close called twice", a.id))
	}
	a.closed = true
	a.pending = false
	l.mu.Unlock()
	l.record("async#%d close", a.id)
	l.closing = append(l.closing, func() {
		for i, v := range l.asyncs {
			if v == a {
				l.asyncs = append(l.asyncs[:i], l.asyncs[i+1:]...)
				break
			}
		}
		l.record("async#%d closed", a.id)
		if cb != nil {
			cb()
		}
	})
}

// Animator is a fake wakebridge.Animator, whose animations only complete
// when told to.
type Animator struct {
	loop       *Loop
	animations []*Animation
}

// NewAnimator returns an animator recording to loop's trace.
func NewAnimator(loop *Loop) *Animator {
	return &Animator{loop: loop}
}

// NewAnimation implements wakebridge.Animator.
func (x *Animator) NewAnimation() (wakebridge.Animation, error) {
	if x.loop.AllocErr != nil {
		return nil, x.loop.AllocErr
	}
	a := &Animation{loop: x.loop, id: x.loop.nextID()}
	x.animations = append(x.animations, a)
	x.loop.record("anim#%d new", a.id)
	return a, nil
}

// Animations returns every animation allocated, in order.
func (x *Animator) Animations() []*Animation {
	return append([]*Animation(nil), x.animations...)
}

// Animation is a fake animation.
type Animation struct {
	loop      *Loop
	completed func()
	spec      anim.Spec
	id        int
	running   bool
	closed    bool
}

// ID returns the identifier used in the trace.
func (a *Animation) ID() int { return a.id }

// Spec returns the spec of the last Start.
func (a *Animation) Spec() anim.Spec { return a.spec }

// Running reports whether the animation was started, and has neither
// completed nor been deleted.
func (a *Animation) Running() bool { return a.running }

// Start implements wakebridge.Animation.
func (a *Animation) Start(spec anim.Spec, completed func()) error {
	if a.closed {
		return ErrClosed
	}
	a.spec = spec
	a.completed = completed
	a.running = true
	a.loop.record("anim#%d start", a.id)
	return nil
}

// Delete implements wakebridge.Animation.
func (a *Animation) Delete() bool {
	if !a.running {
		return false
	}
	a.running = false
	a.completed = nil
	a.loop.record("anim#%d delete", a.id)
	return true
}

// Close implements wakebridge.Animation.
func (a *Animation) Close() {
	a.Delete()
	a.closed = true
	a.loop.record("anim#%d close", a.id)
}

// Complete finishes the animation, as the native engine would, calling the
// completion callback, then dispatches pending work. It reports false if
// the animation was not running.
func (a *Animation) Complete() bool {
	if !a.running {
		return false
	}
	completed := a.completed
	a.running = false
	a.completed = nil
	a.loop.record("anim#%d complete", a.id)
	if completed != nil {
		completed()
	}
	a.loop.record("anim#%d complete done", a.id)
	a.loop.Drain()
	return true
}

// Callback returns the completion callback of the current run, or nil.
// Invoking a callback captured before Delete simulates a native race between
// deletion and completion.
func (a *Animation) Callback() func() {
	return a.completed
}

package wakebridge

import (
	"sync/atomic"
)

// Notification is a cross-goroutine wake signal: Notify may be called from
// any goroutine, and wakes the executor with the token of the current arm.
//
// Notifications coalesce, and latch: any number of Notify calls made while
// armed fire it once, and a Notify made while not armed is delivered to the
// next arm, which then fires on the next loop iteration.
//
// A Notification only keeps the loop alive while armed.
type Notification struct {
	h    *Handle[struct{}]
	prim *asyncPrimitive
}

// Arm stores token, which is passed to Executor.Wake once notified. See
// Handle.Arm.
func (n *Notification) Arm(token Token) error {
	return n.h.Arm(struct{}{}, token)
}

// Cancel disarms the notification. A Notify that races with Cancel latches
// for the next arm. See Handle.Cancel.
func (n *Notification) Cancel() bool {
	return n.h.Cancel()
}

// Destroy releases the notification. See Handle.Destroy.
func (n *Notification) Destroy() {
	n.h.Destroy()
}

// State returns the current lifecycle state.
func (n *Notification) State() State {
	return n.h.State()
}

// Token returns the waiter token, if armed.
func (n *Notification) Token() (Token, bool) {
	return n.h.Token()
}

// Notify requests that the notification fire. Safe to call from any
// goroutine. Fails only once the notification is destroyed, or if waking
// the loop failed, in which case the notification is still pending.
func (n *Notification) Notify() error {
	n.prim.notified.Add(1)
	return n.prim.async.Send()
}

// Notified returns the number of Notify calls made.
func (n *Notification) Notified() uint64 {
	return n.prim.notified.Load()
}

type asyncPrimitive struct {
	async    Async
	fire     func()
	notified atomic.Uint64
	latched  bool
}

func (p *asyncPrimitive) start(_ struct{}, fire func()) error {
	p.fire = fire
	p.async.Ref()
	if p.latched {
		p.latched = false
		// a failed wake-up remains pending, and is dispatched late
		_ = p.async.Send()
	}
	return nil
}

func (p *asyncPrimitive) stop() {
	p.fire = nil
	p.async.Unref()
}

func (p *asyncPrimitive) close(done func()) {
	p.async.Close(done)
}

// dispatch is the native async callback.
func (p *asyncPrimitive) dispatch() {
	fire := p.fire
	if fire == nil {
		p.latched = true
		return
	}
	p.fire = nil
	p.async.Unref()
	fire()
}

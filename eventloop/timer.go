package eventloop

import (
	"container/heap"
	"fmt"
	"time"
)

// Timer is a one-shot timer handle, bound to a Loop.
//
// All methods must be called from the loop goroutine, or while the loop is
// not running. Callbacks are always invoked from the loop goroutine.
type Timer struct {
	handle
	cb    func()
	when  time.Duration // deadline, relative to the loop's anchor
	seq   uint64        // start order, ties are fired FIFO
	index int           // position in the loop's heap, -1 if not scheduled
}

// NewTimer allocates a timer handle. The timer does nothing until started.
//
// Fails with ErrHandleLimit or ErrLoopTerminated, see also WithMaxHandles.
func (l *Loop) NewTimer() (*Timer, error) {
	t := &Timer{index: -1}
	if err := t.init(l); err != nil {
		return nil, fmt.Errorf("eventloop: new timer: %w", err)
	}
	return t, nil
}

// Start (re)schedules the timer to call cb once, after timeout elapses,
// relative to the loop's cached time. Starting an active timer replaces the
// previous schedule and callback.
func (t *Timer) Start(timeout time.Duration, cb func()) error {
	if t.Closing() {
		return ErrHandleClosing
	}
	if cb == nil {
		return ErrNilCallback
	}
	if timeout < 0 {
		timeout = 0
	}
	l := t.loop
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
	l.timerSeq++
	t.cb = cb
	t.when = l.now + timeout
	t.seq = l.timerSeq
	heap.Push(&l.timers, t)
	t.start()
	return nil
}

// Stop unschedules the timer. It is a no-op if the timer already fired or
// was never started. After Stop returns, the callback will not be invoked
// for the previous Start.
func (t *Timer) Stop() error {
	if t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
	}
	t.cb = nil
	t.stop()
	return nil
}

// Close stops the timer and releases it. cb (optional) is called on the
// next loop iteration, at which point the timer is no longer referenced by
// the loop. Calling Close twice panics.
func (t *Timer) Close(cb func()) {
	_ = t.Stop()
	t.close("timer", cb)
}

// Due returns the remaining time until the timer fires, relative to the
// loop's cached time, and false if the timer is not scheduled.
func (t *Timer) Due() (time.Duration, bool) {
	if t.index < 0 {
		return 0, false
	}
	d := t.when - t.loop.now
	if d < 0 {
		d = 0
	}
	return d, true
}

// timerHeap is a min-heap of timers, ordered by deadline, then start order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// runTimers executes all expired timers. Timers (re)started by a callback
// are not run until the next pass, even if already due.
func (l *Loop) runTimers() {
	limit := l.timerSeq
	for len(l.timers) > 0 {
		t := l.timers[0]
		if t.when > l.now || t.seq > limit {
			break
		}
		heap.Pop(&l.timers)
		cb := t.cb
		t.cb = nil
		t.stop()
		l.safeExecute(phaseTimer, cb)
	}
}

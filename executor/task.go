package executor

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/joeycumines/go-wakebridge/anim"
	"github.com/joeycumines/go-wakebridge/wakebridge"
)

type taskState uint8

const (
	taskReady taskState = iota
	taskRunning
	taskWaiting
	taskDone
)

// Task is a cooperative task, see Executor.Spawn.
//
// The wait methods (Delay, Animate, Wait, Yield, Join) suspend the task,
// and must only be called from within the task's own function.
type Task struct {
	exec     *Executor
	fn       func(t *Task) error
	ctx      context.Context
	cancel   context.CancelFunc
	resumeCh chan struct{}
	yieldCh  chan struct{}
	done     chan struct{}
	err      error
	// handles are allocated on first use, then re-armed per wait
	delay   *wakebridge.Delay
	anim    *wakebridge.AnimationHandle
	joiners []wakebridge.Token
	id      uint64
	state   taskState
	started bool
}

// ID returns the task's identifier, unique per executor.
func (t *Task) ID() uint64 {
	return t.id
}

// Context returns the task's context, canceled once it returns.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Cancel cancels the task's context. Safe to call from any goroutine.
func (t *Task) Cancel() {
	t.cancel()
}

// Done returns a channel that is closed once the task has returned. Safe to
// call from any goroutine.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Finished reports whether the task has returned.
func (t *Task) Finished() bool {
	return t.state == taskDone
}

// Err returns the error the task returned, which wraps ErrTaskPanic if it
// panicked. Only valid once Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Delay suspends the task for at least d, or until ctx is done.
func (t *Task) Delay(ctx context.Context, d time.Duration) error {
	if t.delay == nil {
		b, err := t.bridge()
		if err != nil {
			return err
		}
		if t.delay, err = b.NewDelay(); err != nil {
			return err
		}
	}
	h := t.delay
	return t.await(ctx, h.State(), func(token wakebridge.Token) error {
		return h.Arm(d, token)
	}, func() {
		h.Cancel()
	})
}

// Animate runs spec, suspending the task until it completes, or until ctx
// is done, in which case the animation is deleted, without completing.
func (t *Task) Animate(ctx context.Context, spec anim.Spec) error {
	if t.anim == nil {
		b, err := t.bridge()
		if err != nil {
			return err
		}
		if t.anim, err = b.NewAnimation(); err != nil {
			return err
		}
	}
	h := t.anim
	return t.await(ctx, h.State(), func(token wakebridge.Token) error {
		return h.Arm(spec, token)
	}, func() {
		h.Cancel()
	})
}

// Wait arms n, then suspends the task until it is notified, or until ctx is
// done. The notification must not be armed by anything else.
func (t *Task) Wait(ctx context.Context, n *wakebridge.Notification) error {
	return t.await(ctx, n.State(), n.Arm, func() {
		n.Cancel()
	})
}

// Yield suspends the task until the next drive, allowing other ready tasks,
// and the loop, to run.
func (t *Task) Yield() error {
	if t.exec.closed {
		return ErrClosed
	}
	t.exec.schedule(t)
	t.suspend()
	return nil
}

// Join suspends the task until every one of tasks has returned, or until
// ctx is done. The tasks' own errors are available via Err.
func (t *Task) Join(ctx context.Context, tasks ...*Task) error {
	for _, other := range tasks {
		if other == t {
			return ErrJoinSelf
		}
		if other.Finished() {
			continue
		}
		var token wakebridge.Token
		err := t.await(ctx, wakebridge.StateCreated, func(tok wakebridge.Token) error {
			token = tok
			other.joiners = append(other.joiners, tok)
			return nil
		}, func() {
			other.joiners = slices.DeleteFunc(other.joiners, func(v wakebridge.Token) bool {
				return v == token
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Task) bridge() (*wakebridge.Bridge, error) {
	if t.exec.closed {
		return nil, ErrClosed
	}
	if t.exec.bridge == nil {
		return nil, ErrNotRegistered
	}
	return t.exec.bridge, nil
}

// await registers a wait, arms it, then suspends until it is woken,
// canceled via ctx, or the executor is closed. The disarm func is called
// in the latter two cases.
func (t *Task) await(ctx context.Context, state wakebridge.State, arm func(wakebridge.Token) error, disarm func()) error {
	e := t.exec
	if e.closed {
		return ErrClosed
	}
	switch state {
	case wakebridge.StateDestroying, wakebridge.StateDestroyed:
		// released by wakebridge.Bridge.Close
		return wakebridge.ErrBridgeClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w := e.newWait(t)
	if err := arm(w.token); err != nil {
		delete(e.waits, w.token)
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		if e.bridge == nil {
			return
		}
		if err := e.bridge.Remote().Wake(wakebridge.KindRemote, w.token); err != nil {
			e.logger.Warning().
				Err(err).
				Uint64("task", t.id).
				Log("executor: failed to deliver cancellation")
		}
	})

	t.state = taskWaiting
	t.suspend()
	stop()

	switch {
	case w.closed:
		disarm()
		return ErrClosed
	case w.canceled:
		disarm()
		return ctx.Err()
	}
	return nil
}

// suspend hands control back to the executor, returning once resumed.
func (t *Task) suspend() {
	t.yieldCh <- struct{}{}
	<-t.resumeCh
}

func (t *Task) run() {
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			t.exec.logger.Err().
				Uint64("task", t.id).
				Any("panic", r).
				Log("executor: task panicked")
		}
		t.state = taskDone
		t.yieldCh <- struct{}{}
	}()
	t.err = t.fn(t)
}

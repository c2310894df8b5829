package anim

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-wakebridge/eventloop"
	"github.com/joeycumines/logiface"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

var (
	// ErrClosed is returned when starting an animation that was closed, or
	// whose engine was closed.
	ErrClosed = errors.New("anim: closed")

	// ErrInvalidSpec is returned by Start for a negative duration or delay.
	ErrInvalidSpec = errors.New("anim: invalid spec")
)

// Spec describes a single run of an animation.
type Spec struct {
	// Exec receives the interpolated value, once per frame (optional).
	Exec func(value float32)
	// Ease selects the easing function, nil uses the engine default.
	Ease     ease.TweenFunc
	Duration time.Duration
	// Delay postpones the first frame.
	Delay time.Duration
	From  float32
	To    float32
}

// Engine runs animations on an event loop, stepping every running animation
// once per frame, from a single loop timer. The timer is only active while at
// least one animation is running, so an idle engine does not keep the loop
// alive.
//
// Engine and Animation are owned by the loop goroutine: all methods must be
// called from it, or while the loop is not running.
type Engine struct {
	loop        *eventloop.Loop
	logger      *logiface.Logger[logiface.Event]
	defaultEase ease.TweenFunc
	timer       *eventloop.Timer
	running     []*Animation
	scratch     []*Animation
	period      time.Duration
	frames      uint64
	closed      bool
}

// NewEngine allocates the engine's frame timer on loop.
func NewEngine(loop *eventloop.Loop, opts ...Option) (*Engine, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	timer, err := loop.NewTimer()
	if err != nil {
		return nil, fmt.Errorf("anim: new engine: %w", err)
	}
	return &Engine{
		loop:        loop,
		logger:      cfg.logger,
		defaultEase: cfg.defaultEase,
		timer:       timer,
		period:      cfg.period,
	}, nil
}

// New allocates an animation, which does nothing until started.
func (e *Engine) New() (*Animation, error) {
	if e.closed {
		return nil, ErrClosed
	}
	return &Animation{engine: e}, nil
}

// Running returns the number of running animations.
func (e *Engine) Running() int {
	return len(e.running)
}

// Frames returns the number of frames stepped so far.
func (e *Engine) Frames() uint64 {
	return e.frames
}

// Close deletes every running animation, without calling their completion
// callbacks, and closes the frame timer. cb (optional) is called from the
// loop once the timer is released. Calling Close twice panics.
func (e *Engine) Close(cb func()) {
	if e.closed {
		panic(fmt.Errorf("anim: engine: close called twice: %w", ErrClosed))
	}
	e.closed = true
	for _, a := range e.running {
		a.running = false
	}
	clear(e.running)
	e.running = e.running[:0]
	e.timer.Close(cb)
}

func (e *Engine) add(a *Animation) {
	e.running = append(e.running, a)
	if !e.timer.Active() {
		if err := e.timer.Start(e.period, e.frame); err != nil {
			// only possible if the timer is closing, which implies e.closed
			e.logger.Err().
				Err(err).
				Log("anim: failed to start frame timer")
		}
	}
}

func (e *Engine) remove(a *Animation) {
	for i, v := range e.running {
		if v == a {
			copy(e.running[i:], e.running[i+1:])
			e.running[len(e.running)-1] = nil
			e.running = e.running[:len(e.running)-1]
			break
		}
	}
	if len(e.running) == 0 && e.timer.Active() {
		_ = e.timer.Stop()
	}
}

// frame steps every animation that was running before the frame began.
// Animations started by a callback during the frame wait for the next one.
func (e *Engine) frame() {
	e.frames++
	now := e.loop.Now()

	e.scratch = append(e.scratch[:0], e.running...)
	for i, a := range e.scratch {
		e.scratch[i] = nil
		if !a.running || a.frame == e.frames {
			continue
		}
		a.step(now)
	}

	if len(e.running) > 0 && !e.closed {
		if err := e.timer.Start(e.period, e.frame); err != nil {
			e.logger.Err().
				Err(err).
				Log("anim: failed to restart frame timer")
		}
	}
}

// safeCall invokes fn, recovering and logging any panic.
func (e *Engine) safeCall(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Err().
				Str("callback", kind).
				Any("panic", r).
				Log("anim: callback panicked")
		}
	}()
	fn()
}

// Animation is a reusable animation handle. Each Start runs it once, calling
// the completion callback (if any) when the run finishes, unless it is
// deleted first.
type Animation struct {
	engine    *Engine
	tween     *gween.Tween
	exec      func(float32)
	completed func()
	last      time.Time
	delay     time.Duration
	frame     uint64
	running   bool
	closed    bool
}

// Start runs the animation described by spec. If the animation is already
// running, the previous run is deleted (its completion callback is not
// called) and replaced.
func (a *Animation) Start(spec Spec, completed func()) error {
	if a.closed || a.engine.closed {
		return ErrClosed
	}
	if spec.Duration < 0 || spec.Delay < 0 {
		return fmt.Errorf("%w: duration=%s delay=%s", ErrInvalidSpec, spec.Duration, spec.Delay)
	}
	fn := spec.Ease
	if fn == nil {
		fn = a.engine.defaultEase
	}

	a.Delete()

	a.tween = gween.New(spec.From, spec.To, float32(spec.Duration.Seconds()), fn)
	a.exec = spec.Exec
	a.completed = completed
	a.delay = spec.Delay
	a.last = a.engine.loop.Now()
	a.frame = a.engine.frames
	a.running = true
	a.engine.add(a)
	return nil
}

// Delete stops the animation, without calling its completion callback.
// Returns true if the animation was running.
func (a *Animation) Delete() bool {
	if !a.running {
		return false
	}
	a.running = false
	a.completed = nil
	a.exec = nil
	a.engine.remove(a)
	return true
}

// Running reports whether the animation has been started, and has neither
// completed nor been deleted.
func (a *Animation) Running() bool {
	return a.running
}

// Close deletes the animation, and prevents further use. Idempotent.
func (a *Animation) Close() {
	a.Delete()
	a.closed = true
}

func (a *Animation) step(now time.Time) {
	dt := now.Sub(a.last)
	a.last = now
	if dt < 0 {
		dt = 0
	}

	if a.delay > 0 {
		if dt < a.delay {
			a.delay -= dt
			return
		}
		dt -= a.delay
		a.delay = 0
	}

	value, finished := a.tween.Update(float32(dt.Seconds()))

	if exec := a.exec; exec != nil {
		a.engine.safeCall("exec", func() { exec(value) })
		if !a.running || a.frame == a.engine.frames {
			// deleted, or restarted, by exec
			return
		}
	}

	if finished {
		completed := a.completed
		a.running = false
		a.completed = nil
		a.exec = nil
		a.engine.remove(a)
		if completed != nil {
			a.engine.safeCall("completed", completed)
		}
	}
}

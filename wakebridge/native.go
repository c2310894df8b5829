package wakebridge

import (
	"context"
	"time"

	"github.com/joeycumines/go-wakebridge/anim"
	"github.com/joeycumines/go-wakebridge/eventloop"
)

type (
	// Loop is the native event loop consumed by the bridge. See NativeLoop.
	Loop interface {
		NewTimer() (Timer, error)
		NewAsync(cb func()) (Async, error)
		Run(ctx context.Context, mode eventloop.RunMode) error
	}

	// Timer is a native one-shot timer.
	Timer interface {
		Start(timeout time.Duration, cb func()) error
		Stop() error
		Close(cb func())
	}

	// Async is a native cross-goroutine notification. Send must be safe to
	// call from any goroutine, and must coalesce.
	Async interface {
		Send() error
		Close(cb func())
		Ref()
		Unref()
	}

	// Animator allocates native animations. See NativeAnimator.
	Animator interface {
		NewAnimation() (Animation, error)
	}

	// Animation is a native animation, calling completed once per Start,
	// unless deleted first.
	Animation interface {
		Start(spec anim.Spec, completed func()) error
		Delete() bool
		Close()
	}
)

type nativeLoop struct {
	loop *eventloop.Loop
}

// NativeLoop adapts an eventloop.Loop.
func NativeLoop(loop *eventloop.Loop) Loop {
	return nativeLoop{loop: loop}
}

func (x nativeLoop) NewTimer() (Timer, error) {
	t, err := x.loop.NewTimer()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (x nativeLoop) NewAsync(cb func()) (Async, error) {
	a, err := x.loop.NewAsync(cb)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (x nativeLoop) Run(ctx context.Context, mode eventloop.RunMode) error {
	return x.loop.Run(ctx, mode)
}

type nativeAnimator struct {
	engine *anim.Engine
}

// NativeAnimator adapts an anim.Engine.
func NativeAnimator(engine *anim.Engine) Animator {
	return nativeAnimator{engine: engine}
}

func (x nativeAnimator) NewAnimation() (Animation, error) {
	a, err := x.engine.New()
	if err != nil {
		return nil, err
	}
	return a, nil
}

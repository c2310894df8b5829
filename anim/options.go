package anim

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/tanema/gween/ease"
)

// DefaultFramePeriod is the default interval between animation frames.
const DefaultFramePeriod = 16 * time.Millisecond

type engineOptions struct {
	logger      *logiface.Logger[logiface.Event]
	period      time.Duration
	defaultEase ease.TweenFunc
}

// Option configures an Engine.
type Option interface {
	applyEngine(*engineOptions) error
}

type optionImpl struct {
	applyEngineFunc func(*engineOptions) error
}

func (o *optionImpl) applyEngine(opts *engineOptions) error {
	return o.applyEngineFunc(opts)
}

// WithLogger attaches a structured logger, used to report recovered panics
// from exec and completion callbacks.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *engineOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithFramePeriod sets the interval between frames. Defaults to
// DefaultFramePeriod.
func WithFramePeriod(d time.Duration) Option {
	return &optionImpl{func(opts *engineOptions) error {
		if d <= 0 {
			return fmt.Errorf("anim: invalid frame period: %s", d)
		}
		opts.period = d
		return nil
	}}
}

// WithDefaultEase sets the easing function used by animations that don't
// specify one. Defaults to ease.Linear.
func WithDefaultEase(fn ease.TweenFunc) Option {
	return &optionImpl{func(opts *engineOptions) error {
		if fn == nil {
			return fmt.Errorf("anim: nil default ease")
		}
		opts.defaultEase = fn
		return nil
	}}
}

func resolveOptions(opts []Option) (*engineOptions, error) {
	cfg := &engineOptions{
		period:      DefaultFramePeriod,
		defaultEase: ease.Linear,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyEngine(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

package wakebridge

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

type bridgeOptions struct {
	logger           *logiface.Logger[logiface.Event]
	animator         Animator
	driveFailureRate map[time.Duration]int
	remoteQueueSize  int
	keepAlive        bool
}

// Option configures a Bridge.
type Option interface {
	applyBridge(*bridgeOptions) error
}

type optionImpl struct {
	applyBridgeFunc func(*bridgeOptions) error
}

func (o *optionImpl) applyBridge(opts *bridgeOptions) error {
	return o.applyBridgeFunc(opts)
}

// WithLogger attaches a structured logger. Failed drive requests are logged
// at error level, subject to WithDriveFailureRates.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *bridgeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithAnimator enables NewAnimation.
func WithAnimator(animator Animator) Option {
	return &optionImpl{func(opts *bridgeOptions) error {
		opts.animator = animator
		return nil
	}}
}

// WithKeepAlive controls whether the drive signal keeps the loop alive. By
// default it does not, so Run returns once no timer, animation, or armed
// notification is pending.
func WithKeepAlive(keepAlive bool) Option {
	return &optionImpl{func(opts *bridgeOptions) error {
		opts.keepAlive = keepAlive
		return nil
	}}
}

// WithDriveFailureRates sets the rate limits for logging failed drive
// requests, per primitive kind, in the format accepted by
// catrate.NewLimiter. An empty map disables the limit.
func WithDriveFailureRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *bridgeOptions) error {
		opts.driveFailureRate = rates
		return nil
	}}
}

// WithRemoteQueueSize bounds the number of undelivered RemoteWaker wakes.
// Zero (the default) means unbounded.
func WithRemoteQueueSize(n int) Option {
	return &optionImpl{func(opts *bridgeOptions) error {
		if n < 0 {
			return fmt.Errorf("wakebridge: invalid remote queue size: %d", n)
		}
		opts.remoteQueueSize = n
		return nil
	}}
}

func resolveOptions(opts []Option) (*bridgeOptions, error) {
	cfg := &bridgeOptions{
		driveFailureRate: map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyBridge(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

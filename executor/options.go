package executor

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// DefaultDriveBudget is the maximum number of task resumptions per drive,
// unless configured WithDriveBudget.
const DefaultDriveBudget = 1024

type executorOptions struct {
	logger *logiface.Logger[logiface.Event]
	budget int
}

// Option configures an Executor.
type Option interface {
	applyExecutor(*executorOptions) error
}

type optionImpl struct {
	applyExecutorFunc func(*executorOptions) error
}

func (o *optionImpl) applyExecutor(opts *executorOptions) error {
	return o.applyExecutorFunc(opts)
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *executorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithDriveBudget bounds the number of tasks resumed by a single drive. If
// tasks remain ready once the budget is spent, another drive is requested,
// so the loop may service timers and other handles in between.
func WithDriveBudget(n int) Option {
	return &optionImpl{func(opts *executorOptions) error {
		if n <= 0 {
			return fmt.Errorf("executor: invalid drive budget: %d", n)
		}
		opts.budget = n
		return nil
	}}
}

func resolveOptions(opts []Option) (*executorOptions, error) {
	cfg := &executorOptions{
		budget: DefaultDriveBudget,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyExecutor(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

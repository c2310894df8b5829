package executor

import (
	"errors"
)

var (
	// ErrClosed is returned when spawning on, or waiting within, a closed
	// executor.
	ErrClosed = errors.New("executor: closed")

	// ErrNotRegistered is returned by waits that require a bridge, if the
	// executor has not been registered with one, see wakebridge.New.
	ErrNotRegistered = errors.New("executor: not registered with a bridge")

	// ErrTaskPanic wraps the value recovered from a panicking task.
	ErrTaskPanic = errors.New("executor: task panicked")

	// ErrJoinSelf is returned by Task.Join, if a task attempts to join itself.
	ErrJoinSelf = errors.New("executor: task cannot join itself")
)

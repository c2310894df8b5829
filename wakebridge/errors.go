package wakebridge

import (
	"errors"
)

var (
	// ErrInvalidHandle indicates use of a handle after Destroy, including a
	// second Destroy. It is raised as a panic, since it is a programming
	// error.
	ErrInvalidHandle = errors.New("wakebridge: invalid handle")

	// ErrHandleArmed indicates Arm was called on a handle that is still
	// armed, i.e. has neither fired nor been canceled. It is raised as a
	// panic.
	ErrHandleArmed = errors.New("wakebridge: handle already armed")

	// ErrBridgeClosed is returned when using a closed bridge.
	ErrBridgeClosed = errors.New("wakebridge: bridge closed")

	// ErrBridgeRunning is returned by Run, if the bridge is already running.
	ErrBridgeRunning = errors.New("wakebridge: bridge already running")

	// ErrNoAnimator is returned by NewAnimation, if the bridge was not
	// configured WithAnimator.
	ErrNoAnimator = errors.New("wakebridge: no animator configured")

	// ErrDriveRequest wraps failures to send the drive signal. Such failures
	// delay, but never lose, a wake: the woken task stays ready until the
	// next drive.
	ErrDriveRequest = errors.New("wakebridge: drive request failed")

	// ErrRemoteQueueFull is returned by RemoteWaker.Wake, if the queue is at
	// the capacity configured WithRemoteQueueSize.
	ErrRemoteQueueFull = errors.New("wakebridge: remote wake queue full")
)

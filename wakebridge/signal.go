package wakebridge

import (
	"fmt"
	"sync/atomic"
)

// DriveSignal requests that the executor be driven, on the loop goroutine.
// There is one per Bridge. Requests made before the handler runs coalesce
// into a single drive.
type DriveSignal struct {
	async    Async
	requests atomic.Uint64
	failures atomic.Uint64
}

// Request schedules a drive. Safe to call from any goroutine, concurrently.
// On failure the error wraps ErrDriveRequest. Ready tasks are not lost: they
// run with the next drive, whatever triggers it.
func (s *DriveSignal) Request() error {
	s.requests.Add(1)
	if err := s.async.Send(); err != nil {
		s.failures.Add(1)
		return fmt.Errorf("%w: %w", ErrDriveRequest, err)
	}
	return nil
}

// Requests returns the number of calls to Request.
func (s *DriveSignal) Requests() uint64 {
	return s.requests.Load()
}

// Failures returns the number of failed calls to Request.
func (s *DriveSignal) Failures() uint64 {
	return s.failures.Load()
}

package wakebridge

import (
	"sync"
)

// Wakeup is a wake delivered from outside the loop goroutine.
type Wakeup struct {
	Token Token
	Kind  Kind
}

// RemoteWaker delivers wakes from any goroutine. Wakes are queued, then
// passed to Executor.Wake by the drive signal handler, on the loop
// goroutine, immediately before Executor.Drive. The executor is never
// touched from the calling goroutine.
type RemoteWaker struct {
	bridge *Bridge
	mu     sync.Mutex
	queue  []Wakeup
	buf    []Wakeup
	limit  int
}

// Wake queues a wake for token, and requests a drive. If the drive request
// fails, the wake remains queued, and is delivered with the next drive.
func (r *RemoteWaker) Wake(kind Kind, token Token) error {
	if r.bridge.closed.Load() {
		return ErrBridgeClosed
	}
	r.mu.Lock()
	if r.limit > 0 && len(r.queue) >= r.limit {
		r.mu.Unlock()
		return ErrRemoteQueueFull
	}
	r.queue = append(r.queue, Wakeup{Token: token, Kind: kind})
	r.mu.Unlock()
	return r.bridge.RequestDrive()
}

// Len returns the number of queued wakes.
func (r *RemoteWaker) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// drain swaps out the queue. The returned slice is only valid until the
// next call.
func (r *RemoteWaker) drain() []Wakeup {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.queue, r.buf = r.buf[:0], r.queue
	return r.buf
}

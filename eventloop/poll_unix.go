//go:build unix

package eventloop

import (
	"errors"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// waker is the platform wake-up mechanism, that poll blocks on.
type waker interface {
	// wait blocks until signaled, or the timeout elapses
	wait(timeout time.Duration) error
	// signal is safe to call from any goroutine
	signal() error
	// drain consumes any pending signal, without blocking
	drain()
	close() error
}

// fdWaker blocks in poll(2) on the read end of an eventfd or pipe. For an
// eventfd, rfd and wfd are the same descriptor.
type fdWaker struct {
	rfd int
	wfd int
	buf [8]byte
}

// pollFd is unix.Poll, replaced in tests.
var pollFd = unix.Poll

// wait returns early, without error, if interrupted by a signal. The loop
// then recomputes the timeout from its timers.
func (w *fdWaker) wait(timeout time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(w.rfd), Events: unix.POLLIN}}
	_, err := pollFd(fds, timeoutMillis(timeout))
	if errors.Is(err, unix.EINTR) {
		return nil
	}
	return err
}

func (w *fdWaker) signal() error {
	// PERFORMANCE: Native endianness, no binary.LittleEndian overhead
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]

	_, err := unix.Write(w.wfd, buf)
	if errors.Is(err, unix.EAGAIN) {
		// already readable, the loop will wake regardless
		return nil
	}
	return err
}

func (w *fdWaker) drain() {
	for {
		_, err := unix.Read(w.rfd, w.buf[:])
		if err != nil {
			break
		}
	}
}

func (w *fdWaker) close() error {
	err := unix.Close(w.rfd)
	if w.wfd != w.rfd {
		if err2 := unix.Close(w.wfd); err == nil {
			err = err2
		}
	}
	return err
}

// timeoutMillis converts to a poll(2) timeout, rounding up, so that a timer
// due in less than a millisecond does not cause a busy loop.
func timeoutMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}

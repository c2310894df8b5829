//go:build unix && !linux

package eventloop

import (
	"golang.org/x/sys/unix"
)

// newWaker creates a non-blocking self-pipe for wake-up notifications.
func newWaker() (waker, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}
	return &fdWaker{rfd: fds[0], wfd: fds[1]}, nil
}

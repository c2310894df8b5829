//go:build linux

package eventloop

import (
	"golang.org/x/sys/unix"
)

// newWaker creates an eventfd for wake-up notifications (Linux).
// The single eventfd serves as both read and write ends.
func newWaker() (waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &fdWaker{rfd: fd, wfd: fd}, nil
}

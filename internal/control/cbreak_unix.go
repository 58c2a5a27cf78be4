//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package control

import "golang.org/x/sys/unix"

// enterCbreak disables canonical input and echo while keeping signal
// generation, so Ctrl-C still interrupts the process.
func enterCbreak(fd int) (func() error, error) {
	current, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, err
	}
	saved := *current

	cbreak := *current
	cbreak.Lflag &^= unix.ICANON | unix.ECHO
	cbreak.Cc[unix.VMIN] = 1
	cbreak.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &cbreak); err != nil {
		return nil, err
	}

	return func() error {
		return unix.IoctlSetTermios(fd, ioctlSetTermios, &saved)
	}, nil
}

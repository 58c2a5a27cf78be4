//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package control

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETAW
)

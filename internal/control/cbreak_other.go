//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package control

import "golang.org/x/term"

// enterCbreak falls back to raw mode, which on these platforms also stops
// the terminal from turning Ctrl-C into an interrupt while the listener runs.
func enterCbreak(fd int) (func() error, error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error { return term.Restore(fd, state) }, nil
}

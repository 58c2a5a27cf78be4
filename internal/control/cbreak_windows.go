//go:build windows

package control

import "golang.org/x/sys/windows"

// cbreakMode disables line buffering and echo but keeps processed input so
// Ctrl-C still raises an interrupt.
func cbreakMode(mode uint32) uint32 {
	mode &^= windows.ENABLE_LINE_INPUT | windows.ENABLE_ECHO_INPUT
	return mode | windows.ENABLE_PROCESSED_INPUT
}

func enterCbreak(fd int) (func() error, error) {
	h := windows.Handle(fd)
	var mode uint32
	if err := windows.GetConsoleMode(h, &mode); err != nil {
		return nil, err
	}
	if err := windows.SetConsoleMode(h, cbreakMode(mode)); err != nil {
		return nil, err
	}
	return func() error { return windows.SetConsoleMode(h, mode) }, nil
}

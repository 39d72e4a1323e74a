//go:build linux || darwin || freebsd || netbsd || openbsd

package keys

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MakeRaw puts the terminal on fd into raw input mode and returns a
// function restoring the previous state. Unlike a full raw mode, output
// processing stays on so "\n" still returns the carriage.
func MakeRaw(fd int) (restore func() error, err error) {
	saved, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, fmt.Errorf("get terminal state: %w", err)
	}

	raw := *saved
	raw.Iflag &^= unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON
	raw.Cflag |= unix.CS8
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &raw); err != nil {
		return nil, fmt.Errorf("set raw mode: %w", err)
	}
	return func() error {
		return unix.IoctlSetTermios(fd, ioctlSetTermios, saved)
	}, nil
}

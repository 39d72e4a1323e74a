//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package keys

import "golang.org/x/term"

// MakeRaw puts the terminal on fd into raw mode and returns a function
// restoring the previous state.
func MakeRaw(fd int) (restore func() error, err error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error {
		return term.Restore(fd, state)
	}, nil
}

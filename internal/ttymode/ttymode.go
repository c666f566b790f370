//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Package ttymode saves, switches and restores the attributes of the
// controlling terminal.
package ttymode

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

var (
	// ErrNotATTY is returned when stdin or stdout is not a terminal.
	ErrNotATTY = errors.New("stdio must be a tty")
	// ErrTermiosRead is returned when the terminal attributes cannot be saved.
	ErrTermiosRead = errors.New("failed to save tty settings")
	// ErrTermiosWrite is returned when raw mode cannot be applied.
	ErrTermiosWrite = errors.New("failed to set raw mode")
)

// Controller owns the terminal attributes of one input/output pair.
type Controller struct {
	in     *os.File
	out    *os.File
	errOut io.Writer

	saved       *unix.Termios
	restoreOnce sync.Once
}

// New returns a controller for the terminal behind in and out. errOut
// receives the newline written on restore.
func New(in, out *os.File, errOut io.Writer) *Controller {
	return &Controller{in: in, out: out, errOut: errOut}
}

// Check fails with ErrNotATTY unless both streams are terminals.
func (c *Controller) Check() error {
	if !term.IsTerminal(int(c.in.Fd())) || !term.IsTerminal(int(c.out.Fd())) {
		return ErrNotATTY
	}
	return nil
}

// Save captures the current attributes for Restore.
func (c *Controller) Save() error {
	termios, err := unix.IoctlGetTermios(int(c.in.Fd()), ioctlReadTermios)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTermiosRead, err)
	}
	c.saved = termios
	return nil
}

// MakeRaw applies the raw attribute set derived from the saved snapshot.
func (c *Controller) MakeRaw() error {
	if c.saved == nil {
		return fmt.Errorf("%w: attributes not saved", ErrTermiosWrite)
	}
	raw := Raw(*c.saved)
	if err := unix.IoctlSetTermios(int(c.in.Fd()), ioctlWriteTermiosFlush, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrTermiosWrite, err)
	}
	return nil
}

// Restore reapplies the saved attributes and moves the cursor to a fresh
// line. Only the first call has any effect.
func (c *Controller) Restore() {
	c.restoreOnce.Do(func() {
		if c.saved == nil {
			return
		}
		_ = unix.IoctlSetTermios(int(c.in.Fd()), ioctlWriteTermiosFlush, c.saved)
		if c.errOut != nil {
			fmt.Fprintln(c.errOut)
		}
	})
}

// Raw derives raw mode from orig: no break signal, no CR to NL, no parity
// check, no stripping, no flow control, no output processing, 8-bit
// characters, no echo, no canonical mode, no extended input processing, no
// signal characters, and reads that return immediately with whatever is
// available.
func Raw(orig unix.Termios) unix.Termios {
	raw := orig
	raw.Iflag &^= unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Cflag |= unix.CS8
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG
	raw.Cc[unix.VMIN] = 0
	raw.Cc[unix.VTIME] = 0
	return raw
}

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package ttymode

import "golang.org/x/sys/unix"

const (
	ioctlReadTermios       = unix.TIOCGETA
	ioctlWriteTermiosFlush = unix.TIOCSETAF
)

package ttymode

import "golang.org/x/sys/unix"

const (
	ioctlReadTermios = unix.TCGETS
	// TCSAFLUSH: drain output and discard pending input before applying.
	ioctlWriteTermiosFlush = unix.TCSETSF
)

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package ttymode

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openPTY(t *testing.T) (ptmx, tty *os.File) {
	t.Helper()
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	t.Cleanup(func() {
		tty.Close()
		ptmx.Close()
	})
	return ptmx, tty
}

func getTermios(t *testing.T, f *os.File) unix.Termios {
	t.Helper()
	termios, err := unix.IoctlGetTermios(int(f.Fd()), ioctlReadTermios)
	require.NoError(t, err)
	return *termios
}

func TestRawFlags(t *testing.T) {
	var orig unix.Termios
	orig.Iflag = unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON | unix.IGNPAR
	orig.Oflag = unix.OPOST
	orig.Lflag = unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG | unix.ECHOE
	orig.Cc[unix.VMIN] = 1
	orig.Cc[unix.VTIME] = 5

	raw := Raw(orig)
	assert.Equal(t, orig.Iflag&^(unix.BRKINT|unix.ICRNL|unix.INPCK|unix.ISTRIP|unix.IXON), raw.Iflag)
	assert.NotZero(t, raw.Iflag&unix.IGNPAR, "unrelated input flags are kept")
	assert.Zero(t, raw.Oflag&unix.OPOST)
	assert.Equal(t, orig.Cflag|unix.CS8, raw.Cflag)
	assert.Zero(t, raw.Lflag&(unix.ECHO|unix.ICANON|unix.IEXTEN|unix.ISIG))
	assert.NotZero(t, raw.Lflag&unix.ECHOE)
	assert.Zero(t, raw.Cc[unix.VMIN])
	assert.Zero(t, raw.Cc[unix.VTIME])
}

func TestMakeRawAndRestore(t *testing.T) {
	_, tty := openPTY(t)
	before := getTermios(t, tty)

	var errOut bytes.Buffer
	c := New(tty, tty, &errOut)
	require.NoError(t, c.Check())
	require.NoError(t, c.Save())
	require.NoError(t, c.MakeRaw())

	during := getTermios(t, tty)
	assert.Zero(t, during.Lflag&(unix.ECHO|unix.ICANON|unix.ISIG))
	assert.Zero(t, during.Cc[unix.VMIN])

	c.Restore()
	assert.Equal(t, before, getTermios(t, tty))
	assert.Equal(t, "\n", errOut.String())

	// Restoring again neither touches the terminal nor writes.
	require.NoError(t, c.MakeRaw())
	c.Restore()
	assert.Equal(t, "\n", errOut.String())
}

func TestRestoreWithoutSave(t *testing.T) {
	_, tty := openPTY(t)
	before := getTermios(t, tty)

	var errOut bytes.Buffer
	c := New(tty, tty, &errOut)
	c.Restore()
	assert.Empty(t, errOut.String())
	assert.Equal(t, before, getTermios(t, tty))
}

func TestMakeRawWithoutSave(t *testing.T) {
	_, tty := openPTY(t)
	c := New(tty, tty, nil)
	assert.ErrorIs(t, c.MakeRaw(), ErrTermiosWrite)
}

func TestCheckNotATTY(t *testing.T) {
	_, tty := openPTY(t)
	f, err := os.Create(filepath.Join(t.TempDir(), "plain"))
	require.NoError(t, err)
	defer f.Close()

	assert.ErrorIs(t, New(f, tty, nil).Check(), ErrNotATTY)
	assert.ErrorIs(t, New(tty, f, nil).Check(), ErrNotATTY)
	assert.NoError(t, New(tty, tty, nil).Check())
}

func TestSaveNotATTY(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "plain"))
	require.NoError(t, err)
	defer f.Close()

	assert.ErrorIs(t, New(f, f, nil).Save(), ErrTermiosRead)
}

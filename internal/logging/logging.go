// Package logging provides the diagnostics logger. The terminal is in raw
// mode while a session runs, so diagnostics never go to stderr; they go to
// an optional log file instead.
package logging

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxSize is the log file size that triggers rotation.
const DefaultMaxSize = 10 * 1024 * 1024

// New returns a logger writing JSON lines to path, or a disabled logger when
// path is empty. The returned closer releases the file.
func New(path string) (zerolog.Logger, io.Closer, error) {
	if path == "" {
		return zerolog.Nop(), nopCloser{}, nil
	}
	file, err := OpenRotatingFile(path)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	logger := zerolog.New(file).With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger()
	return logger, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RotatingFile is an append-only file that is renamed aside once it grows
// past its maximum size.
type RotatingFile struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	maxSize     int64
	currentSize int64
	now         func() time.Time
}

// OpenRotatingFile opens path for appending.
func OpenRotatingFile(path string) (*RotatingFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	var currentSize int64
	if stat, err := file.Stat(); err == nil {
		currentSize = stat.Size()
	}

	return &RotatingFile{
		file:        file,
		path:        path,
		maxSize:     DefaultMaxSize,
		currentSize: currentSize,
		now:         time.Now,
	}, nil
}

// Write appends p, rotating first if p would overflow the file.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.maxSize > 0 && rf.currentSize > 0 && rf.currentSize+int64(len(p)) > rf.maxSize {
		// Keep writing to the current file if rotation fails.
		_ = rf.rotate()
	}

	n, err := rf.file.Write(p)
	rf.currentSize += int64(n)
	return n, err
}

func (rf *RotatingFile) rotate() error {
	rotated := rf.path + "." + rf.now().Format("20060102-150405.000")
	if err := os.Rename(rf.path, rotated); err != nil {
		return err
	}

	file, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	rf.file.Close()
	rf.file = file
	rf.currentSize = 0
	return nil
}

// Close closes the underlying file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.file.Close()
}

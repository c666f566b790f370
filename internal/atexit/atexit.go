// Package atexit runs cleanup handlers on every exit path of the process.
//
// Deferred functions do not run when os.Exit is called, so code that must
// always run before the process terminates (restoring the terminal) is
// registered here and the program exits through Exit.
package atexit

import (
	"errors"
	"os"
	"sync"
)

// MaxHandlers is how many handlers a registry accepts.
const MaxHandlers = 32

var (
	// ErrTooMany is returned when the registry is full.
	ErrTooMany = errors.New("atexit: too many handlers")
	// ErrExiting is returned when registering after exit has begun.
	ErrExiting = errors.New("atexit: exit in progress")
)

// Registry holds exit handlers. The zero value is ready to use.
type Registry struct {
	mu       sync.Mutex
	handlers []func()
	exiting  bool
}

// Register adds fn to the handlers run at exit.
func (r *Registry) Register(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exiting {
		return ErrExiting
	}
	if len(r.handlers) >= MaxHandlers {
		return ErrTooMany
	}
	r.handlers = append(r.handlers, fn)
	return nil
}

// Run calls the registered handlers, most recently registered first. Only
// the first call does anything.
func (r *Registry) Run() {
	r.mu.Lock()
	if r.exiting {
		r.mu.Unlock()
		return
	}
	r.exiting = true
	handlers := r.handlers
	r.handlers = nil
	r.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}

var std Registry

// Register adds fn to the process exit handlers.
func Register(fn func()) error {
	return std.Register(fn)
}

// Run calls the process exit handlers once.
func Run() {
	std.Run()
}

// Exit runs the exit handlers and terminates the process with code.
func Exit(code int) {
	std.Run()
	os.Exit(code)
}

// Package session relays bytes between a terminal and a Unix socket.
//
// A Session runs a single-threaded event loop. poll(2) waits on the
// terminal input, the socket and a wake pipe, with a timeout taken from the
// escape detector's deadline. Each readiness becomes an Event that is
// handled to completion before the loop waits again, so no state is ever
// touched by two handlers at once.
package session

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/inoki/socktty/internal/escape"
)

// State is the lifecycle state of a session.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Reason says why Run returned.
type Reason int

const (
	ReasonDisconnected Reason = iota // peer closed the socket
	ReasonEscape                     // disconnect gesture typed
	ReasonInterrupt                  // SIGINT
	ReasonTerminate                  // SIGTERM
	ReasonHangup                     // terminal went away
	ReasonError                      // fatal I/O error
)

func (r Reason) String() string {
	switch r {
	case ReasonDisconnected:
		return "disconnected"
	case ReasonEscape:
		return "escape"
	case ReasonInterrupt:
		return "interrupt"
	case ReasonTerminate:
		return "terminate"
	case ReasonHangup:
		return "hangup"
	case ReasonError:
		return "error"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Event is a readiness notification dispatched by the run loop.
type Event int

const (
	TerminalReadable Event = iota
	SocketReadable
	TimeoutFired
	SignalReceived
)

func (e Event) String() string {
	switch e {
	case TerminalReadable:
		return "terminal-readable"
	case SocketReadable:
		return "socket-readable"
	case TimeoutFired:
		return "timeout-fired"
	case SignalReceived:
		return "signal-received"
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

const bufferSize = 4096

// Option configures a Session.
type Option func(*Session)

// WithBreak sets the break character and whether the disconnect gesture is
// enabled. The default is Ctrl-], enabled.
func WithBreak(char byte, enabled bool) Option {
	return func(s *Session) {
		s.detector = escape.New(char, enabled)
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.log = logger
	}
}

// WithClock replaces time.Now for the escape window.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session pairs one socket connection with one terminal.
type Session struct {
	conn  *Conn
	in    *os.File
	out   *os.File
	inFd  int
	outFd int

	detector *escape.Detector
	log      zerolog.Logger
	now      func() time.Time
	state    atomic.Int32

	// Notify writes to wakeW after queueing on signals; the loop polls wakeR.
	wakeR   *os.File
	wakeW   *os.File
	signals chan os.Signal

	buf []byte
}

// New returns a session relaying between conn and the terminal streams in
// and out. The session owns conn from now on.
func New(conn *Conn, in, out *os.File, opts ...Option) (*Session, error) {
	wakeR, wakeW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create wake pipe: %w", err)
	}

	s := &Session{
		conn:     conn,
		in:       in,
		out:      out,
		inFd:     int(in.Fd()),
		outFd:    int(out.Fd()),
		detector: escape.New(escape.DefaultChar, true),
		log:      zerolog.Nop(),
		now:      time.Now,
		wakeR:    wakeR,
		wakeW:    wakeW,
		signals:  make(chan os.Signal, 8),
		buf:      make([]byte, bufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the lifecycle state. It may be called from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(state State) { s.state.Store(int32(state)) }

// Detector returns the escape detector driven by terminal input.
func (s *Session) Detector() *escape.Detector { return s.detector }

// Notify asks the run loop to stop because of sig. It is safe to call from
// any goroutine and never blocks.
func (s *Session) Notify(sig os.Signal) {
	select {
	case s.signals <- sig:
	default:
		// a stop request is already queued
	}
	s.wakeW.Write([]byte{0})
}

// Forward passes signals received on sigCh to Notify until the returned
// function is called. The caller owns the signal.Notify registration, so
// signals arriving before the session exists are not lost.
func (s *Session) Forward(sigCh <-chan os.Signal) (stop func()) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				s.Notify(sig)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// Close releases the socket and the wake pipe.
func (s *Session) Close() error {
	s.setState(StateDisconnected)
	err := s.conn.Close()
	s.wakeR.Close()
	s.wakeW.Close()
	return err
}

// Run relays until the socket disconnects, the disconnect gesture is typed,
// a stop is requested, the terminal hangs up or I/O fails. Only the last
// case returns an error.
func (s *Session) Run() (Reason, error) {
	s.setState(StateConnected)
	s.log.Info().
		Str("socket", s.conn.Path()).
		Bool("break", s.detector.Enabled()).
		Str("break_char", s.detector.Name()).
		Msg("session started")

	fds := []unix.PollFd{
		{Fd: int32(s.inFd), Events: unix.POLLIN},
		{Fd: int32(s.conn.Fd()), Events: unix.POLLIN},
		{Fd: int32(s.wakeR.Fd()), Events: unix.POLLIN},
	}

	for {
		for i := range fds {
			fds[i].Revents = 0
		}
		if _, err := unix.Poll(fds, s.pollTimeout()); err != nil {
			if err == unix.EINTR {
				continue
			}
			return s.finish(ReasonError, fmt.Errorf("poll: %w", err))
		}

		for _, ev := range s.ready(fds) {
			reason, done, err := s.handle(ev)
			if done {
				return s.finish(reason, err)
			}
		}
	}
}

// pollTimeout is the time left until the escape window closes, in
// milliseconds rounded up, or -1 when nothing is pending.
func (s *Session) pollTimeout() int {
	deadline, ok := s.detector.Deadline()
	if !ok {
		return -1
	}
	left := deadline.Sub(s.now())
	if left <= 0 {
		return 0
	}
	return int((left + time.Millisecond - 1) / time.Millisecond)
}

// ready turns poll results into events. Expired timeouts come before input
// so that a break character arriving after the window starts a new count.
func (s *Session) ready(fds []unix.PollFd) []Event {
	const readable = unix.POLLIN | unix.POLLHUP | unix.POLLERR | unix.POLLNVAL

	events := make([]Event, 0, 4)
	if deadline, ok := s.detector.Deadline(); ok && !s.now().Before(deadline) {
		events = append(events, TimeoutFired)
	}
	if fds[0].Revents&readable != 0 {
		events = append(events, TerminalReadable)
	}
	if fds[1].Revents&readable != 0 {
		events = append(events, SocketReadable)
	}
	if fds[2].Revents&readable != 0 {
		events = append(events, SignalReceived)
	}
	return events
}

// handle dispatches one event. done reports that the session must end.
func (s *Session) handle(ev Event) (reason Reason, done bool, err error) {
	switch ev {
	case TerminalReadable:
		return s.handleTerminal()
	case SocketReadable:
		return s.handleSocket()
	case TimeoutFired:
		return s.handleTimeout()
	case SignalReceived:
		return s.handleSignal()
	}
	return ReasonError, true, fmt.Errorf("unknown event %v", ev)
}

// handleTerminal drains the terminal input through the escape detector and
// sends what it lets through to the socket.
func (s *Session) handleTerminal() (Reason, bool, error) {
	now := s.now()
	forward := s.detector.Expire(now)

	total := 0
	for {
		n, err := unix.Read(s.inFd, s.buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err == unix.EIO {
			// read on a hung up terminal
			return ReasonHangup, true, s.sendPending(forward)
		}
		if err != nil {
			return ReasonError, true, fmt.Errorf("read terminal: %w", err)
		}
		if n <= 0 {
			if total == 0 {
				return ReasonHangup, true, s.sendPending(forward)
			}
			break
		}
		total += n

		for _, b := range s.buf[:n] {
			out, triggered := s.detector.Feed(b, now)
			forward = append(forward, out...)
			if triggered {
				s.log.Info().Msg("disconnect gesture")
				if err := s.send(forward); err != nil {
					return ReasonError, true, err
				}
				return ReasonEscape, true, nil
			}
		}

		// A short read means the input queue is empty.
		if n < len(s.buf) {
			break
		}
	}

	if err := s.send(forward); err != nil {
		return ReasonError, true, err
	}
	return 0, false, nil
}

// handleSocket copies what the socket has buffered to the terminal. A full
// buffer may leave more behind, so reading continues while the socket is
// still readable.
func (s *Session) handleSocket() (Reason, bool, error) {
	for {
		n, err := s.conn.Read(s.buf)
		if err == unix.ECONNRESET {
			s.log.Info().Msg("socket reset by peer")
			return ReasonDisconnected, true, nil
		}
		if err != nil {
			return ReasonError, true, fmt.Errorf("read socket: %w", err)
		}
		if n == 0 {
			s.log.Info().Msg("socket disconnected")
			return ReasonDisconnected, true, nil
		}
		if _, err := writeAll(s.outFd, s.buf[:n]); err != nil {
			return ReasonError, true, fmt.Errorf("write terminal: %w", err)
		}
		if n < len(s.buf) {
			return 0, false, nil
		}
		more, err := s.conn.readable()
		if err != nil {
			return ReasonError, true, fmt.Errorf("poll socket: %w", err)
		}
		if !more {
			return 0, false, nil
		}
	}
}

// handleTimeout releases break characters whose window has closed.
func (s *Session) handleTimeout() (Reason, bool, error) {
	out := s.detector.Expire(s.now())
	if len(out) == 0 {
		return 0, false, nil
	}
	s.log.Debug().Int("bytes", len(out)).Msg("escape window expired")
	if err := s.send(out); err != nil {
		return ReasonError, true, err
	}
	return 0, false, nil
}

// handleSignal consumes the wake pipe and the queued stop request.
func (s *Session) handleSignal() (Reason, bool, error) {
	var drain [64]byte
	if _, err := s.wakeR.Read(drain[:]); err != nil {
		return ReasonError, true, fmt.Errorf("read wake pipe: %w", err)
	}

	select {
	case sig := <-s.signals:
		s.log.Info().Str("signal", sig.String()).Msg("stop requested")
		reason := ReasonInterrupt
		switch sig {
		case syscall.SIGTERM:
			reason = ReasonTerminate
		case syscall.SIGHUP:
			reason = ReasonHangup
		}
		return reason, true, s.sendPending(nil)
	default:
		return 0, false, nil
	}
}

// sendPending sends prefix and any withheld break characters. It is used on
// the way out while the socket is still open.
func (s *Session) sendPending(prefix []byte) error {
	return s.send(append(prefix, s.detector.Flush()...))
}

func (s *Session) send(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := s.conn.Write(p); err != nil {
		if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
			return fmt.Errorf("write socket: peer closed: %w", err)
		}
		return fmt.Errorf("write socket: %w", err)
	}
	return nil
}

func (s *Session) finish(reason Reason, err error) (Reason, error) {
	if err != nil {
		reason = ReasonError
		s.log.Error().Err(err).Msg("session failed")
	}
	s.setState(StateDisconnected)
	s.log.Info().Stringer("reason", reason).Msg("session ended")
	return reason, err
}

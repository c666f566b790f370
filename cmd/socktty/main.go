package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/inoki/socktty/internal/atexit"
	"github.com/inoki/socktty/internal/config"
	"github.com/inoki/socktty/internal/logging"
	"github.com/inoki/socktty/internal/session"
	"github.com/inoki/socktty/internal/ttymode"
)

// version is injected at build time via -ldflags "-X main.version=<version>".
// Defaults to "dev" for local builds.
var version = "dev"

const progName = "socktty"

// Exit codes. The negative ones become 255 down to 251 in the shell.
const (
	exitOK      = 0
	exitFailure = 1
	exitNotATTY = -1
	exitSaveTTY = -2
	exitAtExit  = -3
	exitConnect = -4
	exitSetRaw  = -5
)

var (
	errAtExit      = errors.New("failed to register atexit handler")
	errInterrupted = errors.New("interrupted")
)

// Replaced in tests: exit handlers can then run without exiting the test
// binary, and a connect can be held open.
var (
	registerExitHandler = atexit.Register
	dialSocket          = session.Dial
)

func main() {
	defer runHandlersOnPanic(atexit.Run)
	// Every exit goes through atexit so the terminal is always restored.
	atexit.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// runHandlersOnPanic is deferred by main. A panic skips atexit.Exit, so the
// handlers run here before the panic continues.
func runHandlersOnPanic(runHandlers func()) {
	if r := recover(); r != nil {
		runHandlers()
		panic(r)
	}
}

// run is the whole program minus the process exit. It returns the exit code.
func run(args []string, stdin, stdout *os.File, stderr io.Writer) int {
	// Take over the stop signals before anything touches the terminal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	base, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return exitFailure
	}
	cfg, err := config.Parse(args, base)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n\n", progName, err)
		fmt.Fprint(stderr, config.Usage(progName))
		return exitFailure
	}
	if cfg.Help {
		fmt.Fprint(stdout, config.Usage(progName))
		return exitOK
	}
	if cfg.Version {
		printVersion(stdout)
		return exitOK
	}

	logger, logCloser, err := logging.New(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(stderr, "%s: open log file: %v\n", progName, err)
		return exitFailure
	}
	defer logCloser.Close()
	logger.Info().
		Str("socket", cfg.SocketPath).
		Bool("break", cfg.Break).
		Bool("alt_break", cfg.AltBreak()).
		Str("version", version).
		Msg("starting")

	ctrl := ttymode.New(stdin, stdout, stderr)
	if err := ctrl.Check(); err != nil {
		return fail(stderr, err)
	}
	if err := ctrl.Save(); err != nil {
		return fail(stderr, err)
	}
	if err := registerExitHandler(ctrl.Restore); err != nil {
		return fail(stderr, fmt.Errorf("%w: %v", errAtExit, err))
	}

	conn, err := dial(cfg.SocketPath, sigCh)
	if err != nil {
		logger.Error().Err(err).Msg("connect failed")
		return fail(stderr, err)
	}

	sess, err := session.New(conn, stdin, stdout,
		session.WithBreak(cfg.BreakChar, cfg.Break),
		session.WithLogger(logger),
	)
	if err != nil {
		conn.Close()
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return exitFailure
	}
	defer sess.Close()

	if cfg.Break {
		fmt.Fprintf(stderr, "Press %s three times within 1s to disconnect TTY from %s\n",
			sess.Detector().Name(), cfg.SocketPath)
	}

	if err := ctrl.MakeRaw(); err != nil {
		return fail(stderr, err)
	}
	logger.Debug().Msg("raw mode entered")

	stopForward := sess.Forward(sigCh)
	defer stopForward()

	reason, err := sess.Run()
	if err != nil {
		// Leave raw mode first so the message is readable.
		ctrl.Restore()
		fmt.Fprintf(stderr, "%s: %v\n", progName, err)
		return exitFailure
	}
	logger.Info().Stringer("reason", reason).Msg("exiting")
	return exitOK
}

// dial connects to path. A stop signal received while the connect blocks
// abandons it.
func dial(path string, sigCh <-chan os.Signal) (*session.Conn, error) {
	type result struct {
		conn *session.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dialSocket(path)
		done <- result{conn, err}
	}()

	select {
	case res := <-done:
		return res.conn, res.err
	case sig := <-sigCh:
		go func() {
			if res := <-done; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("%w (%v) while connecting to %s", errInterrupted, sig, path)
	}
}

// exitCode maps a setup error to the exit code reported for it.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ttymode.ErrNotATTY):
		return exitNotATTY
	case errors.Is(err, ttymode.ErrTermiosRead):
		return exitSaveTTY
	case errors.Is(err, errAtExit):
		return exitAtExit
	case errors.Is(err, session.ErrConnect):
		return exitConnect
	case errors.Is(err, ttymode.ErrTermiosWrite):
		return exitSetRaw
	}
	return exitFailure
}

// fail reports a setup error and returns its exit code.
func fail(stderr io.Writer, err error) int {
	fmt.Fprintln(stderr, err)
	return exitCode(err)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s version %s\n", progName, version)
}

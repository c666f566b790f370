// Package config builds the immutable startup configuration from an
// optional rc file and the command line.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/inoki/socktty/internal/escape"
)

// ErrUsage is returned for command lines that do not match the usage.
var ErrUsage = errors.New("invalid usage")

// Config is the validated startup configuration.
type Config struct {
	SocketPath string
	Break      bool // disconnect gesture enabled
	BreakChar  byte
	LogFile    string

	Help    bool
	Version bool
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Break:     true,
		BreakChar: escape.DefaultChar,
	}
}

// AltBreak reports whether the alternative break character is selected.
func (c *Config) AltBreak() bool {
	return c.BreakChar == escape.AltChar
}

// Usage is the help text.
func Usage(prog string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: socket TTY proxy.\n\n", prog)
	fmt.Fprintf(&b, "Usage:\n")
	fmt.Fprintf(&b, "  %s [options] <UNIX_SOCKET>\n", prog)
	fmt.Fprintf(&b, "  %s (-h | --help)\n\n", prog)
	fmt.Fprintf(&b, "Options:\n")
	fmt.Fprintf(&b, "  -a, --alt-break        Use alternative ^[ break.\n")
	fmt.Fprintf(&b, "  -b, --no-break         Disable ^] break to exit.\n")
	fmt.Fprintf(&b, "  -l, --log-file PATH    Write diagnostics to PATH.\n")
	fmt.Fprintf(&b, "  -v, --version          Print version information.\n")
	fmt.Fprintf(&b, "  -h, --help             Show this screen.\n\n")
	fmt.Fprintf(&b, "Press the break key three times within 1s to disconnect.\n")
	fmt.Fprintf(&b, "Defaults can be set in $SOCKTTYRC or ~/.sockttyrc.\n")
	return b.String()
}

// Parse applies the command line in args on top of base, which holds the
// defaults and rc file settings. base is not modified.
func Parse(args []string, base *Config) (*Config, error) {
	if base == nil {
		base = Default()
	}
	cfg := *base

	fs := pflag.NewFlagSet("socktty", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	var (
		altBreak = fs.BoolP("alt-break", "a", false, "Use alternative ^[ break")
		noBreak  = fs.BoolP("no-break", "b", false, "Disable ^] break to exit")
		logFile  = fs.StringP("log-file", "l", "", "Write diagnostics to file")
		help     = fs.BoolP("help", "h", false, "Show this screen")
		version  = fs.BoolP("version", "v", false, "Print version information")
	)

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if *help {
		cfg.Help = true
		return &cfg, nil
	}
	if *version {
		cfg.Version = true
		return &cfg, nil
	}

	if fs.Changed("alt-break") {
		if *altBreak {
			cfg.BreakChar = escape.AltChar
		} else {
			cfg.BreakChar = escape.DefaultChar
		}
	}
	if fs.Changed("no-break") {
		cfg.Break = !*noBreak
	}
	if fs.Changed("log-file") {
		cfg.LogFile = *logFile
	}

	switch fs.NArg() {
	case 0:
		return nil, fmt.Errorf("%w: missing <UNIX_SOCKET>", ErrUsage)
	case 1:
		cfg.SocketPath = fs.Arg(0)
	default:
		return nil, fmt.Errorf("%w: unexpected arguments: %s", ErrUsage, strings.Join(fs.Args()[1:], " "))
	}
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("%w: empty socket path", ErrUsage)
	}

	return &cfg, nil
}

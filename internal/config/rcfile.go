package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/inoki/socktty/internal/escape"
)

// FindConfigFile finds the rc file to use. It returns "" when there is none.
func FindConfigFile() (string, error) {
	// $SOCKTTYRC must exist if set
	if rc := os.Getenv("SOCKTTYRC"); rc != "" {
		if _, err := os.Stat(rc); err != nil {
			return "", fmt.Errorf("config file not found: %s", rc)
		}
		return rc, nil
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		rc := filepath.Join(homeDir, ".sockttyrc")
		if _, err := os.Stat(rc); err == nil {
			return rc, nil
		}
	}

	return "", nil
}

// Load returns the defaults overlaid with the rc file, if one is found.
func Load() (*Config, error) {
	cfg := Default()
	rc, err := FindConfigFile()
	if err != nil {
		return nil, err
	}
	if rc == "" {
		return cfg, nil
	}
	if err := ParseConfigFile(rc, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfigFile applies the directives in filename to cfg.
//
//	# comment
//	altbreak on|off
//	nobreak on|off
//	logfile PATH
//
// Unknown directives are ignored. The file is UTF-8; a leading UTF-8 or
// UTF-16 byte order mark selects the encoding instead.
func ParseConfigFile(filename string, cfg *Config) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	data, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return parseConfigLines(filename, strings.Split(text, "\n"), cfg)
}

func parseConfigLines(filename string, lines []string, cfg *Config) error {
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		directive := strings.ToLower(parts[0])
		args := parts[1:]

		switch directive {
		case "altbreak":
			on, err := parseOnOff(args)
			if err != nil {
				return fmt.Errorf("%s:%d: %s: %w", filename, i+1, directive, err)
			}
			if on {
				cfg.BreakChar = escape.AltChar
			} else {
				cfg.BreakChar = escape.DefaultChar
			}

		case "nobreak":
			on, err := parseOnOff(args)
			if err != nil {
				return fmt.Errorf("%s:%d: %s: %w", filename, i+1, directive, err)
			}
			cfg.Break = !on

		case "logfile":
			if len(args) == 0 {
				return fmt.Errorf("%s:%d: logfile: missing path", filename, i+1)
			}
			cfg.LogFile = expandHome(strings.Join(args, " "))
		}
	}
	return nil
}

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, fmt.Errorf("expected on or off")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", args[0])
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inoki/socktty/internal/escape"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantPath  string
		wantBreak bool
		wantChar  byte
		wantLog   string
	}{
		{
			name:      "defaults",
			args:      []string{"/run/vm.sock"},
			wantPath:  "/run/vm.sock",
			wantBreak: true,
			wantChar:  escape.DefaultChar,
		},
		{
			name:      "alt break",
			args:      []string{"--alt-break", "/run/vm.sock"},
			wantPath:  "/run/vm.sock",
			wantBreak: true,
			wantChar:  escape.AltChar,
		},
		{
			name:      "no break short flag after path",
			args:      []string{"/run/vm.sock", "-b"},
			wantPath:  "/run/vm.sock",
			wantBreak: false,
			wantChar:  escape.DefaultChar,
		},
		{
			name:      "combined short flags",
			args:      []string{"-ab", "sock"},
			wantPath:  "sock",
			wantBreak: false,
			wantChar:  escape.AltChar,
		},
		{
			name:      "log file",
			args:      []string{"--log-file", "/tmp/socktty.log", "sock"},
			wantPath:  "sock",
			wantBreak: true,
			wantChar:  escape.DefaultChar,
			wantLog:   "/tmp/socktty.log",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(tt.args, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, cfg.SocketPath)
			assert.Equal(t, tt.wantBreak, cfg.Break)
			assert.Equal(t, tt.wantChar, cfg.BreakChar)
			assert.Equal(t, tt.wantLog, cfg.LogFile)
		})
	}
}

func TestParseUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"a.sock", "b.sock"},
		{"--bogus", "a.sock"},
		{""},
	} {
		_, err := Parse(args, nil)
		assert.ErrorIs(t, err, ErrUsage, "args %q", args)
	}
}

func TestParseHelpAndVersion(t *testing.T) {
	for _, args := range [][]string{{"-h"}, {"--help"}, {"--help", "sock"}} {
		cfg, err := Parse(args, nil)
		require.NoError(t, err)
		assert.True(t, cfg.Help, "args %q", args)
	}

	cfg, err := Parse([]string{"--version"}, nil)
	require.NoError(t, err)
	assert.True(t, cfg.Version)
}

func TestParseOverridesBase(t *testing.T) {
	base := Default()
	base.BreakChar = escape.AltChar
	base.Break = false
	base.LogFile = "/var/log/rc.log"

	cfg, err := Parse([]string{"sock"}, base)
	require.NoError(t, err)
	assert.True(t, cfg.AltBreak())
	assert.False(t, cfg.Break)
	assert.Equal(t, "/var/log/rc.log", cfg.LogFile)

	cfg, err = Parse([]string{"--alt-break=false", "--no-break=false", "-l", "/tmp/x.log", "sock"}, base)
	require.NoError(t, err)
	assert.False(t, cfg.AltBreak())
	assert.True(t, cfg.Break)
	assert.Equal(t, "/tmp/x.log", cfg.LogFile)

	// base is left alone
	assert.Equal(t, escape.AltChar, base.BreakChar)
	assert.Empty(t, base.SocketPath)
}

func TestParseConfigFile(t *testing.T) {
	rc := filepath.Join(t.TempDir(), "sockttyrc")
	content := "# console defaults\n\naltbreak on\nnobreak off\nlogfile /tmp/console.log\nstartup_message off\n"
	require.NoError(t, os.WriteFile(rc, []byte(content), 0o644))

	cfg := Default()
	require.NoError(t, ParseConfigFile(rc, cfg))
	assert.Equal(t, escape.AltChar, cfg.BreakChar)
	assert.True(t, cfg.Break)
	assert.Equal(t, "/tmp/console.log", cfg.LogFile)
}

func TestParseConfigFileByteOrderMark(t *testing.T) {
	// "NoBreak On\r\n" as UTF-16LE with a byte order mark.
	content := []byte{0xff, 0xfe}
	for _, r := range "NoBreak On\r\n" {
		content = append(content, byte(r), 0)
	}
	rc := filepath.Join(t.TempDir(), "sockttyrc")
	require.NoError(t, os.WriteFile(rc, content, 0o644))

	cfg := Default()
	require.NoError(t, ParseConfigFile(rc, cfg))
	assert.False(t, cfg.Break)

	// UTF-8 with a byte order mark.
	require.NoError(t, os.WriteFile(rc, []byte("\xef\xbb\xbfaltbreak on\n"), 0o644))
	cfg = Default()
	require.NoError(t, ParseConfigFile(rc, cfg))
	assert.Equal(t, escape.AltChar, cfg.BreakChar)
}

func TestParseConfigFileErrors(t *testing.T) {
	for _, content := range []string{
		"nobreak maybe\n",
		"altbreak\n",
		"logfile\n",
	} {
		rc := filepath.Join(t.TempDir(), "sockttyrc")
		require.NoError(t, os.WriteFile(rc, []byte(content), 0o644))
		assert.Error(t, ParseConfigFile(rc, Default()), "content %q", content)
	}
}

func TestFindConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SOCKTTYRC", "")

	got, err := FindConfigFile()
	require.NoError(t, err)
	assert.Empty(t, got)

	rc := filepath.Join(home, ".sockttyrc")
	require.NoError(t, os.WriteFile(rc, []byte("nobreak on\n"), 0o644))
	got, err = FindConfigFile()
	require.NoError(t, err)
	assert.Equal(t, rc, got)

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Break)

	t.Setenv("SOCKTTYRC", filepath.Join(home, "missing"))
	_, err = FindConfigFile()
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/alice")
	assert.Equal(t, "/home/alice/logs/s.log", expandHome("~/logs/s.log"))
	assert.Equal(t, "/abs/s.log", expandHome("/abs/s.log"))
	assert.Equal(t, "~bob/s.log", expandHome("~bob/s.log"))
}

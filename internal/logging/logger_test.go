package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset(t *testing.T) {
	t.Cleanup(func() {
		SetRedactor(nil)
		Close()
		Configure(LevelInfo, nil)
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("chatty"))
}

func TestConfigureFiltersByLevel(t *testing.T) {
	reset(t)
	var buf bytes.Buffer
	Configure(LevelWarn, &buf)

	Info("hidden")
	Warn("shown", "module", "src/a")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"module":"src/a"`)
}

func TestRedactorAppliesToStringsAndErrors(t *testing.T) {
	reset(t)
	SetRedactor(func(s string) string { return strings.ReplaceAll(s, "sekrit", "[REDACTED]") })
	var buf bytes.Buffer
	Configure(LevelDebug, &buf)

	With("key", "sekrit").Info("query", "error", errors.New("bad key sekrit"))
	out := buf.String()
	assert.NotContains(t, out, "sekrit")
	assert.Equal(t, 2, strings.Count(out, "[REDACTED]"))
}

func TestEnableFileLogging(t *testing.T) {
	reset(t)
	dir := filepath.Join(t.TempDir(), "runs")
	require.NoError(t, EnableFileLogging(dir, LevelInfo))

	Info("to file")
	Close()
	Info("after close")

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
	assert.NotContains(t, string(data), "after close")
}

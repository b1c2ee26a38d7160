package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQuiet(t *testing.T, level LogLevel, dir string, size int) *Logger {
	t.Helper()
	l := New(level, dir, size)
	l.SetConsole(nil, false)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	l := newQuiet(t, INFO, "", 100)
	l.Error("error message")
	l.Warn("warn message")
	l.Info("info message")
	l.Debug("debug message")
	l.Trace("trace message")

	buffer := l.GetBuffer()
	require.Len(t, buffer, 3)
	assert.Equal(t, ERROR, buffer[0].Level)
	assert.Equal(t, "warn message", buffer[1].Message)
	assert.Equal(t, "INFO", buffer[2].LevelName)
}

func TestLoggerContext(t *testing.T) {
	t.Parallel()

	l := newQuiet(t, INFO, "", 100)
	l.Info("test message", "key1", "value1", "key2", 42, "dangling")

	buffer := l.GetBuffer()
	require.Len(t, buffer, 1)
	assert.Equal(t, map[string]interface{}{"key1": "value1", "key2": 42}, buffer[0].Context)
}

func TestLoggerSetLevel(t *testing.T) {
	t.Parallel()

	l := newQuiet(t, INFO, "", 100)
	l.Debug("debug1")
	l.SetLevel(DEBUG)
	l.Debug("debug2")

	buffer := l.GetBuffer()
	require.Len(t, buffer, 1)
	assert.Equal(t, "debug2", buffer[0].Message)
	assert.Equal(t, DEBUG, l.GetLevel())
}

func TestLoggerBufferLimit(t *testing.T) {
	t.Parallel()

	l := newQuiet(t, INFO, "", 3)
	for i := 0; i < 5; i++ {
		l.Info("msg", "i", i)
	}
	buffer := l.GetBuffer()
	require.Len(t, buffer, 3)
	assert.Equal(t, 2, buffer[0].Context["i"])
	assert.Equal(t, 4, buffer[2].Context["i"])
}

func TestLoggerBufferFiltered(t *testing.T) {
	t.Parallel()

	l := newQuiet(t, TRACE, "", 10)
	l.Error("e")
	l.Info("i")
	l.Trace("t")
	assert.Len(t, l.GetBufferFiltered(WARN), 1)
	assert.Len(t, l.GetBufferFiltered(TRACE), 3)
}

func TestWarnRateLimited(t *testing.T) {
	t.Parallel()

	l := newQuiet(t, INFO, "", 10)
	for i := 0; i < 3; i++ {
		l.WarnRateLimited("tls", time.Hour, "insecure TLS")
	}
	l.WarnRateLimited("other", time.Hour, "different key")
	assert.Len(t, l.GetBuffer(), 2)
}

func TestLoggerConsoleJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(INFO, "", 10)
	l.SetConsole(&buf, true)

	l.Warn("probe failed", "device", "lobby", "error", errors.New("refused"), "elapsed", 1500*time.Millisecond)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "probe failed", line["message"])
	assert.Equal(t, "lobby", line["device"])
	assert.Equal(t, "refused", line["error"])
	assert.Equal(t, "1.5s", line["elapsed"])
}

func TestLoggerConsoleText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(INFO, "", 10)
	l.SetConsole(&buf, false)
	l.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestLoggerWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l := newQuiet(t, INFO, dir, 10)
	l.Info("first", "n", 1)
	l.Error("second")
	require.NoError(t, l.Close())

	f, err := os.Open(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	defer f.Close()

	var messages []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		messages = append(messages, line["message"].(string))
	}
	assert.Equal(t, []string{"first", "second"}, messages)
}

func TestLoggerRotation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l := newQuiet(t, INFO, dir, 10)
	l.SetRotationPolicy(RotationPolicy{Enabled: true, MaxSizeMB: 1, MaxFiles: 2})

	payload := strings.Repeat("x", 64*1024)
	for i := 0; i < 40; i++ {
		l.Info("bulk", "payload", payload)
	}
	require.NoError(t, l.Close())

	backups, err := filepath.Glob(filepath.Join(dir, "fleetscan_*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, backups)
	assert.LessOrEqual(t, len(backups), 2)
}

func TestLoggerCallback(t *testing.T) {
	t.Parallel()

	l := newQuiet(t, INFO, "", 10)
	var got []string
	l.SetOnLogCallback(func(e LogEntry) { got = append(got, e.Message) })
	l.Info("one")
	l.Debug("filtered")
	l.Warn("two")
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	tests := map[string]LogLevel{
		"ERROR":   ERROR,
		"warn":    WARN,
		"Warning": WARN,
		"info":    INFO,
		" debug ": DEBUG,
		"TRACE":   TRACE,
		"bogus":   INFO,
		"":        INFO,
	}
	for in, want := range tests {
		assert.Equal(t, want, LevelFromString(in), "input %q", in)
	}
	assert.Equal(t, "DEBUG", LevelToString(DEBUG))
}

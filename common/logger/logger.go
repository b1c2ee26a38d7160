// Package logger provides leveled, structured logging on top of zerolog with
// an in-memory ring buffer for the watch-mode /logs endpoint.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	ERROR LogLevel = iota
	WARN
	INFO
	DEBUG
	TRACE
)

var levelNames = map[LogLevel]string{
	ERROR: "ERROR",
	WARN:  "WARN",
	INFO:  "INFO",
	DEBUG: "DEBUG",
	TRACE: "TRACE",
}

var zerologLevels = map[LogLevel]zerolog.Level{
	ERROR: zerolog.ErrorLevel,
	WARN:  zerolog.WarnLevel,
	INFO:  zerolog.InfoLevel,
	DEBUG: zerolog.DebugLevel,
	TRACE: zerolog.TraceLevel,
}

func init() {
	// Level filtering happens in Logger.log; let every event through zerolog.
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	zerolog.TimeFieldFormat = time.RFC3339
}

// LogFileName is the active log file inside the log directory.
const LogFileName = "fleetscan.log"

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"-"`
	LevelName string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// RotationPolicy defines when the log file is rotated and how many backups stay.
type RotationPolicy struct {
	Enabled   bool
	MaxSizeMB int
	MaxFiles  int
}

type rateLimiter struct {
	lastLog  time.Time
	interval time.Duration
}

// Logger provides structured logging with levels. Console output is
// human-readable; the log file receives one JSON object per line.
type Logger struct {
	mu             sync.Mutex
	level          LogLevel
	logDir         string
	currentFile    *os.File
	buffer         []LogEntry
	maxBufferSize  int
	rotationPolicy RotationPolicy
	rateLimiters   map[string]*rateLimiter
	console        io.Writer
	consoleJSON    bool
	zl             zerolog.Logger
	onLogCallback  func(LogEntry)
}

// New creates a Logger writing to stderr and, when logDir is non-empty, to
// logDir/fleetscan.log.
func New(level LogLevel, logDir string, maxBufferSize int) *Logger {
	if maxBufferSize <= 0 {
		maxBufferSize = 500
	}
	l := &Logger{
		level:         level,
		logDir:        logDir,
		buffer:        make([]LogEntry, 0, maxBufferSize),
		maxBufferSize: maxBufferSize,
		rateLimiters:  make(map[string]*rateLimiter),
		console:       os.Stderr,
		rotationPolicy: RotationPolicy{
			Enabled:   true,
			MaxSizeMB: 20,
			MaxFiles:  5,
		},
	}
	l.rebuild()
	return l
}

// rebuild recreates the zerolog writer chain. Caller holds l.mu or owns l.
func (l *Logger) rebuild() {
	var writers []io.Writer
	if l.console != nil {
		if l.consoleJSON {
			writers = append(writers, l.console)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        l.console,
				TimeFormat: "15:04:05",
				NoColor:    l.console != os.Stderr && l.console != os.Stdout,
			})
		}
	}
	if l.logDir != "" {
		writers = append(writers, fileWriter{l})
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}
	l.zl = zerolog.New(out).Level(zerolog.TraceLevel).With().Timestamp().Logger()
}

// SetConsole redirects console output. A nil writer disables it; asJSON
// writes raw JSON lines instead of the human-readable console format.
func (l *Logger) SetConsole(w io.Writer, asJSON bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
	l.consoleJSON = asJSON
	l.rebuild()
}

// SetOnLogCallback registers a function called for every entry that passes
// the level filter. It runs without the logger lock held.
func (l *Logger) SetOnLogCallback(callback func(LogEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLogCallback = callback
}

// SetLevel changes the current log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetRotationPolicy configures log rotation
func (l *Logger) SetRotationPolicy(policy RotationPolicy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rotationPolicy = policy
}

// Error logs an error level message
func (l *Logger) Error(msg string, context ...interface{}) {
	l.log(ERROR, msg, context...)
}

// Warn logs a warning level message
func (l *Logger) Warn(msg string, context ...interface{}) {
	l.log(WARN, msg, context...)
}

// WarnRateLimited logs a warning at most once per interval for a given key.
func (l *Logger) WarnRateLimited(key string, interval time.Duration, msg string, context ...interface{}) {
	l.mu.Lock()
	limiter, exists := l.rateLimiters[key]
	if !exists {
		limiter = &rateLimiter{interval: interval}
		l.rateLimiters[key] = limiter
	}
	now := time.Now()
	if !limiter.lastLog.IsZero() && now.Sub(limiter.lastLog) < limiter.interval {
		l.mu.Unlock()
		return
	}
	limiter.lastLog = now
	l.mu.Unlock()

	l.log(WARN, msg, context...)
}

// Info logs an info level message
func (l *Logger) Info(msg string, context ...interface{}) {
	l.log(INFO, msg, context...)
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, context ...interface{}) {
	l.log(DEBUG, msg, context...)
}

// Trace logs a trace level message
func (l *Logger) Trace(msg string, context ...interface{}) {
	l.log(TRACE, msg, context...)
}

func (l *Logger) log(level LogLevel, msg string, context ...interface{}) {
	l.mu.Lock()
	if level > l.level {
		l.mu.Unlock()
		return
	}

	ctx := make(map[string]interface{})
	ev := l.zl.WithLevel(zerologLevels[level])
	for i := 0; i < len(context)-1; i += 2 {
		key, ok := context[i].(string)
		if !ok {
			continue
		}
		ctx[key] = context[i+1]
		ev = addField(ev, key, context[i+1])
	}
	ev.Msg(msg)

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		LevelName: levelNames[level],
		Message:   msg,
		Context:   ctx,
	}
	if len(l.buffer) >= l.maxBufferSize {
		l.buffer = l.buffer[1:]
	}
	l.buffer = append(l.buffer, entry)

	callback := l.onLogCallback
	l.mu.Unlock()

	if callback != nil {
		callback(entry)
	}
}

func addField(ev *zerolog.Event, key string, v interface{}) *zerolog.Event {
	switch val := v.(type) {
	case nil:
		return ev.Interface(key, nil)
	case error:
		return ev.AnErr(key, val)
	case string:
		return ev.Str(key, val)
	case int:
		return ev.Int(key, val)
	case int64:
		return ev.Int64(key, val)
	case bool:
		return ev.Bool(key, val)
	case float64:
		return ev.Float64(key, val)
	case time.Duration:
		return ev.Str(key, val.String())
	case time.Time:
		return ev.Time(key, val)
	case fmt.Stringer:
		return ev.Stringer(key, val)
	default:
		return ev.Interface(key, val)
	}
}

// fileWriter appends zerolog output to the active log file. It runs inside
// log() with the logger lock held.
type fileWriter struct{ l *Logger }

func (w fileWriter) Write(p []byte) (int, error) {
	l := w.l
	if l.currentFile == nil {
		if err := os.MkdirAll(l.logDir, 0o755); err != nil {
			return 0, err
		}
		f, err := os.OpenFile(filepath.Join(l.logDir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return 0, err
		}
		l.currentFile = f
	}
	n, err := l.currentFile.Write(p)
	if err == nil && l.shouldRotate() {
		l.rotate()
	}
	return n, err
}

func (l *Logger) shouldRotate() bool {
	if !l.rotationPolicy.Enabled || l.currentFile == nil || l.rotationPolicy.MaxSizeMB <= 0 {
		return false
	}
	stat, err := l.currentFile.Stat()
	if err != nil {
		return false
	}
	return stat.Size() >= int64(l.rotationPolicy.MaxSizeMB)*1024*1024
}

// rotate renames the active file to a timestamped backup and prunes old ones.
func (l *Logger) rotate() {
	if l.currentFile == nil {
		return
	}
	_ = l.currentFile.Close()
	l.currentFile = nil

	base := strings.TrimSuffix(LogFileName, filepath.Ext(LogFileName))
	backup := filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", base, time.Now().Format("20060102_150405.000")))
	_ = os.Rename(filepath.Join(l.logDir, LogFileName), backup)

	if l.rotationPolicy.MaxFiles <= 0 {
		return
	}
	files, err := filepath.Glob(filepath.Join(l.logDir, base+"_*.log"))
	if err != nil || len(files) <= l.rotationPolicy.MaxFiles {
		return
	}
	sort.Strings(files)
	for _, f := range files[:len(files)-l.rotationPolicy.MaxFiles] {
		_ = os.Remove(f)
	}
}

// GetBuffer returns a copy of the in-memory log buffer
func (l *Logger) GetBuffer() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	buffer := make([]LogEntry, len(l.buffer))
	copy(buffer, l.buffer)
	return buffer
}

// GetBufferFiltered returns buffered entries at or above the given severity.
func (l *Logger) GetBufferFiltered(minLevel LogLevel) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	filtered := []LogEntry{}
	for _, entry := range l.buffer {
		if entry.Level <= minLevel {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// Close closes the current log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile != nil {
		err := l.currentFile.Close()
		l.currentFile = nil
		return err
	}
	return nil
}

// LevelFromString converts a level name to a LogLevel. Unknown names map to INFO.
func LevelFromString(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return ERROR
	case "WARN", "WARNING":
		return WARN
	case "INFO":
		return INFO
	case "DEBUG":
		return DEBUG
	case "TRACE":
		return TRACE
	default:
		return INFO
	}
}

// LevelToString converts a LogLevel to a string
func LevelToString(level LogLevel) string {
	return levelNames[level]
}

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the diagnostic channel for autonext components. Every entry
// carries a timestamp, a level, the component name and the run id; session
// scoped loggers add the session id.
//
// By default entries go to ~/.autonext/logs/<run-id>-autonext.log. When the
// file cannot be opened the logger falls back to stderr.
type Logger struct {
	runID     string
	component string
	sugar     *zap.SugaredLogger
	file      *os.File
	logPath   string
	closeOnce sync.Once
}

// Options controls where and what NewLogger writes.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Dir overrides the log directory.
	Dir string
	// Stderr tees every entry to stderr in addition to the file.
	Stderr bool
}

var (
	// Run id shared by every logger of this process
	runID     string
	runIDOnce sync.Once

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	optsMu sync.Mutex
	opts   Options
)

func getRunID() string {
	runIDOnce.Do(func() {
		runID = uuid.New().String()
	})
	return runID
}

// Configure sets the options used by subsequent NewLogger calls and the
// level of every logger already created.
func Configure(o Options) error {
	if o.Level != "" {
		lvl, err := zapcore.ParseLevel(o.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", o.Level, err)
		}
		level.SetLevel(lvl)
	}
	optsMu.Lock()
	opts = o
	optsMu.Unlock()
	return nil
}

// LogDirectory returns the directory log files are written to.
func LogDirectory() (string, error) {
	optsMu.Lock()
	dir := opts.Dir
	optsMu.Unlock()
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".autonext", "logs"), nil
}

func encoder() zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(cfg)
}

// NewLogger creates a logger for a component. The returned error reports
// that the file could not be used; the logger is usable either way.
func NewLogger(component string) (*Logger, error) {
	optsMu.Lock()
	tee := opts.Stderr
	optsMu.Unlock()

	dir, err := LogDirectory()
	if err == nil {
		err = os.MkdirAll(dir, 0o750)
		if err != nil {
			err = fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	if err != nil {
		return newFallbackLogger(component, err), err
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%s-autonext.log", getRunID()))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	core := zapcore.NewCore(encoder(), zapcore.AddSync(file), level)
	if tee {
		core = zapcore.NewTee(core, zapcore.NewCore(encoder(), zapcore.Lock(os.Stderr), level))
	}
	l := New(core, component)
	l.file = file
	l.logPath = logPath
	return l, nil
}

func newFallbackLogger(component string, err error) *Logger {
	l := New(zapcore.NewCore(encoder(), zapcore.Lock(os.Stderr), level), component)
	l.Warnf("failed to initialize file logging: %v", err)
	l.Warnf("falling back to stderr logging")
	return l
}

// New wraps an existing core.
func New(core zapcore.Core, component string) *Logger {
	id := getRunID()
	z := zap.New(core).Named(component).With(zap.String("run", id))
	return &Logger{
		runID:     id,
		component: component,
		sugar:     z.Sugar(),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return New(zapcore.NewNopCore(), "nop")
}

// Named returns a logger for a sub-component sharing the same output.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		runID:     l.runID,
		component: l.component + "." + component,
		sugar:     l.sugar.Named(component),
		logPath:   l.logPath,
	}
}

// WithSession returns a logger that tags entries with a session id.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{
		runID:     l.runID,
		component: l.component,
		sugar:     l.sugar.With("session", id),
		logPath:   l.logPath,
	}
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...any) {
	l.sugar.Debugf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...any) {
	l.sugar.Infof(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...any) {
	l.sugar.Warnf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...any) {
	l.sugar.Errorf(format, v...)
}

// Zap exposes the underlying logger for libraries that take one.
func (l *Logger) Zap() *zap.Logger {
	return l.sugar.Desugar()
}

// RunID returns the id shared by every logger of this process.
func (l *Logger) RunID() string {
	return l.runID
}

// Component returns the logger's component name.
func (l *Logger) Component() string {
	return l.component
}

// LogPath returns the path to the log file, empty when logging to stderr.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close flushes and closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.sugar.Sync()
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// Package logging provides a minimal printf-style logging contract plus a
// component-scoped file logger. Loop code depends only on the Logger interface
// so tests can swap in a no-op or capture implementation.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

// FileLogger writes timestamped, component-tagged lines to refinery-debug.log
// in the user's home directory. The file handle is shared between component
// loggers derived from the singleton.
type FileLogger struct {
	mu        sync.Mutex
	logger    *log.Logger
	file      *os.File
	level     LogLevel
	component string
	stderr    bool
}

var (
	rootOnce sync.Once
	rootInst *FileLogger
)

func root() *FileLogger {
	rootOnce.Do(func() {
		rootInst = newFileLogger("", DEBUG)
	})
	return rootInst
}

// NewComponentLogger creates a logger scoped to a component, sharing the
// singleton's underlying log file.
func NewComponentLogger(component string) *FileLogger {
	r := root()
	return &FileLogger{
		logger:    r.logger,
		file:      r.file,
		level:     r.level,
		component: component,
		stderr:    r.stderr,
	}
}

func newFileLogger(component string, level LogLevel) *FileLogger {
	l := &FileLogger{level: level, component: component}

	home, err := os.UserHomeDir()
	if err != nil {
		return l
	}
	path := filepath.Join(home, "refinery-debug.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return l
	}
	l.file = file
	l.logger = log.New(file, "", 0)
	return l
}

// SetLevel sets the minimum level written by this logger.
func (l *FileLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// EchoStderr mirrors WARN and ERROR lines to stderr.
func (l *FileLogger) EchoStderr(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stderr = enabled
}

// Close closes the underlying log file.
func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *FileLogger) log(level LogLevel, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	msg := fmt.Sprintf(format, args...)
	component := l.component
	if component == "" {
		component = "refinery"
	}
	entry := fmt.Sprintf("%s [%s] [%s] %s:%d %s",
		time.Now().Format("2006-01-02 15:04:05.000"), level, component, file, line, msg)

	if l.logger != nil {
		l.logger.Println(entry)
	}
	if l.stderr && level >= WARN {
		fmt.Fprintln(os.Stderr, entry)
	}
}

func (l *FileLogger) Debug(format string, args ...any) { l.log(DEBUG, format, args...) }
func (l *FileLogger) Info(format string, args ...any)  { l.log(INFO, format, args...) }
func (l *FileLogger) Warn(format string, args ...any)  { l.log(WARN, format, args...) }
func (l *FileLogger) Error(format string, args ...any) { l.log(ERROR, format, args...) }

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if logger == nil {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}

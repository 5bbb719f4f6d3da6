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

// Level represents the severity of a log message.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
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

// Logger defines the minimal printf-style logging contract used across clawmon.
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

var (
	rootInstance *fileLogger
	rootOnce     sync.Once
)

// fileLogger writes leveled lines to clawmon-debug.log and mirrors WARN+ to stderr.
type fileLogger struct {
	mu        sync.Mutex
	file      *os.File
	out       *log.Logger
	level     Level
	component string
}

func root() *fileLogger {
	rootOnce.Do(func() {
		rootInstance = newFileLogger(DEBUG)
	})
	return rootInstance
}

func newFileLogger(level Level) *fileLogger {
	l := &fileLogger{level: level}

	home, err := os.UserHomeDir()
	if err != nil {
		return l
	}
	path := filepath.Join(home, "clawmon-debug.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return l
	}
	l.file = file
	l.out = log.New(file, "", 0)
	return l
}

// NewComponentLogger returns the shared file logger scoped to a component name.
func NewComponentLogger(component string) Logger {
	r := root()
	return &fileLogger{
		file:      r.file,
		out:       r.out,
		level:     r.level,
		component: component,
	}
}

// SetRootLevel sets the minimum level applied to component loggers created afterwards.
func SetRootLevel(level Level) {
	r := root()
	r.mu.Lock()
	r.level = level
	r.mu.Unlock()
}

func (l *fileLogger) log(level Level, format string, args ...any) {
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
	ts := time.Now().Format("2006-01-02 15:04:05.000")

	var formatted string
	if l.component != "" {
		formatted = fmt.Sprintf("[%s] [%s] [%s] %s:%d %s", ts, level, l.component, file, line, msg)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s:%d %s", ts, level, file, line, msg)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil {
		l.out.Println(formatted)
	}
	if level >= WARN {
		fmt.Fprintln(os.Stderr, formatted)
	}
}

func (l *fileLogger) Debug(format string, args ...any) { l.log(DEBUG, format, args...) }
func (l *fileLogger) Info(format string, args ...any)  { l.log(INFO, format, args...) }
func (l *fileLogger) Warn(format string, args ...any)  { l.log(WARN, format, args...) }
func (l *fileLogger) Error(format string, args ...any) { l.log(ERROR, format, args...) }

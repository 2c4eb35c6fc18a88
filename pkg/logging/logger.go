package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/lumberjack.v2"
)

// Level represents logging levels.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Options configures a Logger.
type Options struct {
	Level      string
	File       string // empty disables file logging
	MaxSize    int    // megabytes per file
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool
}

// Logger writes leveled, component-tagged log lines to the console and/or a
// rotating file.
type Logger struct {
	level         Level
	fileLogger    *log.Logger
	consoleLogger *log.Logger
	rotatingFile  *lumberjack.Logger
}

// New creates a logger from options.
func New(opts Options) (*Logger, error) {
	logger := &Logger{
		level: ParseLevel(opts.Level),
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logger.rotatingFile = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		logger.fileLogger = log.New(logger.rotatingFile, "", 0)
	}

	if opts.Console || logger.fileLogger == nil {
		logger.consoleLogger = log.New(os.Stdout, "", 0)
	}

	return logger, nil
}

// Close closes the rotating file, if any.
func (l *Logger) Close() error {
	if l.rotatingFile != nil {
		return l.rotatingFile.Close()
	}
	return nil
}

func (l *Logger) log(level Level, component, message string) {
	if level < l.level {
		return
	}

	line := fmt.Sprintf("%s [%s] %s: %s",
		time.Now().Format("2006-01-02 15:04:05.000"), level.String(), component, message)

	if l.fileLogger != nil {
		l.fileLogger.Println(line)
	}
	if l.consoleLogger != nil {
		l.consoleLogger.Println(line)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(component, message string) { l.log(LevelDebug, component, message) }

// Info logs an info message.
func (l *Logger) Info(component, message string) { l.log(LevelInfo, component, message) }

// Warn logs a warning message.
func (l *Logger) Warn(component, message string) { l.log(LevelWarn, component, message) }

// Error logs an error message.
func (l *Logger) Error(component, message string) { l.log(LevelError, component, message) }

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(component, format string, args ...interface{}) {
	l.log(LevelDebug, component, fmt.Sprintf(format, args...))
}

// Infof logs a formatted info message.
func (l *Logger) Infof(component, format string, args ...interface{}) {
	l.log(LevelInfo, component, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(component, format string, args ...interface{}) {
	l.log(LevelWarn, component, fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(component, format string, args ...interface{}) {
	l.log(LevelError, component, fmt.Sprintf(format, args...))
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobal initializes the process-wide logger.
func InitGlobal(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
	return nil
}

// Global returns the process-wide logger, falling back to console-only
// output when InitGlobal was never called.
func Global() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = &Logger{
			level:         LevelInfo,
			consoleLogger: log.New(os.Stdout, "", 0),
		}
	}
	return globalLogger
}

// CloseGlobal closes the process-wide logger.
func CloseGlobal() error {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger.Close()
	}
	return nil
}

// Convenience functions for the global logger.

func Debug(component, message string) { Global().Debug(component, message) }
func Info(component, message string)  { Global().Info(component, message) }
func Warn(component, message string)  { Global().Warn(component, message) }
func Error(component, message string) { Global().Error(component, message) }

func Debugf(component, format string, args ...interface{}) {
	Global().Debugf(component, format, args...)
}

func Infof(component, format string, args ...interface{}) {
	Global().Infof(component, format, args...)
}

func Warnf(component, format string, args ...interface{}) {
	Global().Warnf(component, format, args...)
}

func Errorf(component, format string, args ...interface{}) {
	Global().Errorf(component, format, args...)
}

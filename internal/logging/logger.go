// Package logging is the application log: a package-level charmbracelet/log
// logger writing to ~/.chatpulse/logs. Every call is a no-op until Init or
// InitWriter runs, so libraries can log unconditionally.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Version is reported in the startup line.
const Version = "0.3.0"

var (
	// Logger is the global logger instance
	Logger *log.Logger

	logFile *os.File
)

// Dir returns the log directory under home.
func Dir(home string) string {
	return filepath.Join(home, ".chatpulse", "logs")
}

// Init opens today's log file under ~/.chatpulse/logs and installs the logger.
func Init() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	logDir := Dir(homeDir)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("chatpulse-%s.log", time.Now().Format("2006-01-02")))
	logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	InitWriter(logFile, log.DebugLevel)
	Logger.Info("chatpulse started", "version", Version)
	return nil
}

// InitWriter installs a logger writing to w. Used by tests and by the
// simulator, which logs to stderr.
func InitWriter(w io.Writer, level log.Level) {
	Logger = log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	})
}

// Close closes the log file
func Close() {
	if Logger != nil {
		Logger.Info("chatpulse shutting down")
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Info logs an info message
func Info(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Info(msg, keyvals...)
	}
}

// Debug logs a debug message
func Debug(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Debug(msg, keyvals...)
	}
}

// Warn logs a warning message
func Warn(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Warn(msg, keyvals...)
	}
}

// Error logs an error message
func Error(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Error(msg, keyvals...)
	}
}

// WithPrefix returns a logger with a prefix, or a discarding logger before
// Init.
func WithPrefix(prefix string) *log.Logger {
	if Logger != nil {
		return Logger.WithPrefix(prefix)
	}
	return log.New(io.Discard)
}

package reqflow

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
)

// Logger is the leveled structured logging interface used throughout the
// package. Key/value pairs alternate; odd trailing keys are printed as-is.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SimpleLogger writes leveled key=value lines through the standard log
// package. It is the default when debug mode is enabled without a custom
// Logger.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger creates a SimpleLogger on the standard logger.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{logger: log.Default()}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.write("DEBUG", msg, keysAndValues)
}

func (l *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	l.write("INFO", msg, keysAndValues)
}

func (l *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.write("WARN", msg, keysAndValues)
}

func (l *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.write("ERROR", msg, keysAndValues)
}

func (l *SimpleLogger) write(level, msg string, keysAndValues []interface{}) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(msg)
	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, " %v", keysAndValues[i])
		}
	}
	l.logger.Print(b.String())
}

// DebugConfig controls per-stage debug logging. Each flag gates one stage so
// noisy stages can be silenced independently.
type DebugConfig struct {
	Enabled bool

	LogAdmission bool
	LogRetries   bool
	LogCache     bool
	LogToken     bool

	// RequestIDGen produces the correlation ID attached to every log line of
	// one operation's lifecycle.
	RequestIDGen func() string
}

// DefaultDebugConfig enables all stages with UUID request IDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      true,
		LogAdmission: true,
		LogRetries:   true,
		LogCache:     true,
		LogToken:     true,
		RequestIDGen: uuid.NewString,
	}
}

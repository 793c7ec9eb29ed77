// Package logger provides structured logging for the discovery pipeline.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log levels.
type Level = zerolog.Level

// Log levels.
const (
	DebugLevel    = zerolog.DebugLevel
	InfoLevel     = zerolog.InfoLevel
	WarnLevel     = zerolog.WarnLevel
	ErrorLevel    = zerolog.ErrorLevel
	DisabledLevel = zerolog.Disabled
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	zl zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      Level
	Pretty     bool // console writer instead of JSON
	Output     io.Writer
	TimeFormat string
	Component  string // e.g. "engine", "crawler", "catalog"
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Pretty:     true,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
	}
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}

	zerolog.TimeFieldFormat = cfg.TimeFormat

	output := cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: "15:04:05",
		}
	}

	zl := zerolog.New(output).
		With().
		Timestamp().
		Logger().
		Level(cfg.Level)

	if cfg.Component != "" {
		zl = zl.With().Str("component", cfg.Component).Logger()
	}

	return &Logger{zl: zl}
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithComponent returns a new logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// WithField returns a new logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithSession returns a new logger tagged with a session id.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{zl: l.zl.With().Str("session", id).Logger()}
}

// WithLocator returns a new logger tagged with a source locator (URL, file path, page:line).
func (l *Logger) WithLocator(locator string) *Logger {
	return &Logger{zl: l.zl.With().Str("locator", locator).Logger()}
}

// WithError returns a new logger with error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

// Debugf logs a formatted debug message.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

// Infof logs a formatted info message.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

// Warnf logs a formatted warning message.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string) {
	l.zl.Error().Msg(msg)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// Event returns a zerolog Event for complex logging.
func (l *Logger) Event(level Level) *zerolog.Event {
	return l.zl.WithLevel(level)
}

// UnitEvent logs one fetched or read source unit.
func (l *Logger) UnitEvent(kind, locator string, size int, depth int) {
	l.zl.Debug().
		Str("kind", kind).
		Str("locator", locator).
		Int("bytes", size).
		Int("depth", depth).
		Msg("Extracted unit")
}

// MentionEvent logs a parsed candidate mention.
func (l *Logger) MentionEvent(method, path, locator string, confidence float64) {
	l.zl.Debug().
		Str("method", method).
		Str("path", path).
		Str("locator", locator).
		Float64("confidence", confidence).
		Msg("Candidate mention")
}

// SourceErrorEvent logs a per-unit failure that was recorded in the session.
func (l *Logger) SourceErrorEvent(err error, locator, kind string) {
	l.zl.Warn().
		Err(err).
		Str("locator", locator).
		Str("kind", kind).
		Msg("Source unit failed")
}

// StatsEvent logs statistics.
func (l *Logger) StatsEvent(stats map[string]interface{}) {
	event := l.zl.Info()
	for k, v := range stats {
		event = event.Interface(k, v)
	}
	event.Msg("Analysis statistics")
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level Level) {
	l.zl = l.zl.Level(level)
}

// ParseLevel parses a level string.
func ParseLevel(levelStr string) (Level, error) {
	return zerolog.ParseLevel(levelStr)
}

var globalLogger = NewDefault()

// SetGlobal sets the global logger.
func SetGlobal(l *Logger) {
	globalLogger = l
}

// Global returns the global logger.
func Global() *Logger {
	return globalLogger
}

// Infof logs a formatted info message using the global logger.
func Infof(format string, args ...interface{}) {
	globalLogger.Infof(format, args...)
}

// Warnf logs a formatted warning message using the global logger.
func Warnf(format string, args ...interface{}) {
	globalLogger.Warnf(format, args...)
}

// Errorf logs a formatted error message using the global logger.
func Errorf(format string, args ...interface{}) {
	globalLogger.Errorf(format, args...)
}

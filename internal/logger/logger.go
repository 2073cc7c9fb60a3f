package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/frontpanelctl/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger based on the given configuration
func Init(level string, isService bool) {
	InitWithWriter(os.Stdout, level, isService)
}

// InitWithWriter initializes the logger writing console output to out
func InitWithWriter(out io.Writer, level string, isService bool) {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}

	if isService {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	SetLogLevel(ParseLevel(level))
}

// ParseLevel maps a configured level name to a LogLevel, defaulting to warnings
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "error":
		return ErrorLevel
	default:
		return WarnLevel
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return unix.Getpgrp() == unix.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Fatal().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

// zlogger adapts a zerolog.Logger to the Logger interface
type zlogger struct {
	zl zerolog.Logger
}

// New wraps an existing zerolog logger
func New(zl zerolog.Logger) Logger {
	return &zlogger{zl: zl}
}

// Default returns a Logger backed by the package-level logger configured by Init
func Default() Logger {
	return &zlogger{zl: log}
}

// Nop returns a Logger that discards everything
func Nop() Logger {
	return &zlogger{zl: zerolog.Nop()}
}

func (l *zlogger) Debug() *LogEvent {
	return &LogEvent{l.zl.Debug()}
}

func (l *zlogger) Info() *LogEvent {
	return &LogEvent{l.zl.Info()}
}

func (l *zlogger) Warn() *LogEvent {
	return &LogEvent{l.zl.Warn()}
}

func (l *zlogger) Error() *LogEvent {
	return &LogEvent{l.zl.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func (l *zlogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{l.zl.Error().
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

func (l *zlogger) ErrorWithContext(err errors.Error, component, operation string) *LogEvent {
	return &LogEvent{l.zl.Error().
		Str("component", component).
		Str("operation", operation).
		Str("error_code", string(err.Code())).
		Str("error_message", err.Error()).
		AnErr("error", err.Unwrap())}
}

func (l *zlogger) WithComponent(component string) Logger {
	return &zlogger{zl: l.zl.With().Str("component", component).Logger()}
}

// Package logging provides structured logging for the CLI and the upload engine.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// File, when set, receives JSON logs rotated by size.
	File string

	// MaxSizeMB and MaxBackups bound the rotated log files.
	MaxSizeMB  int
	MaxBackups int

	// Console is the human-readable destination. Defaults to stderr.
	Console io.Writer
}

// Logger wraps zerolog with console and optional rotating-file output.
type Logger struct {
	zlog    zerolog.Logger
	console io.Writer
	file    io.WriteCloser
	output  io.Writer // current output writer
}

// NewLogger creates a logger from opts.
func NewLogger(opts Options) *Logger {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	l := &Logger{console: console}
	if opts.File != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		backups := opts.MaxBackups
		if backups <= 0 {
			backups = 3
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: backups,
			Compress:   true,
		}
	}

	if opts.Level != "" {
		SetGlobalLevel(ParseLevel(opts.Level))
	}

	l.rebuild(console)
	return l
}

// NewDefaultCLILogger creates a default CLI logger writing to stderr.
func NewDefaultCLILogger() *Logger {
	return NewLogger(Options{})
}

// NewNopLogger creates a logger that discards everything (tests, library use).
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop(), console: io.Discard, output: io.Discard}
}

func (l *Logger) rebuild(console io.Writer) {
	l.console = console
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: "15:04:05",
	}
	if l.file != nil {
		out = zerolog.MultiLevelWriter(out, l.file)
	}
	l.output = out
	l.zlog = zerolog.New(out).With().Timestamp().Logger()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child logger context with additional fields.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	child := *l
	child.zlog = l.zlog.With().Str("component", component).Logger()
	return &child
}

// SetOutput changes the console writer for the logger.
// This is useful for redirecting logs through progress bars.
func (l *Logger) SetOutput(w io.Writer) {
	if l.console == io.Discard && l.file == nil {
		return
	}
	l.rebuild(w)
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Close flushes and closes the rotating log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Debugf logs a debug message with printf-style formatting.
// This is only shown when debug/verbose mode is enabled.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// ParseLevel maps a level name to a zerolog level; unknown names map to info.
func ParseLevel(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "verbose":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options controls where and how log lines are written.
type Options struct {
	Level  string
	File   string
	Format string // "json" (default) or "console"
}

// New creates a zerolog.Logger writing to stderr and optionally to a file.
// The returned cleanup func closes the log file if one was opened; callers must
// defer it.
func New(opts Options) (zerolog.Logger, func(), error) {
	var stderr io.Writer = os.Stderr
	if strings.EqualFold(opts.Format, "console") {
		stderr = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{stderr}
	cleanup := func() {}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writers = append(writers, f)
		cleanup = func() { _ = f.Close() }
	}

	return build(io.MultiWriter(writers...), opts.Level), cleanup, nil
}

func build(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

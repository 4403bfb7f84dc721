package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the application-wide logger configured with JSON output, a caller
// field, and a dual stdout+file sink. Individual request/component loggers
// should derive from it with .With() rather than mutate it in place.
var Log zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logPath := "ragserv.log"
	var out io.Writer = os.Stdout
	if logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		out = io.MultiWriter(os.Stdout, logFile)
	}

	level := zerolog.InfoLevel
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		if lvl, err := zerolog.ParseLevel(levelStr); err == nil {
			level = lvl
		}
	}

	Log = zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()
}

// WithComponent returns a child logger tagged with the given component name,
// matching the per-package logger convention used across this codebase.
func WithComponent(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Dev environments get a human readable
// console writer, everything else emits JSON lines on stdout.
func New(level, env string) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, env)
}

// NewWithWriter is New with an explicit sink, used by tests.
func NewWithWriter(w io.Writer, level, env string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if env == "dev" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != os.Stdout}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

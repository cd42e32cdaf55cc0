// Package monitoring - logger.go configures the global zerolog logger.
//
// DESIGN: Format "auto" writes human-readable console output when the
// destination is a terminal and JSON lines otherwise.
package monitoring

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// SetupLogger installs the global logger described by cfg. The returned
// closer releases a log file, if one was opened.
func SetupLogger(cfg LoggerConfig) (io.Closer, error) {
	var out io.Writer
	var closer io.Closer = nopCloser{}
	var fd = -1

	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out, fd = os.Stderr, int(os.Stderr.Fd())
	case "stdout":
		out, fd = os.Stdout, int(os.Stdout.Fd())
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, err
		}
		out, closer = f, f
	}

	log.Logger = NewLogger(out, cfg.Format, fd >= 0 && term.IsTerminal(fd))
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	return closer, nil
}

// NewLogger builds a logger writing to out. isTTY decides the "auto" format.
func NewLogger(out io.Writer, format string, isTTY bool) zerolog.Logger {
	switch strings.ToLower(format) {
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case "json":
	default:
		if isTTY {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

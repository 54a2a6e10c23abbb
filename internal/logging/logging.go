// Package logging configures the global zerolog logger for the command line.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup routes the global logger to w at level. Human output uses the console
// writer, otherwise every event is one JSON line.
func Setup(w io.Writer, level zerolog.Level, human bool) zerolog.Logger {
	out := w
	if human {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: true}
	}
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)
	log.Logger = logger
	return logger
}

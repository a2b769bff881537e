// Package logger builds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// timeFormat keeps millisecond precision; the scan loop logs several times
// per second and second-resolution timestamps collapse their order.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Config selects the log level and output format.
type Config struct {
	Level  string // trace, debug, info, warn, error
	Pretty bool   // human-readable console output for dev runs
}

// New creates the root logger. Unknown level names fall back to info.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = timeFormat

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

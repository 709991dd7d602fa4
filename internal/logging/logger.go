package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// RDA_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
// RDA_LOG_FORMAT=json disables the console writer and emits JSON lines.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("RDA_LOG_LEVEL")))

	if os.Getenv("RDA_LOG_FORMAT") == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
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

// Component returns a child of the global logger tagged with a component name.
// Components take the returned logger at construction instead of reaching
// for the global one.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() zerolog.Logger {
	return zerolog.New(io.Discard)
}

package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv and FormatEnv name the environment variables read by Init.
const (
	LevelEnv  = "CONFESSION_LOG_LEVEL"
	FormatEnv = "CONFESSION_LOG_FORMAT"
)

// Init configures the global zerolog logger.
// CONFESSION_LOG_LEVEL controls the level: debug, info, warn, error (default: info).
// CONFESSION_LOG_FORMAT selects "json" for machine-readable output; anything else
// gets the console writer.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(LevelEnv)))

	if os.Getenv(FormatEnv) == "json" {
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

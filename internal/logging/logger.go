package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv names the environment variable holding the log level.
const LevelEnv = "TASTEBUDDY_LOG_LEVEL"

// Init initializes the global logger with configuration from environment variables.
// TASTEBUDDY_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
func Init() {
	InitWith(os.Stderr, os.Getenv(LevelEnv))
}

// InitWith configures the global logger to write human-readable output to w
// at the named level. Unknown levels fall back to info.
func InitWith(w io.Writer, level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

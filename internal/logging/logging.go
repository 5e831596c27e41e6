// Package logging configures the zerolog global logger for both binaries.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup picks console output in debug mode and JSON otherwise.
// An unparseable level falls back to info.
func Setup(mode, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

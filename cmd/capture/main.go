package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Relay/internal/cli"
)

func main() {
	if err := cli.NewRootCmd(&cli.Dependencies{Out: os.Stdout}).Execute(); err != nil {
		log.Error().Err(err).Msg("capture failed")
		os.Exit(1)
	}
}

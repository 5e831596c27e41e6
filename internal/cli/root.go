package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/dkeye/Relay/internal/logging"
	"github.com/dkeye/Relay/internal/version"
)

type Dependencies struct {
	Out io.Writer
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "capture",
		Short: "Stream audio to the transcription relay",
		Long:  "Captures microphone or file audio as 16 kHz s16le PCM, streams it to the relay and prints transcript lines as they arrive.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup("debug", logLevel)
		},
		SilenceUsage: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(NewStreamCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))

	return rootCmd
}

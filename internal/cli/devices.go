package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dkeye/Relay/internal/capture"
)

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List microphone sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := capture.ListDevices()
			if err != nil {
				return err
			}
			out := deps.Out
			if out == nil {
				out = os.Stdout
			}
			for _, d := range devices {
				flags := ""
				if d.Default {
					flags += " (default)"
				}
				if d.Muted {
					flags += " (muted)"
				}
				fmt.Fprintf(out, "%s\t%s%s\n", d.ID, d.Description, flags)
			}
			return nil
		},
	}
}

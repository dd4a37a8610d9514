package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.olrik.dev/warden/internal/core"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Long:  `Show the warden version and the detected runtime versions`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "Warden version: %s\n", core.FormatVersion(core.Version))
			for _, line := range formatVersions(core.RuntimeVersions()) {
				fmt.Fprintln(os.Stderr, line)
			}
		},
	}

	return versionCmd
}

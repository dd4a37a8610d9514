package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/warden/internal/api"
	"go.olrik.dev/warden/internal/client"
	"go.olrik.dev/warden/internal/core"
)

type actionSpec struct {
	action api.Action
	use    string
	short  string
	long   string
}

var (
	actionRestart = actionSpec{
		action: api.ActionRestart,
		use:    "restart",
		short:  "Restart the supervised processes",
		long: `Stop the backend and the frontend, start a new log session and start them again.

A restart also clears a crash loop, so this is how processes are brought back
after the supervisor gave up on them.`,
	}
	actionPull = actionSpec{
		action: api.ActionPull,
		use:    "pull",
		short:  "Run the configured pull command",
	}
	actionBuild = actionSpec{
		action: api.ActionBuild,
		use:    "build",
		short:  "Run the configured build command",
	}
	actionDeploy = actionSpec{
		action: api.ActionDeploy,
		use:    "deploy",
		short:  "Pull, build and restart",
		long: `Run the pull command, then the build command, then restart the processes.

The chain stops at the first step that fails. Follow progress with 'warden logs -f'.`,
	}
)

// newActionCommand builds a command that triggers one control action on a running warden
func newActionCommand(spec actionSpec) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   spec.use,
		Short: spec.short,
		Long:  spec.long,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			response, err := client.FromConfig(core.Config).Action(ctx, spec.action)
			if errors.Is(err, client.ErrNotRunning) {
				exitf("Warden is not running. Use 'warden serve' to start it.")
			}
			if err != nil {
				exitf("Failed to %s: %v", spec.use, err)
			}
			if !quiet {
				slog.Info(response.Message)
			}
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")

	return cmd
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/warden/internal/client"
	"go.olrik.dev/warden/internal/core"
	"go.olrik.dev/warden/internal/sessionlog"
)

func NewLogsCommand() *cobra.Command {
	var list bool
	var file string
	var follow bool

	logsCmd := &cobra.Command{
		Use:     "logs",
		Aliases: []string{"log"},
		Short:   "Show session logs",
		Long: `Show session logs.

Without flags the entries of the current session are printed.

Examples:
  warden logs                    # Current session
  warden logs -f                 # Current session, then stream new lines
  warden logs --list             # Stored sessions, newest first
  warden logs --file NAME.jsonl  # A stored session

Press Ctrl+C to stop following.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := client.FromConfig(core.Config)

			switch {
			case list:
				sessions, err := c.ListLogs(ctx)
				if err != nil {
					exitf("Failed to list logs: %v", err)
				}
				if len(sessions) == 0 {
					fmt.Fprintln(os.Stderr, "No session logs")
					return
				}
				for _, s := range sessions {
					fmt.Println(formatSession(s))
				}

			case file != "":
				entries, err := c.ViewLog(ctx, file)
				if err != nil {
					exitf("Failed to read %s: %v", file, err)
				}
				printEntries(entries)

			default:
				entries, err := c.Logs(ctx)
				if err != nil {
					exitf("Failed to fetch logs: %v", err)
				}
				printEntries(entries)
				if !follow {
					return
				}

				seen := make(map[string]bool, len(entries))
				for _, e := range entries {
					seen[e.ID] = true
				}
				err = c.Stream(ctx, func(e sessionlog.LogEntry) {
					// Lines logged between the snapshot and the subscription arrive twice
					if seen[e.ID] {
						return
					}
					fmt.Println(formatEntry(e))
				})
				if err != nil && ctx.Err() == nil {
					exitf("Log stream ended: %v", err)
				}
			}
		},
	}
	logsCmd.Flags().BoolVar(&list, "list", false, "list stored sessions")
	logsCmd.Flags().StringVar(&file, "file", "", "show a stored session")
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new lines as they are logged")
	logsCmd.MarkFlagsMutuallyExclusive("list", "file", "follow")

	return logsCmd
}

func printEntries(entries []sessionlog.LogEntry) {
	for _, e := range entries {
		fmt.Println(formatEntry(e))
	}
}

// formatEntry renders one log line as "time [source:pid] message"
func formatEntry(e sessionlog.LogEntry) string {
	source := string(e.Source)
	if e.Pid != nil {
		source = fmt.Sprintf("%s:%d", source, *e.Pid)
	}
	return fmt.Sprintf("%s [%s] %s", e.Timestamp.Local().Format(time.DateTime), source, e.Message)
}

func formatSession(s sessionlog.SessionInfo) string {
	return fmt.Sprintf("%-40s %10s  %s",
		s.Name, formatBytes(uint64(s.Size)), s.Created.Local().Format(time.DateTime))
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"go.olrik.dev/warden/internal/api"
	"go.olrik.dev/warden/internal/client"
	"go.olrik.dev/warden/internal/core"
)

func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the supervised processes",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			status, raw, err := client.FromConfig(core.Config).Status(ctx)
			if errors.Is(err, client.ErrNotRunning) {
				slog.Warn("Warden is not running.")
				return
			}
			if err != nil {
				exitf("Failed to fetch status: %v", err)
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				fmt.Print(formatStatus(status))
			case "json":
				fmt.Println(strings.TrimSpace(string(raw)))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return statusCmd
}

// formatStatus renders a status response for the terminal
func formatStatus(s api.StatusResponse) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status:   %s\n", s.Status)
	if s.Pid != nil {
		fmt.Fprintf(&b, "PID:      %d\n", *s.Pid)
	}
	if s.StartTime != nil {
		uptime := time.Duration(s.UptimeSeconds) * time.Second
		fmt.Fprintf(&b, "Uptime:   %s (since %s)\n", uptime, s.StartTime.Local().Format(time.DateTime))
	}
	fmt.Fprintf(&b, "Restarts: %d\n", s.RestartCount)
	if s.LastExitCode != nil {
		fmt.Fprintf(&b, "Last exit code: %d\n", *s.LastExitCode)
	}
	if s.AppURL != "" {
		fmt.Fprintf(&b, "App:      %s\n", s.AppURL)
	}

	if s.Memory.RSS > 0 {
		fmt.Fprintf(&b, "Memory:   %s RSS\n", formatBytes(s.Memory.RSS))
	}
	if s.SystemMemory.Total > 0 {
		fmt.Fprintf(&b, "Host:     %s/%s used (%.0f%%)\n",
			formatBytes(s.SystemMemory.Used), formatBytes(s.SystemMemory.Total), s.SystemMemory.UsedPercent)
	}
	if len(s.LoadAvg) == 3 {
		fmt.Fprintf(&b, "Load:     %.2f %.2f %.2f\n", s.LoadAvg[0], s.LoadAvg[1], s.LoadAvg[2])
	}

	if len(s.DBStats) > 0 {
		b.WriteString("Items:\n")
		for _, name := range slices.Sorted(maps.Keys(s.DBStats)) {
			fmt.Fprintf(&b, "  - %s: %d\n", name, s.DBStats[name])
		}
	}

	if len(s.InteractionStats) > 0 {
		b.WriteString("Interactions:\n")
		for _, action := range slices.Sorted(maps.Keys(s.InteractionStats)) {
			origins := s.InteractionStats[action]
			fmt.Fprintf(&b, "  - %s: %d ui, %d quick\n", action, origins["ui"], origins["quick"])
		}
	}

	if lines := formatVersions(s.RuntimeVersions); len(lines) > 0 {
		b.WriteString("Versions:\n")
		for _, line := range lines {
			b.WriteString("  " + line + "\n")
		}
	}

	return b.String()
}

// formatVersions renders runtime versions as sorted "name: version" lines
func formatVersions(versions map[string]string) []string {
	lines := make([]string, 0, len(versions))
	for _, name := range slices.Sorted(maps.Keys(versions)) {
		lines = append(lines, fmt.Sprintf("%s: %s", name, versions[name]))
	}
	return lines
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

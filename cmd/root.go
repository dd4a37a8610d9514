package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"go.olrik.dev/warden/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "Warden - development process supervisor",
		Long: `Warden keeps a backend and a frontend process running, restarts them when
they crash, and records everything they print into per-session log files.

A small HTTP API exposes status, live logs and restart/pull/build/deploy actions.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			messages, err := core.InitializeConfig(configPath)
			if err != nil {
				return err
			}
			if verbose > core.Config.Verbose {
				core.Config.Verbose = verbose
			}
			setupLogging(os.Stderr, core.Config.Verbose)
			for _, message := range messages {
				slog.Debug(message)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(
		&configPath, "config", "c", core.DefaultConfigFile,
		"config file",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewServeCommand(),
		NewStatusCommand(),
		NewLogsCommand(),
		newActionCommand(actionRestart),
		newActionCommand(actionPull),
		newActionCommand(actionBuild),
		newActionCommand(actionDeploy),
		NewVersionCommand(),
	)

	return rootCmd
}

// setupLogging installs a tint handler as the default slog logger
func setupLogging(w io.Writer, verbose int) {
	level := slog.LevelInfo
	if verbose > 0 {
		level = slog.LevelDebug
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	})
	slog.SetDefault(slog.New(handler))
}

// exitf logs an error and exits, the way every client command gives up
func exitf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Package runner executes the project's maintenance commands (pull, build)
// and streams their output into the session log.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.olrik.dev/warden/internal/core"
	"go.olrik.dev/warden/internal/sessionlog"
	"go.olrik.dev/warden/internal/supervisor"
	"golang.org/x/sync/errgroup"
)

// Runner runs the configured pull and build commands in the project directory
type Runner struct {
	dir     string
	pull    []string
	build   []string
	timeout time.Duration
	log     supervisor.LineSink
}

// New creates a Runner from the commands configuration
func New(cfg core.CommandsConfig, log supervisor.LineSink) *Runner {
	return &Runner{
		dir:     cfg.ProjectDir,
		pull:    cfg.Pull,
		build:   cfg.Build,
		timeout: cfg.Timeout,
		log:     log,
	}
}

// Pull updates the project sources
func (r *Runner) Pull(ctx context.Context) (bool, error) {
	return r.Run(ctx, r.pull)
}

// Build builds the project
func (r *Runner) Build(ctx context.Context) (bool, error) {
	return r.Run(ctx, r.build)
}

// Run executes argv, logging stdout and stderr line by line. A non-zero exit
// reports success=false together with the error.
func (r *Runner) Run(ctx context.Context, argv []string) (bool, error) {
	if len(argv) == 0 {
		err := errors.New("no command configured")
		r.logf("Command not run: %v", err)
		return false, err
	}
	label := strings.Join(argv, " ")

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.failed(label, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.failed(label, err)
	}

	r.logf("Running %s", label)
	if err := cmd.Start(); err != nil {
		return r.failed(label, err)
	}

	pid := cmd.Process.Pid
	var g errgroup.Group
	g.Go(func() error {
		supervisor.Pump(stdout, sessionlog.SourceStdout, sessionlog.StreamStdout, pid, r.log)
		return nil
	})
	g.Go(func() error {
		supervisor.Pump(stderr, sessionlog.SourceStderr, sessionlog.StreamStderr, pid, r.log)
		return nil
	})
	g.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return r.failed(label, err)
	}

	r.logf("%s completed successfully", label)
	return true, nil
}

func (r *Runner) failed(label string, err error) (bool, error) {
	r.logf("%s failed: %v", label, err)
	return false, fmt.Errorf("%s: %w", label, err)
}

func (r *Runner) logf(format string, args ...any) {
	r.log.Log(sessionlog.SourceSupervisor, fmt.Sprintf(format, args...), 0)
}

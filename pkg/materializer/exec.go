// Package materializer provides engine.Materializer implementations.
package materializer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/frkl/viva/pkg/engine"
)

// DefaultCommand is the conda-compatible installer invoked by Exec.
const DefaultCommand = "micromamba"

// Exec materializes environments by running a micromamba-compatible command:
//
//	<command> create -y -p <path> -c <channel>... <extra args>... <pkg spec>...
type Exec struct {
	// Command is the executable name or path. Defaults to DefaultCommand.
	Command string

	// ExtraArgs are inserted before the package specs.
	ExtraArgs []string

	// Env holds additional environment variables for the command.
	Env map[string]string

	Logger zerolog.Logger
}

// NewExec creates an Exec materializer.
func NewExec(command string, extraArgs []string, logger zerolog.Logger) *Exec {
	if command == "" {
		command = DefaultCommand
	}
	return &Exec{
		Command:   command,
		ExtraArgs: extraArgs,
		Logger:    logger.With().Str("component", "materializer").Logger(),
	}
}

// Args returns the arguments passed to Command for materializing spec at path.
func (e *Exec) Args(path string, spec engine.EnvironmentSpec) []string {
	args := []string{"create", "-y", "-p", path}
	for _, ch := range spec.Channels {
		args = append(args, "-c", ch)
	}
	args = append(args, e.ExtraArgs...)
	return append(args, spec.PkgSpecs...)
}

// Materialize runs the command and waits for it to finish. Stderr is included in the error.
func (e *Exec) Materialize(ctx context.Context, path string, spec engine.EnvironmentSpec) error {
	command := e.Command
	if command == "" {
		command = DefaultCommand
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create environment directory: %w", err)
	}

	args := e.Args(path, spec)
	cmd := exec.CommandContext(ctx, command, args...)

	if len(e.Env) > 0 {
		env := os.Environ()
		for k, v := range e.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.Logger.Info().
		Str("command", command).
		Strs("args", args).
		Msg("Materializing environment")

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(stdout.String())
			}
			return fmt.Errorf("%s exited with code %d: %s", command, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("failed to execute %s: %w", command, err)
	}

	e.Logger.Debug().
		Str("path", path).
		Dur("duration", duration).
		Msg("Environment materialized")
	return nil
}

// Func adapts a function to engine.Materializer.
type Func func(ctx context.Context, path string, spec engine.EnvironmentSpec) error

// Materialize calls f.
func (f Func) Materialize(ctx context.Context, path string, spec engine.EnvironmentSpec) error {
	return f(ctx, path, spec)
}

var (
	_ engine.Materializer = (*Exec)(nil)
	_ engine.Materializer = Func(nil)
)

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/imgforge/imageman/lib/logger"
)

const (
	// defaultTransferTimeout bounds import/export, which copy whole
	// root filesystems.
	defaultTransferTimeout = 5 * time.Minute
	// defaultCommandTimeout bounds everything else.
	defaultCommandTimeout = 30 * time.Second
)

// CLIEngine drives the imaging tool binary (imagectl by default) via
// subprocess invocations.
type CLIEngine struct {
	binary          string
	transferTimeout time.Duration
	commandTimeout  time.Duration
}

// Option configures a CLIEngine.
type Option func(*CLIEngine)

// WithTransferTimeout overrides the import/export timeout.
func WithTransferTimeout(d time.Duration) Option {
	return func(e *CLIEngine) { e.transferTimeout = d }
}

// WithCommandTimeout overrides the timeout for short operations.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *CLIEngine) { e.commandTimeout = d }
}

// NewCLIEngine creates an engine backed by the given binary.
func NewCLIEngine(binary string, opts ...Option) *CLIEngine {
	e := &CLIEngine{
		binary:          binary,
		transferTimeout: defaultTransferTimeout,
		commandTimeout:  defaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *CLIEngine) Import(ctx context.Context, name, installPath, archivePath string, version int) error {
	return e.invoke(ctx, e.transferTimeout, "import", name, installPath, archivePath, "--version", strconv.Itoa(version))
}

func (e *CLIEngine) Export(ctx context.Context, name, archivePath string) error {
	return e.invoke(ctx, e.transferTimeout, "export", name, archivePath)
}

func (e *CLIEngine) Unregister(ctx context.Context, name string) error {
	return e.invoke(ctx, e.commandTimeout, "unregister", name)
}

func (e *CLIEngine) ListNames(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, "list", "--quiet")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ExitError{Op: "list", Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return nil, fmt.Errorf("engine list: %w", err)
	}
	return parseNames(stdout.String()), nil
}

func (e *CLIEngine) Run(ctx context.Context, name, command string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, "run", name, "--", "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit inside the image is a result, not a failure.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("engine run in %q: %w", name, err)
	}
	return result, nil
}

// invoke runs a subcommand whose only interesting output is its exit
// status.
func (e *CLIEngine) invoke(ctx context.Context, timeout time.Duration, args ...string) error {
	log := logger.FromContext(ctx)

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(opCtx, e.binary, args...)
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	log.Debug("engine command finished",
		"op", args[0], "duration", time.Since(start), "error", err)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{
				Op:     args[0],
				Name:   nameArg(args),
				Code:   exitErr.ExitCode(),
				Stderr: strings.TrimSpace(stderr.String()),
			}
		}
		return fmt.Errorf("engine %s: %w", args[0], err)
	}
	return nil
}

func nameArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

// parseNames splits the list output into trimmed, non-empty names,
// preserving engine order.
func parseNames(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		// The tool may emit UTF-16 BOM artifacts or padding on some hosts.
		name := strings.TrimSpace(strings.Trim(line, "\x00\uFEFF"))
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Package engine abstracts the external imaging tool that registers,
// exports and executes commands inside provisioned images. All "remote"
// access to an image's filesystem goes through this interface; nothing
// in the core mounts an image directly.
package engine

import (
	"context"
	"fmt"
)

// RunResult is the outcome of running a shell command inside an image.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Engine is the external imaging tool contract.
//
// Import and Export are long-running and carry generous timeouts
// (minutes, not seconds) inside the implementation; cancellation is not
// propagated into an in-flight operation once issued.
type Engine interface {
	// Import registers a new image from a positional archive at
	// installPath, using the given engine version.
	Import(ctx context.Context, name, installPath, archivePath string, version int) error
	// Export writes the named image to an archive at archivePath.
	Export(ctx context.Context, name, archivePath string) error
	// Unregister removes the named image from the engine.
	Unregister(ctx context.Context, name string) error
	// ListNames returns the live image names in engine order.
	ListNames(ctx context.Context) ([]string, error)
	// Run executes a shell command inside the named image. A non-zero
	// exit code is reported in RunResult, not as an error; the error
	// return is for failures to execute at all.
	Run(ctx context.Context, name, command string) (RunResult, error)
}

// ExitError reports a non-zero exit from an engine operation, carrying
// the underlying exit information verbatim for the caller.
type ExitError struct {
	Op     string
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("engine %s %q: exit code %d: %s", e.Op, e.Name, e.Code, e.Stderr)
	}
	return fmt.Sprintf("engine %s %q: exit code %d", e.Op, e.Name, e.Code)
}

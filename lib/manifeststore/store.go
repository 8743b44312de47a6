// Package manifeststore reads and writes the manifest file that lives
// inside a provisioned image. The file is reached exclusively through
// the engine's command-execution channel, never a direct filesystem
// mount, so the same code works regardless of how the host exposes
// image filesystems.
package manifeststore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/imgforge/imageman/lib/engine"
	"github.com/imgforge/imageman/lib/logger"
	"github.com/imgforge/imageman/lib/manifest"
	"github.com/imgforge/imageman/lib/paths"
)

var (
	// ErrManifestInvalid is returned when a pre-write validation finds
	// blocking errors; nothing is written in that case.
	ErrManifestInvalid = errors.New("manifest failed validation")
	// ErrVerificationFailed is returned when a write completed but the
	// file could not be confirmed afterwards.
	ErrVerificationFailed = errors.New("manifest write could not be verified")
	// ErrImageUnreachable is returned from Write when the image does
	// not answer a trivial command round-trip.
	ErrImageUnreachable = errors.New("image is not reachable")
)

const manifestMode = "644"

// Store bridges manifests into image filesystems.
type Store struct {
	engine engine.Engine
}

// New creates a store over the given engine.
func New(e engine.Engine) *Store {
	return &Store{engine: e}
}

// Read fetches and parses the manifest from inside an image. An
// unreachable image, an absent file, and unparseable content all return
// (nil, nil): callers treat every one of those as "no manifest", and a
// hard error here would block workflows that must keep going (list,
// clone of a pre-manifest image).
func (s *Store) Read(ctx context.Context, imageName string) (*manifest.Manifest, error) {
	log := logger.FromContext(ctx)

	if !s.reachable(ctx, imageName) {
		log.Debug("image unreachable, treating manifest as absent", "image", imageName)
		return nil, nil
	}

	if !s.fileExists(ctx, imageName, paths.ManifestPathInImage) {
		return nil, nil
	}

	result, err := s.engine.Run(ctx, imageName, "cat "+paths.ManifestPathInImage)
	if err != nil {
		return nil, fmt.Errorf("read manifest from %q: %w", imageName, err)
	}
	if result.ExitCode != 0 {
		return nil, nil
	}

	m, err := manifest.Parse([]byte(result.Stdout))
	if err != nil {
		log.Warn("manifest in image does not parse, treating as absent",
			"image", imageName, "error", err)
		return nil, nil
	}
	return m, nil
}

// Exists reports whether the image currently holds a manifest file.
func (s *Store) Exists(ctx context.Context, imageName string) bool {
	return s.reachable(ctx, imageName) &&
		s.fileExists(ctx, imageName, paths.ManifestPathInImage)
}

// WriteOptions controls a manifest write.
type WriteOptions struct {
	// Validate runs the validator first and refuses to write a manifest
	// with blocking errors.
	Validate bool
	// Backup copies any existing manifest to a .backup sibling before
	// overwriting. Best-effort; an absent source is not an error.
	Backup bool
}

// Write serializes the manifest into the image at the well-known path.
// The primary strategy embeds the escaped content in a printf
// redirection; if that fails, the content is staged in a host-side
// temporary file and streamed in via cat. Either way the result is
// chmod-ed and its existence verified.
func (s *Store) Write(ctx context.Context, imageName string, m *manifest.Manifest, opts WriteOptions) error {
	log := logger.FromContext(ctx)

	if opts.Validate {
		if report := manifest.Validate(m); !report.Valid {
			return fmt.Errorf("%w: %s", ErrManifestInvalid, strings.Join(report.Errors, "; "))
		}
	}

	if !s.reachable(ctx, imageName) {
		return fmt.Errorf("write manifest: %w: %s", ErrImageUnreachable, imageName)
	}

	data, err := m.Serialize()
	if err != nil {
		return err
	}

	target := paths.ManifestPathInImage
	dir := path.Dir(target)
	if _, err := s.engine.Run(ctx, imageName, "mkdir -p "+dir); err != nil {
		return fmt.Errorf("create manifest directory in %q: %w", imageName, err)
	}

	if opts.Backup {
		// Ignored when no prior manifest exists.
		if _, err := s.engine.Run(ctx, imageName,
			fmt.Sprintf("cp %s %s.backup 2>/dev/null || true", target, target)); err != nil {
			log.Debug("manifest backup failed", "image", imageName, "error", err)
		}
	}

	escaped := escapeForShell(string(data))
	result, err := s.engine.Run(ctx, imageName,
		fmt.Sprintf(`printf '%%b' "%s" > %s`, escaped, target))
	if err != nil {
		return fmt.Errorf("write manifest to %q: %w", imageName, err)
	}
	if result.ExitCode != 0 {
		log.Debug("printf write failed, falling back to temp file streaming",
			"image", imageName, "exit_code", result.ExitCode)
		if err := s.writeViaTempFile(ctx, imageName, data, target); err != nil {
			return err
		}
	}

	if _, err := s.engine.Run(ctx, imageName, fmt.Sprintf("chmod %s %s", manifestMode, target)); err != nil {
		return fmt.Errorf("chmod manifest in %q: %w", imageName, err)
	}
	if !s.fileExists(ctx, imageName, target) {
		return fmt.Errorf("%w: %s in %s", ErrVerificationFailed, target, imageName)
	}
	return nil
}

// writeViaTempFile stages the unescaped content on the host and streams
// it into the image with a cat redirection. The temp file is removed
// regardless of outcome.
func (s *Store) writeViaTempFile(ctx context.Context, imageName string, data []byte, target string) error {
	tmp, err := os.CreateTemp("", "imageman-manifest-*.json")
	if err != nil {
		return fmt.Errorf("create temp manifest file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp manifest file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp manifest file: %w", err)
	}

	result, err := s.engine.Run(ctx, imageName,
		fmt.Sprintf("cat '%s' > %s", guestPathFor(tmpPath), target))
	if err != nil {
		return fmt.Errorf("stream manifest into %q: %w", imageName, err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("stream manifest into %q: exit code %d: %s",
			imageName, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// reachable probes the image with a trivial command round-trip.
func (s *Store) reachable(ctx context.Context, imageName string) bool {
	result, err := s.engine.Run(ctx, imageName, "echo ok")
	return err == nil && result.ExitCode == 0
}

// fileExists checks a path inside the image with a conditional test.
func (s *Store) fileExists(ctx context.Context, imageName, p string) bool {
	result, err := s.engine.Run(ctx, imageName,
		fmt.Sprintf("[ -f %s ] && echo exists", p))
	return err == nil && strings.Contains(result.Stdout, "exists")
}

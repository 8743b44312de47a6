// Package archive classifies and unpacks template archives. Source
// archives are frequently mislabeled container formats, so classification
// works on leading bytes rather than file extensions.
package archive

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/imgforge/imageman/lib/logger"
)

// Format classifies a file for the import pipeline.
type Format int

const (
	// FormatTarball is a directly importable positional archive
	// (tar, or a gzip-compressed stream).
	FormatTarball Format = iota
	// FormatContainer is a generic zip-like wrapper that may itself
	// contain a positional archive under a different name.
	FormatContainer
)

func (f Format) String() string {
	if f == FormatContainer {
		return "container"
	}
	return "tarball"
}

const (
	headerSize     = 512
	tarMagicOffset = 257
	probeTimeout   = 15 * time.Second
)

var (
	tarMagic  = []byte("ustar")
	gzipMagic = []byte{0x1f, 0x8b}
	zipMagic  = []byte{0x50, 0x4b} // "PK"
)

// Detect inspects the leading bytes of the file at path and classifies
// it. The policy when bytes are inconclusive is deliberate: probe with
// the external tar tool, and on probe failure or any I/O error assume
// the file is importable. Failing late at import produces a loud,
// actionable error; refusing at sniff time would silently reject
// potentially valid files.
func Detect(ctx context.Context, path string) Format {
	log := logger.FromContext(ctx)

	header, err := readHeader(path)
	if err != nil {
		log.Warn("could not read archive header, assuming tarball", "path", path, "error", err)
		return FormatTarball
	}

	if len(header) >= tarMagicOffset+len(tarMagic) &&
		string(header[tarMagicOffset:tarMagicOffset+len(tarMagic)]) == string(tarMagic) {
		return FormatTarball
	}
	if len(header) >= 2 && header[0] == gzipMagic[0] && header[1] == gzipMagic[1] {
		return FormatTarball
	}
	if len(header) >= 2 && header[0] == zipMagic[0] && header[1] == zipMagic[1] {
		return FormatContainer
	}

	// Inconclusive bytes: ask tar itself as a last resort.
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := exec.CommandContext(probeCtx, "tar", "-tf", path).Run(); err != nil {
		log.Debug("tar probe failed, assuming tarball anyway", "path", path, "error", err)
	}
	return FormatTarball
}

// readHeader reads up to headerSize leading bytes. Short files are fine;
// the caller only compares the ranges that were actually read.
func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, headerSize)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return nil, err
	}
	return buf[:n], nil
}

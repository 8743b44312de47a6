package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/nrednav/cuid2"

	"github.com/imgforge/imageman/lib/logger"
)

var (
	// ErrNoInnerArchive is returned when a container file holds no
	// recognizable positional archive anywhere in its tree.
	ErrNoInnerArchive = errors.New("no inner archive found in container file")
	// ErrInvalidEntryPath is returned when an archive entry has a malicious path.
	ErrInvalidEntryPath = errors.New("invalid archive entry path")
)

// innerSuffixes are the file name suffixes accepted as an inner archive,
// in preference order within a single name.
var innerSuffixes = []string{".tar.gz", ".tgz", ".tar"}

// ExtractInner unpacks a container-format file into a scratch directory
// beside it, searches the tree for the best-matching inner archive, and
// moves the winner to a canonical sibling path of the source file.
//
// Extraction is attempted as a zip container first, then as a (possibly
// gzip-compressed) tar container. A file whose name ends in a recognized
// archive suffix and contains "install" is preferred; otherwise the
// first match in pre-order wins.
//
// The scratch directory is removed on every exit path. maxBytes bounds
// total extracted content.
func ExtractInner(ctx context.Context, path string, maxBytes int64) (string, error) {
	log := logger.FromContext(ctx)

	scratch := filepath.Join(filepath.Dir(path), ".extract-"+cuid2.Generate())
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := extractZip(path, scratch, maxBytes); err != nil {
		log.Debug("zip extraction failed, retrying as tar", "path", path, "error", err)
		if err := extractTar(path, scratch, maxBytes); err != nil {
			return "", fmt.Errorf("extract container: %w", err)
		}
	}

	inner := findInnerArchive(scratch)
	if inner == "" {
		return "", ErrNoInnerArchive
	}

	canonical := path + ".rootfs.tar.gz"
	// Replace any prior re-extraction result.
	if err := os.Remove(canonical); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove prior inner archive: %w", err)
	}
	if err := os.Rename(inner, canonical); err != nil {
		return "", fmt.Errorf("move inner archive: %w", err)
	}

	log.Info("re-extracted inner archive", "source", path, "inner", canonical)
	return canonical, nil
}

// findInnerArchive walks root in pre-order. Names containing "install"
// win over the first plain match.
func findInnerArchive(root string) string {
	var first, preferred string
	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		if !hasInnerSuffix(name) {
			return nil
		}
		if first == "" {
			first = p
		}
		if strings.Contains(name, "install") && preferred == "" {
			preferred = p
			return filepath.SkipAll
		}
		return nil
	})
	if preferred != "" {
		return preferred
	}
	return first
}

func hasInnerSuffix(name string) bool {
	for _, s := range innerSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// validateEntryPath rejects obviously malicious entry paths rather than
// silently sanitizing them; a legitimate container should not contain
// path traversal attempts.
func validateEntryPath(name string) error {
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || filepath.IsAbs(name) {
		return fmt.Errorf("%w: absolute path %q", ErrInvalidEntryPath, name)
	}
	if strings.HasPrefix(cleaned, "..") || strings.Contains(cleaned, string(filepath.Separator)+"..") {
		return fmt.Errorf("%w: path traversal in %q", ErrInvalidEntryPath, name)
	}
	return nil
}

// extractZip unpacks path as a zip container into destDir. Only regular
// files and directories are materialized; the search that follows only
// cares about files.
func extractZip(path, destDir string, maxBytes int64) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	var extracted int64
	for _, entry := range zr.File {
		if err := validateEntryPath(entry.Name); err != nil {
			return err
		}
		target, err := securejoin.SecureJoin(destDir, entry.Name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntryPath, err)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", entry.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create parent dir: %w", err)
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open entry %s: %w", entry.Name, err)
		}
		n, err := writeLimited(target, rc, maxBytes-extracted)
		rc.Close()
		if err != nil {
			return fmt.Errorf("write entry %s: %w", entry.Name, err)
		}
		extracted += n
	}
	return nil
}

// extractTar unpacks path as a tar container (gzip-compressed or not)
// into destDir.
func extractTar(path, destDir string, maxBytes int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open container: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	header := make([]byte, 2)
	if n, _ := io.ReadFull(f, header); n == 2 && header[0] == gzipMagic[0] && header[1] == gzipMagic[1] {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind container: %w", err)
		}
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer gzr.Close()
		r = gzr
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind container: %w", err)
		}
	}

	tr := tar.NewReader(r)
	var extracted int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}
		if err := validateEntryPath(hdr.Name); err != nil {
			return err
		}
		target, err := securejoin.SecureJoin(destDir, hdr.Name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEntryPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create dir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create parent dir: %w", err)
			}
			n, err := writeLimited(target, tr, maxBytes-extracted)
			if err != nil {
				return fmt.Errorf("write entry %s: %w", hdr.Name, err)
			}
			extracted += n
		default:
			// Symlinks, devices, fifos: the inner-archive search only
			// looks at regular files.
			continue
		}
	}
	return nil
}

// writeLimited copies r into a new file at target, failing once more
// than limit bytes have been written.
func writeLimited(target string, r io.Reader, limit int64) (int64, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("extraction size limit exceeded")
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1)) // +1 to detect overflow
	closeErr := f.Close()
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, fmt.Errorf("extraction size limit exceeded")
	}
	return n, closeErr
}

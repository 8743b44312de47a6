// Package paths provides centralized path construction for the imageman
// data directory and the per-user metadata index.
package paths

import "path/filepath"

// ManifestPathInImage is the well-known absolute path of the manifest
// file inside every provisioned image's filesystem.
const ManifestPathInImage = "/etc/imageman/manifest.json"

// Paths provides typed path construction for the imageman data directory.
type Paths struct {
	dataDir string
}

// New creates a new Paths instance for the given data directory.
func New(dataDir string) *Paths {
	return &Paths{dataDir: dataDir}
}

// DataDir returns the root data directory.
func (p *Paths) DataDir() string {
	return p.dataDir
}

// IndexFile returns the path to the metadata index file. The index is a
// single JSON object keyed by image name, rewritten wholesale on every
// mutation.
func (p *Paths) IndexFile() string {
	return filepath.Join(p.dataDir, "images.json")
}

// Template path methods

// TemplatesDir returns the directory holding downloaded template archives.
func (p *Paths) TemplatesDir() string {
	return filepath.Join(p.dataDir, "templates")
}

// TemplatesIndex returns the path to the template catalog index file.
func (p *Paths) TemplatesIndex() string {
	return filepath.Join(p.TemplatesDir(), "templates.yaml")
}

// TemplateArchive returns the path to a template's archive file.
func (p *Paths) TemplateArchive(fileName string) string {
	return filepath.Join(p.TemplatesDir(), fileName)
}

// Image path methods

// InstallRoot returns the root directory under which default install
// paths are allocated.
func (p *Paths) InstallRoot() string {
	return filepath.Join(p.dataDir, "images")
}

// DefaultInstallDir returns the deterministic default install path for
// an image name, used when the caller does not supply one.
func (p *Paths) DefaultInstallDir(imageName string) string {
	return filepath.Join(p.InstallRoot(), imageName)
}

// ImageLog returns the path to an image's provision.log inside its
// default install directory.
func (p *Paths) ImageLog(imageName string) string {
	return filepath.Join(p.DefaultInstallDir(imageName), "provision.log")
}

// ScratchDir returns the directory used for export/import intermediates
// during clone operations.
func (p *Paths) ScratchDir() string {
	return filepath.Join(p.dataDir, "scratch")
}

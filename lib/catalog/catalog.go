// Package catalog resolves template names to locally materialized
// archive files. Downloading templates is outside the core; the catalog
// only answers what is known and what is actually on disk.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/imgforge/imageman/lib/paths"
)

// ErrNotFound is returned when a template name is not in the catalog.
var ErrNotFound = errors.New("template not found")

// Template describes one entry in the catalog. Available reports
// whether the archive is materialized on local disk; Size and FilePath
// are only meaningful when it is.
type Template struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	File      string `json:"file"`
	FilePath  string `json:"-"`
	Size      int64  `json:"-"`
	Available bool   `json:"-"`
}

// Catalog answers template lookups.
type Catalog interface {
	GetTemplate(ctx context.Context, name string) (*Template, error)
	ListTemplates(ctx context.Context) ([]Template, error)
}

// index is the on-disk templates.yaml shape.
type index struct {
	Templates []Template `json:"templates"`
}

// Local is a catalog backed by a YAML index file in the templates
// directory.
type Local struct {
	paths *paths.Paths
}

// NewLocal creates a catalog over the given data directory layout.
func NewLocal(p *paths.Paths) *Local {
	return &Local{paths: p}
}

// GetTemplate resolves a template by name, case-insensitively.
func (c *Local) GetTemplate(ctx context.Context, name string) (*Template, error) {
	templates, err := c.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		if strings.EqualFold(templates[i].Name, name) {
			return &templates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// ListTemplates returns every catalog entry with its local availability
// resolved. A missing index file is an empty catalog, not an error.
func (c *Local) ListTemplates(ctx context.Context) ([]Template, error) {
	data, err := os.ReadFile(c.paths.TemplatesIndex())
	if err != nil {
		if os.IsNotExist(err) {
			return []Template{}, nil
		}
		return nil, fmt.Errorf("read template index: %w", err)
	}

	var idx index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse template index: %w", err)
	}

	for i := range idx.Templates {
		t := &idx.Templates[i]
		t.FilePath = c.paths.TemplateArchive(t.File)
		if info, err := os.Stat(t.FilePath); err == nil {
			t.Available = true
			t.Size = info.Size()
		}
	}
	return idx.Templates, nil
}

package manifest

import (
	"fmt"
	"strings"
	"time"

	"github.com/nrednav/cuid2"
)

// FreshOptions customizes a fresh-from-template manifest.
type FreshOptions struct {
	TemplateVersion string
	Architecture    string
	Source          string
	Description     string
	Author          string
	Tags            []string
}

// NewFromTemplate builds the manifest for an image freshly provisioned
// from a template: a single distro root layer and a lineage of exactly
// the template name.
func NewFromTemplate(templateName, imageName string, opts FreshOptions) *Manifest {
	now := time.Now().UTC()

	tags := []string{"pristine", strings.ToLower(templateName)}
	tags = append(tags, opts.Tags...)

	m := &Manifest{
		Version: SchemaVersion,
		Metadata: Metadata{
			Source:      templateName,
			Lineage:     []string{templateName},
			Created:     now,
			CreatedBy:   CreatedBy,
			ID:          cuid2.Generate(),
			Name:        imageName,
			Description: opts.Description,
		},
		Layers: Layers{
			&DistroLayer{
				LayerHeader: LayerHeader{
					Type:    KindDistro,
					Name:    templateName,
					Applied: now,
				},
				Version:      opts.TemplateVersion,
				Architecture: opts.Architecture,
				Source:       opts.Source,
			},
		},
		Tags: tags,
	}

	if opts.Author != "" {
		if m.Custom == nil {
			m.Custom = map[string]any{}
		}
		m.Custom["author"] = opts.Author
	}

	return m
}

// CloneOptions customizes a clone manifest.
type CloneOptions struct {
	Description string
	Tags        []string
}

// NewClone derives the manifest for a cloned image. The clone is a
// metadata fork: layers are carried over unchanged, the lineage chain is
// extended with the source image, and identity fields are refreshed.
// A nil source manifest (source image provisioned before manifests
// existed) yields a minimal manifest whose lineage starts at the source.
func NewClone(src *Manifest, sourceImageName, newImageName string, opts CloneOptions) (*Manifest, error) {
	now := time.Now().UTC()

	var m *Manifest
	if src == nil {
		m = &Manifest{
			Version: SchemaVersion,
			Layers:  Layers{},
		}
	} else {
		copied, err := src.Clone()
		if err != nil {
			return nil, err
		}
		m = copied
	}

	m.Metadata.Parent = sourceImageName
	m.Metadata.Lineage = append(m.Metadata.Lineage, sourceImageName)
	m.Metadata.Created = now
	m.Metadata.CreatedBy = CreatedBy
	m.Metadata.ID = cuid2.Generate()
	m.Metadata.Name = newImageName
	if opts.Description != "" {
		m.Metadata.Description = opts.Description
	}
	m.Tags = append(m.Tags, opts.Tags...)

	note := fmt.Sprintf("Cloned from %s at %s", sourceImageName, now.Format(time.RFC3339))
	if m.Notes != "" {
		m.Notes += "\n"
	}
	m.Notes += note

	return m, nil
}

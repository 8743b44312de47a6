package images

import "time"

// SourceType records what an image was derived from.
type SourceType string

const (
	SourceTypeDistro SourceType = "distro"
	SourceTypeImage  SourceType = "image"
)

// ScopeType scopes an image to the whole machine or one workspace.
type ScopeType string

const (
	ScopeGlobal    ScopeType = "global"
	ScopeWorkspace ScopeType = "workspace"
)

// Scope binds an image to a workspace when its type is workspace.
type Scope struct {
	Type          ScopeType `json:"type"`
	WorkspacePath string    `json:"workspace_path,omitempty"`
	WorkspaceName string    `json:"workspace_name,omitempty"`
}

// ImageMetadata is one entry in the local metadata index, keyed by
// image name. The orchestrator owns these exclusively; the index file
// is loaded fully at startup and rewritten wholesale on every mutation.
type ImageMetadata struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	DisplayName   string     `json:"display_name"`
	Description   string     `json:"description,omitempty"`
	Source        string     `json:"source"`
	SourceType    SourceType `json:"source_type"`
	Created       time.Time  `json:"created"`
	SizeBytes     int64      `json:"size_bytes,omitempty"`
	EngineVersion int        `json:"engine_version"`
	Tags          []string   `json:"tags,omitempty"`
	Author        string     `json:"author,omitempty"`
	HasManifest   bool       `json:"has_manifest"`
	Enabled       bool       `json:"enabled"`
	Scope         *Scope     `json:"scope,omitempty"`
	InstallPath   string     `json:"install_path,omitempty"`
	State         string     `json:"state,omitempty"`
}

// Image is the public view of a provisioned image.
type Image struct {
	ID            string
	Name          string
	DisplayName   string
	Description   string
	Source        string
	SourceType    SourceType
	Created       time.Time
	SizeBytes     int64
	EngineVersion int
	Tags          []string
	Author        string
	HasManifest   bool
	Enabled       bool
	Scope         *Scope
	InstallPath   string
	State         string
}

func (m *ImageMetadata) toImage() *Image {
	return &Image{
		ID:            m.ID,
		Name:          m.Name,
		DisplayName:   m.DisplayName,
		Description:   m.Description,
		Source:        m.Source,
		SourceType:    m.SourceType,
		Created:       m.Created,
		SizeBytes:     m.SizeBytes,
		EngineVersion: m.EngineVersion,
		Tags:          m.Tags,
		Author:        m.Author,
		HasManifest:   m.HasManifest,
		Enabled:       m.Enabled,
		Scope:         m.Scope,
		InstallPath:   m.InstallPath,
		State:         m.State,
	}
}

// CreateOptions customizes provisioning from a template.
type CreateOptions struct {
	InstallPath   string
	DisplayName   string
	Description   string
	Author        string
	Tags          []string
	EngineVersion int // 0 means the manager default
	Scope         *Scope
}

// CloneOptions customizes cloning an existing image.
type CloneOptions struct {
	InstallPath   string
	DisplayName   string
	Description   string
	Author        string
	Tags          []string
	EngineVersion int // 0 means inherit from the source image
	Scope         *Scope
}

// UpdateOptions carries mutable properties for an existing index entry.
// Identity fields (id, name, source, source type, created) are owned by
// the orchestrator and deliberately not expressible here.
type UpdateOptions struct {
	DisplayName *string
	Description *string
	Author      *string
	Tags        *[]string
	Enabled     *bool
	State       *string
	Scope       *Scope
}

// Package manifest defines the versioned provenance record kept inside
// every provisioned image, plus its validation, factory, diff and merge
// algorithms. A manifest is created once, appended to over its life, and
// destroyed only with its image.
package manifest

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the manifest schema version this engine writes and
// validates against.
const SchemaVersion = "1.0.0"

// CreatedBy identifies the tool in metadata.created_by.
const CreatedBy = "imageman"

// Manifest is the versioned provenance record for one image.
type Manifest struct {
	Version     string            `json:"version"`
	Metadata    Metadata          `json:"metadata"`
	Layers      Layers            `json:"layers"`
	Environment map[string]string `json:"environment,omitempty"`
	Features    []string          `json:"features,omitempty"`
	Scripts     []string          `json:"scripts,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Engine      *EngineConfig     `json:"engine,omitempty"`
	Custom      map[string]any    `json:"custom,omitempty"`
}

// Metadata carries identity and lineage for a manifest. Lineage is the
// ordered list of ancestor names, oldest first; it always starts with
// the original template.
type Metadata struct {
	Source      string    `json:"source,omitempty"`
	Parent      string    `json:"parent,omitempty"`
	Lineage     []string  `json:"lineage"`
	Created     time.Time `json:"created,omitzero"`
	CreatedBy   string    `json:"created_by,omitempty"`
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
}

// EngineConfig records image-engine settings captured in the manifest.
type EngineConfig struct {
	Version     *int   `json:"version,omitempty"`
	DefaultUser string `json:"default_user,omitempty"`
	Memory      string `json:"memory,omitempty"`
	Processors  *int   `json:"processors,omitempty"`
	Swap        string `json:"swap,omitempty"`
	BootInit    *bool  `json:"boot_init,omitempty"`
}

// LayerKind discriminates the layer variants.
type LayerKind string

const (
	KindDistro          LayerKind = "distro"
	KindEnvironment     LayerKind = "environment"
	KindBootstrapScript LayerKind = "bootstrap_script"
	KindSettings        LayerKind = "settings"
	KindCustom          LayerKind = "custom"
)

// LayerHeader holds the fields shared by every layer kind.
type LayerHeader struct {
	Type        LayerKind `json:"type"`
	Name        string    `json:"name"`
	Applied     time.Time `json:"applied,omitzero"`
	Description string    `json:"description,omitempty"`
}

// Layer is one immutable, timestamped fact recorded in a manifest. It is
// a closed sum over the five known kinds; UnknownLayer exists only so
// that unrecognized kinds survive decoding and can be reported by the
// validator instead of being dropped.
type Layer interface {
	Header() *LayerHeader
}

// DistroLayer records the base distribution; it is the root layer of a
// normal manifest and always first.
type DistroLayer struct {
	LayerHeader
	Version      string `json:"version,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Source       string `json:"source,omitempty"`
}

// EnvironmentLayer records installed packages or environment changes.
type EnvironmentLayer struct {
	LayerHeader
	Details   string            `json:"details,omitempty"`
	Packages  []string          `json:"packages,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// BootstrapScriptLayer records a script applied to the image.
type BootstrapScriptLayer struct {
	LayerHeader
	Path       string   `json:"path"`
	SHA256     string   `json:"sha256,omitempty"`
	ExitCode   *int     `json:"exit_code,omitempty"`
	Parameters []string `json:"parameters,omitempty"`
}

// SettingsLayer records configuration file edits.
type SettingsLayer struct {
	LayerHeader
	Changes       map[string]map[string]any `json:"changes,omitempty"`
	CreatedFiles  []string                  `json:"created_files,omitempty"`
	ModifiedFiles []string                  `json:"modified_files,omitempty"`
}

// CustomLayer carries an open-ended payload.
type CustomLayer struct {
	LayerHeader
	Data map[string]any `json:"data,omitempty"`
}

// UnknownLayer preserves a layer whose type this engine does not
// recognize. The validator reports it as an error.
type UnknownLayer struct {
	LayerHeader
	Raw json.RawMessage `json:"-"`
}

func (l *DistroLayer) Header() *LayerHeader          { return &l.LayerHeader }
func (l *EnvironmentLayer) Header() *LayerHeader     { return &l.LayerHeader }
func (l *BootstrapScriptLayer) Header() *LayerHeader { return &l.LayerHeader }
func (l *SettingsLayer) Header() *LayerHeader        { return &l.LayerHeader }
func (l *CustomLayer) Header() *LayerHeader          { return &l.LayerHeader }
func (l *UnknownLayer) Header() *LayerHeader         { return &l.LayerHeader }

// Layers is an ordered, append-only sequence of layer records.
type Layers []Layer

// UnmarshalJSON decodes each element into its concrete kind based on the
// "type" discriminator.
func (ls *Layers) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("layers must be a list: %w", err)
	}

	out := make(Layers, 0, len(raws))
	for i, raw := range raws {
		var probe struct {
			Type LayerKind `json:"type"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}

		var l Layer
		switch probe.Type {
		case KindDistro:
			l = &DistroLayer{}
		case KindEnvironment:
			l = &EnvironmentLayer{}
		case KindBootstrapScript:
			l = &BootstrapScriptLayer{}
		case KindSettings:
			l = &SettingsLayer{}
		case KindCustom:
			l = &CustomLayer{}
		default:
			u := &UnknownLayer{Raw: append(json.RawMessage(nil), raw...)}
			if err := json.Unmarshal(raw, &u.LayerHeader); err != nil {
				return fmt.Errorf("layer %d: %w", i, err)
			}
			out = append(out, u)
			continue
		}

		if err := json.Unmarshal(raw, l); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		out = append(out, l)
	}

	*ls = out
	return nil
}

// MarshalJSON round-trips unknown layers byte-for-byte so a re-written
// manifest never loses information it did not understand.
func (l *UnknownLayer) MarshalJSON() ([]byte, error) {
	if len(l.Raw) > 0 {
		return l.Raw, nil
	}
	return json.Marshal(l.LayerHeader)
}

// Parse decodes a serialized manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Serialize encodes the manifest as formatted JSON.
func (m *Manifest) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize manifest: %w", err)
	}
	return data, nil
}

// Clone returns a deep copy via a JSON round trip; all manifest types
// are JSON-complete.
func (m *Manifest) Clone() (*Manifest, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("copy manifest: %w", err)
	}
	return Parse(data)
}

// DistroLayerOf returns the manifest's distro layer, or nil.
func (m *Manifest) DistroLayerOf() *DistroLayer {
	for _, l := range m.Layers {
		if d, ok := l.(*DistroLayer); ok {
			return d
		}
	}
	return nil
}

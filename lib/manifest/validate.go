package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	// maxLayerCount is the advisory ceiling before the validator
	// suggests splitting the manifest.
	maxLayerCount = 50
	// maxSerializedSize is the advisory ceiling on serialized size.
	maxSerializedSize = 1 << 20 // 1 MiB
)

// Report is the outcome of validating a manifest. Errors block writes;
// warnings and suggestions never do.
type Report struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) suggest(s string) {
	r.Suggestions = append(r.Suggestions, s)
}

// Validate checks structural and semantic correctness of a manifest.
// Valid is true iff no errors were recorded.
func Validate(m *Manifest) *Report {
	r := &Report{
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}

	validateVersion(m, r)
	validateMetadata(m, r)
	validateLayers(m, r)
	validateSize(m, r)

	r.Valid = len(r.Errors) == 0
	return r
}

func validateVersion(m *Manifest, r *Report) {
	if m.Version == "" {
		r.errorf("manifest is missing a version")
		return
	}
	if m.Version == SchemaVersion {
		return
	}

	manifestMajor, ok := majorOf(m.Version)
	currentMajor, _ := majorOf(SchemaVersion)
	if !ok {
		r.warnf("manifest version %q is not a recognized semantic version", m.Version)
		r.suggest(fmt.Sprintf("migrate the manifest to schema version %s", SchemaVersion))
		return
	}

	diff := manifestMajor - currentMajor
	if diff > 0 || diff < -1 {
		r.errorf("manifest version %s is incompatible with schema version %s", m.Version, SchemaVersion)
		return
	}
	r.warnf("manifest version %s differs from schema version %s", m.Version, SchemaVersion)
	r.suggest(fmt.Sprintf("migrate the manifest to schema version %s", SchemaVersion))
}

func validateMetadata(m *Manifest, r *Report) {
	md := m.Metadata
	if metadataEmpty(md) {
		r.errorf("manifest is missing metadata")
		return
	}
	if md.ID == "" {
		r.errorf("metadata is missing an id")
	}
	if md.Created.IsZero() {
		r.errorf("metadata is missing a created timestamp")
	}
	if len(md.Lineage) == 0 {
		r.errorf("metadata is missing its lineage chain")
	}
	if md.Name == "" {
		r.warnf("metadata has no name")
	}
}

func validateLayers(m *Manifest, r *Report) {
	if m.Layers == nil {
		r.errorf("manifest is missing its layers list")
		return
	}
	if len(m.Layers) == 0 {
		r.warnf("manifest has no layers")
		return
	}

	hasDistro := false
	for i, l := range m.Layers {
		h := l.Header()
		if h.Type == "" {
			r.errorf("layer %d is missing a type", i)
		} else if _, ok := l.(*UnknownLayer); ok {
			r.errorf("layer %d has unrecognized type %q", i, h.Type)
		}
		if h.Name == "" {
			r.warnf("layer %d has no name", i)
		}
		if h.Applied.IsZero() {
			r.warnf("layer %d has no applied timestamp", i)
		}
		if _, ok := l.(*DistroLayer); ok {
			hasDistro = true
		}
	}
	if !hasDistro {
		r.warnf("manifest has no distro layer")
	}

	if len(m.Layers) > maxLayerCount {
		r.warnf("manifest has %d layers; consider splitting", len(m.Layers))
	}
}

func validateSize(m *Manifest, r *Report) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if len(data) > maxSerializedSize {
		r.warnf("manifest serializes to %d bytes, over the %d byte advisory limit", len(data), maxSerializedSize)
	}
}

// metadataEmpty reports whether every metadata field is unset, which the
// validator treats as metadata being absent altogether.
func metadataEmpty(md Metadata) bool {
	return md.ID == "" && md.Name == "" && md.Source == "" && md.Parent == "" &&
		md.CreatedBy == "" && md.Description == "" &&
		md.Created.IsZero() && len(md.Lineage) == 0
}

// majorOf extracts the major component of a semantic version string.
func majorOf(version string) (int, bool) {
	head, _, _ := strings.Cut(strings.TrimPrefix(version, "v"), ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return major, true
}

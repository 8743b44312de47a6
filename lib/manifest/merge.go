package manifest

// Merge combines two manifests. Top-level fields are shallow-merged with
// overlay winning on conflicts; layers, lineage and tags are
// concatenated base-first. Duplicates in the concatenated lineage are
// allowed; callers de-duplicate if they need to.
func Merge(base, overlay *Manifest) (*Manifest, error) {
	m, err := base.Clone()
	if err != nil {
		return nil, err
	}

	if overlay.Version != "" {
		m.Version = overlay.Version
	}

	baseLineage := m.Metadata.Lineage
	if !metadataEmpty(overlay.Metadata) {
		m.Metadata = overlay.Metadata
	}
	m.Metadata.Lineage = append(append([]string{}, baseLineage...), overlay.Metadata.Lineage...)

	m.Layers = append(m.Layers, overlay.Layers...)
	m.Tags = append(m.Tags, overlay.Tags...)

	if overlay.Environment != nil {
		m.Environment = overlay.Environment
	}
	if overlay.Features != nil {
		m.Features = overlay.Features
	}
	if overlay.Scripts != nil {
		m.Scripts = overlay.Scripts
	}
	if overlay.Notes != "" {
		m.Notes = overlay.Notes
	}
	if overlay.Engine != nil {
		m.Engine = overlay.Engine
	}
	if overlay.Custom != nil {
		m.Custom = overlay.Custom
	}

	return m, nil
}

package manifest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDiffSelfIsEmpty(t *testing.T) {
	m := NewFromTemplate("Ubuntu", "dev1", FreshOptions{TemplateVersion: "24.04"})
	m.Environment = map[string]string{"EDITOR": "vim"}

	d := Compute(m, m)
	require.Empty(t, d.AddedLayers)
	require.Empty(t, d.RemovedLayers)
	require.Empty(t, d.Environment)
	require.Empty(t, d.AddedTags)
	require.Empty(t, d.RemovedTags)
	require.Empty(t, d.Metadata)
}

func TestDiffAddedLayers(t *testing.T) {
	oldM := NewFromTemplate("Ubuntu", "dev1", FreshOptions{})
	newM, err := oldM.Clone()
	require.NoError(t, err)
	newM.Layers = append(newM.Layers, &EnvironmentLayer{
		LayerHeader: LayerHeader{Type: KindEnvironment, Name: "build tools", Applied: time.Now()},
		Packages:    []string{"gcc", "make"},
	})

	d := Compute(oldM, newM)
	require.Len(t, d.AddedLayers, 1)
	require.Empty(t, d.RemovedLayers)
}

func TestDiffRemovedLayersFlagAnomaly(t *testing.T) {
	// Forward-only history never removes layers; a removal must be
	// reported, not swallowed.
	oldM := NewFromTemplate("Ubuntu", "dev1", FreshOptions{})
	newM, err := oldM.Clone()
	require.NoError(t, err)
	newM.Layers = Layers{}

	d := Compute(oldM, newM)
	require.Len(t, d.RemovedLayers, 1)
}

func TestDiffEnvironment(t *testing.T) {
	oldM := NewFromTemplate("Ubuntu", "dev1", FreshOptions{})
	oldM.Environment = map[string]string{"EDITOR": "vim", "LANG": "C"}
	newM, err := oldM.Clone()
	require.NoError(t, err)
	newM.Environment = map[string]string{"EDITOR": "emacs", "TERM": "xterm"}

	d := Compute(oldM, newM)
	require.Len(t, d.Environment, 3)
	require.Equal(t, Change{Old: "vim", New: "emacs"}, d.Environment["EDITOR"])
	require.Equal(t, Change{Old: "C", New: nil}, d.Environment["LANG"])
	require.Equal(t, Change{Old: nil, New: "xterm"}, d.Environment["TERM"])
}

func TestDiffTags(t *testing.T) {
	oldM := NewFromTemplate("Ubuntu", "dev1", FreshOptions{})
	newM, err := oldM.Clone()
	require.NoError(t, err)
	newM.Tags = []string{"pristine", "golang"}

	d := Compute(oldM, newM)
	require.Equal(t, []string{"golang"}, d.AddedTags)
	require.Equal(t, []string{"ubuntu"}, d.RemovedTags)
}

func TestDiffMetadata(t *testing.T) {
	oldM := NewFromTemplate("Ubuntu", "dev1", FreshOptions{})
	newM, err := oldM.Clone()
	require.NoError(t, err)
	newM.Metadata.Description = "updated"

	d := Compute(oldM, newM)
	require.Contains(t, d.Metadata, "description")
	require.Equal(t, "updated", d.Metadata["description"].New)
}

func TestMergeConcatenatesLayersLineageTags(t *testing.T) {
	base := NewFromTemplate("Ubuntu", "dev1", FreshOptions{})
	overlay := NewFromTemplate("Debian", "dev2", FreshOptions{})

	merged, err := Merge(base, overlay)
	require.NoError(t, err)

	require.Len(t, merged.Layers, len(base.Layers)+len(overlay.Layers))
	require.Equal(t, []string{"Ubuntu", "Debian"}, merged.Metadata.Lineage)
	require.Equal(t, []string{"pristine", "ubuntu", "pristine", "debian"}, merged.Tags)
}

func TestMergeOverlayWins(t *testing.T) {
	base := NewFromTemplate("Ubuntu", "dev1", FreshOptions{})
	base.Environment = map[string]string{"EDITOR": "vim"}
	base.Notes = "base notes"

	overlay := NewFromTemplate("Ubuntu", "dev2", FreshOptions{})
	overlay.Environment = map[string]string{"EDITOR": "emacs"}
	overlay.Notes = "overlay notes"

	merged, err := Merge(base, overlay)
	require.NoError(t, err)

	require.Equal(t, "dev2", merged.Metadata.Name)
	require.Equal(t, "emacs", merged.Environment["EDITOR"])
	require.Equal(t, "overlay notes", merged.Notes)
}

func TestMergeAllowsDuplicateLineage(t *testing.T) {
	base := NewFromTemplate("Ubuntu", "dev1", FreshOptions{})
	overlay := NewFromTemplate("Ubuntu", "dev2", FreshOptions{})

	merged, err := Merge(base, overlay)
	require.NoError(t, err)
	// De-duplication is the caller's responsibility.
	require.Equal(t, []string{"Ubuntu", "Ubuntu"}, merged.Metadata.Lineage)
}

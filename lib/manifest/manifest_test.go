package manifest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLayersDecodeConcreteKinds(t *testing.T) {
	data := []byte(`{
		"version": "1.0.0",
		"metadata": {"id": "abc", "name": "dev1", "lineage": ["Ubuntu"], "created": "2026-01-02T03:04:05Z"},
		"layers": [
			{"type": "distro", "name": "Ubuntu", "applied": "2026-01-02T03:04:05Z", "version": "24.04"},
			{"type": "bootstrap_script", "name": "setup", "applied": "2026-01-02T03:05:00Z", "path": "/opt/setup.sh", "exit_code": 0},
			{"type": "settings", "name": "wsl", "applied": "2026-01-02T03:06:00Z", "changes": {"/etc/wsl.conf": {"boot": true}}}
		]
	}`)

	m, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, m.Layers, 3)

	distro, ok := m.Layers[0].(*DistroLayer)
	require.True(t, ok)
	require.Equal(t, "24.04", distro.Version)

	script, ok := m.Layers[1].(*BootstrapScriptLayer)
	require.True(t, ok)
	require.Equal(t, "/opt/setup.sh", script.Path)
	require.NotNil(t, script.ExitCode)
	require.Equal(t, 0, *script.ExitCode)

	settings, ok := m.Layers[2].(*SettingsLayer)
	require.True(t, ok)
	require.Contains(t, settings.Changes, "/etc/wsl.conf")
}

func TestLayersPreserveUnknownKind(t *testing.T) {
	data := []byte(`{
		"version": "1.0.0",
		"metadata": {"id": "abc", "lineage": ["Ubuntu"], "created": "2026-01-02T03:04:05Z"},
		"layers": [{"type": "hologram", "name": "future", "applied": "2026-01-02T03:04:05Z", "shimmer": 9}]
	}`)

	m, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, m.Layers, 1)

	unknown, ok := m.Layers[0].(*UnknownLayer)
	require.True(t, ok)
	require.Equal(t, LayerKind("hologram"), unknown.Type)

	// Round trip must not lose the fields we did not understand.
	out, err := m.Serialize()
	require.NoError(t, err)
	require.Contains(t, string(out), `"shimmer"`)
}

func TestLayersRejectNonList(t *testing.T) {
	_, err := Parse([]byte(`{"version": "1.0.0", "layers": {"type": "distro"}}`))
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	m := NewFromTemplate("Debian", "base", FreshOptions{})
	copied, err := m.Clone()
	require.NoError(t, err)

	copied.Metadata.Lineage[0] = "changed"
	copied.DistroLayerOf().Name = "changed"

	require.Equal(t, "Debian", m.Metadata.Lineage[0])
	require.Equal(t, "Debian", m.DistroLayerOf().Name)
}

func TestSerializeOmitsEmptyOptionalFields(t *testing.T) {
	m := NewFromTemplate("Alpine", "tiny", FreshOptions{})
	out, err := m.Serialize()
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.NotContains(t, decoded, "environment")
	require.NotContains(t, decoded, "engine")
	require.NotContains(t, decoded, "notes")
}

func TestNewFromTemplate(t *testing.T) {
	m := NewFromTemplate("Ubuntu", "dev1", FreshOptions{
		TemplateVersion: "24.04",
		Description:     "primary dev box",
		Author:          "sam",
	})

	require.Equal(t, SchemaVersion, m.Version)
	require.Equal(t, []string{"Ubuntu"}, m.Metadata.Lineage)
	require.Equal(t, "dev1", m.Metadata.Name)
	require.Equal(t, "Ubuntu", m.Metadata.Source)
	require.NotEmpty(t, m.Metadata.ID)
	require.WithinDuration(t, time.Now(), m.Metadata.Created, time.Minute)

	require.Len(t, m.Layers, 1)
	distro := m.DistroLayerOf()
	require.NotNil(t, distro)
	require.Equal(t, "Ubuntu", distro.Name)
	require.Equal(t, "24.04", distro.Version)

	require.Equal(t, []string{"pristine", "ubuntu"}, m.Tags)
	require.Equal(t, "sam", m.Custom["author"])
}

func TestNewClone(t *testing.T) {
	src := NewFromTemplate("Ubuntu", "dev1", FreshOptions{TemplateVersion: "24.04"})

	clone, err := NewClone(src, "dev1", "dev2", CloneOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{"Ubuntu", "dev1"}, clone.Metadata.Lineage)
	require.Equal(t, "dev1", clone.Metadata.Parent)
	require.Equal(t, "dev2", clone.Metadata.Name)
	require.NotEqual(t, src.Metadata.ID, clone.Metadata.ID)
	require.Contains(t, clone.Notes, "Cloned from dev1")

	// Layers carry over unchanged: a clone is a metadata fork.
	require.Len(t, clone.Layers, len(src.Layers))
}

func TestNewCloneChain(t *testing.T) {
	m := NewFromTemplate("Ubuntu", "dev1", FreshOptions{})
	c1, err := NewClone(m, "dev1", "dev2", CloneOptions{})
	require.NoError(t, err)
	c2, err := NewClone(c1, "dev2", "dev3", CloneOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{"Ubuntu", "dev1", "dev2"}, c2.Metadata.Lineage)
}

func TestNewCloneWithoutSourceManifest(t *testing.T) {
	clone, err := NewClone(nil, "legacy", "fresh", CloneOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{"legacy"}, clone.Metadata.Lineage)
	require.Equal(t, "legacy", clone.Metadata.Parent)
	require.NotNil(t, clone.Layers)
	require.Empty(t, clone.Layers)
}

package images

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imgforge/imageman/lib/catalog"
	"github.com/imgforge/imageman/lib/engine"
	"github.com/imgforge/imageman/lib/manifeststore"
	"github.com/imgforge/imageman/lib/paths"
)

type importCall struct {
	name        string
	installPath string
	archivePath string
	version     int
}

// fakeEngine emulates the external imaging tool: a set of named images,
// each with an in-memory guest filesystem reachable through Run.
type fakeEngine struct {
	mu          sync.Mutex
	images      map[string]map[string]string
	importCalls []importCall
	failImport  bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{images: map[string]map[string]string{}}
}

func (f *fakeEngine) Import(ctx context.Context, name, installPath, archivePath string, version int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.importCalls = append(f.importCalls, importCall{name, installPath, archivePath, version})
	if f.failImport {
		return fmt.Errorf("import refused")
	}
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("archive not found: %w", err)
	}
	f.images[name] = map[string]string{}
	return nil
}

func (f *fakeEngine) Export(ctx context.Context, name, archivePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.images[name]; !ok {
		return fmt.Errorf("unknown image %q", name)
	}
	return os.WriteFile(archivePath, []byte("export:"+name), 0644)
}

func (f *fakeEngine) Unregister(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.images[name]; !ok {
		return fmt.Errorf("unknown image %q", name)
	}
	delete(f.images, name)
	return nil
}

func (f *fakeEngine) ListNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.images))
	for name := range f.images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

var (
	existsRe = regexp.MustCompile(`^\[ -f (\S+) \] && echo exists$`)
	printfRe = regexp.MustCompile(`(?s)^printf '%b' "(.*)" > (\S+)$`)
	backupRe = regexp.MustCompile(`^cp (\S+) (\S+) 2>/dev/null \|\| true$`)
)

func (f *fakeEngine) Run(ctx context.Context, name, command string) (engine.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	files, ok := f.images[name]
	if !ok {
		return engine.RunResult{ExitCode: 1, Stderr: "no such image"}, nil
	}

	switch {
	case command == "echo ok":
		return engine.RunResult{Stdout: "ok\n"}, nil
	case strings.HasPrefix(command, "mkdir -p "), strings.HasPrefix(command, "chmod "):
		return engine.RunResult{}, nil
	}
	if m := existsRe.FindStringSubmatch(command); m != nil {
		if _, ok := files[m[1]]; ok {
			return engine.RunResult{Stdout: "exists\n"}, nil
		}
		return engine.RunResult{ExitCode: 1}, nil
	}
	if m := backupRe.FindStringSubmatch(command); m != nil {
		if content, ok := files[m[1]]; ok {
			files[m[2]] = content
		}
		return engine.RunResult{}, nil
	}
	if m := printfRe.FindStringSubmatch(command); m != nil {
		files[m[2]] = unescape(m[1])
		return engine.RunResult{}, nil
	}
	if strings.HasPrefix(command, "cat ") {
		if content, ok := files[strings.TrimPrefix(command, "cat ")]; ok {
			return engine.RunResult{Stdout: content}, nil
		}
		return engine.RunResult{ExitCode: 1}, nil
	}
	return engine.RunResult{ExitCode: 127, Stderr: "unhandled: " + command}, nil
}

// unescape reverses the store's shell escaping the way sh followed by
// printf '%b' would: double-quote removal first, escape expansion second.
func unescape(s string) string {
	var unquoted strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '$', '`', '"', '\\':
				unquoted.WriteByte(s[i+1])
				i++
				continue
			}
		}
		unquoted.WriteByte(s[i])
	}

	q := unquoted.String()
	var out strings.Builder
	for i := 0; i < len(q); i++ {
		if q[i] == '\\' && i+1 < len(q) {
			switch q[i+1] {
			case 'n':
				out.WriteByte('\n')
				i++
				continue
			case 't':
				out.WriteByte('\t')
				i++
				continue
			case '\\':
				out.WriteByte('\\')
				i++
				continue
			}
		}
		out.WriteByte(q[i])
	}
	return out.String()
}

// newTestManager wires a manager over a temp data directory with a
// three-entry template catalog: Ubuntu (materialized tarball), Debian
// (listed but not downloaded) and Packed (a zip container holding an
// inner install.tar.gz).
func newTestManager(t *testing.T) (Manager, *fakeEngine, *paths.Paths) {
	t.Helper()

	p := paths.New(t.TempDir())
	require.NoError(t, os.MkdirAll(p.TemplatesDir(), 0755))

	indexYAML := `templates:
  - name: Ubuntu
    version: "24.04"
    file: ubuntu-24.04.tar.gz
  - name: Debian
    version: "12"
    file: debian-12.tar.gz
  - name: Packed
    version: "1.0"
    file: packed-1.0.zip
`
	require.NoError(t, os.WriteFile(p.TemplatesIndex(), []byte(indexYAML), 0644))

	// Gzip magic is enough for format sniffing; the fake engine never
	// actually unpacks the archive.
	require.NoError(t, os.WriteFile(p.TemplateArchive("ubuntu-24.04.tar.gz"),
		[]byte{0x1f, 0x8b, 0x08, 0x00, 0x01, 0x02, 0x03, 0x04}, 0644))

	writeZip(t, p.TemplateArchive("packed-1.0.zip"), map[string]string{
		"readme.txt":             "packed template",
		"payload/install.tar.gz": "inner rootfs bytes",
	})

	eng := newFakeEngine()
	mgr, err := NewManager(p, eng, catalog.NewLocal(p), manifeststore.New(eng))
	require.NoError(t, err)
	return mgr, eng, p
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestCreateFromTemplate(t *testing.T) {
	mgr, eng, p := newTestManager(t)
	ctx := context.Background()

	img, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{
		Description: "primary dev image",
		Author:      "sam",
		Tags:        []string{"team-a"},
	})
	require.NoError(t, err)
	require.Equal(t, "dev1", img.Name)
	require.Equal(t, "Ubuntu", img.Source)
	require.Equal(t, SourceTypeDistro, img.SourceType)
	require.True(t, img.HasManifest)
	require.True(t, img.Enabled)
	require.NotEmpty(t, img.ID)
	require.DirExists(t, p.DefaultInstallDir("dev1"))

	require.Len(t, eng.importCalls, 1)
	require.Equal(t, defaultEngineVersion, eng.importCalls[0].version)

	got, err := manifeststore.New(eng).Read(ctx, "dev1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []string{"Ubuntu"}, got.Metadata.Lineage)
	require.Len(t, got.Layers, 1)
}

func TestCreateTemplateLookupIsCaseInsensitive(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.CreateFromTemplate(context.Background(), "ubuntu", "dev1", CreateOptions{})
	require.NoError(t, err)
}

func TestCreateUnknownTemplate(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.CreateFromTemplate(context.Background(), "Arch", "dev1", CreateOptions{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTemplateNotDownloaded(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.CreateFromTemplate(context.Background(), "Debian", "dev1", CreateOptions{})
	require.ErrorIs(t, err, ErrNotAvailableLocally)
}

func TestCreateNameCollision(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{})
	require.NoError(t, err)

	_, err = mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateImportFailureRollsBack(t *testing.T) {
	mgr, eng, p := newTestManager(t)
	eng.failImport = true

	_, err := mgr.CreateFromTemplate(context.Background(), "Ubuntu", "dev1", CreateOptions{})
	require.ErrorIs(t, err, ErrEngineOperation)

	require.NoDirExists(t, p.DefaultInstallDir("dev1"))
	names, err := eng.ListNames(context.Background())
	require.NoError(t, err)
	require.Empty(t, names)
	_, ok := loadIndexEntries(t, p)["dev1"]
	require.False(t, ok)
}

func TestCreateFromContainerTemplate(t *testing.T) {
	mgr, eng, p := newTestManager(t)
	ctx := context.Background()

	img, err := mgr.CreateFromTemplate(ctx, "Packed", "dev1", CreateOptions{})
	require.NoError(t, err)
	require.Equal(t, "Packed", img.Source)

	// The import must have consumed the re-extracted inner archive, and
	// the intermediate must be gone afterwards.
	require.Len(t, eng.importCalls, 1)
	canonical := p.TemplateArchive("packed-1.0.zip") + ".rootfs.tar.gz"
	require.Equal(t, canonical, eng.importCalls[0].archivePath)
	require.NoFileExists(t, canonical)
}

func TestCreateContainerWithoutInnerArchive(t *testing.T) {
	mgr, _, p := newTestManager(t)
	writeZip(t, p.TemplateArchive("packed-1.0.zip"), map[string]string{
		"readme.txt": "nothing importable here",
	})

	_, err := mgr.CreateFromTemplate(context.Background(), "Packed", "dev1", CreateOptions{})
	require.ErrorIs(t, err, ErrExtractionFailed)
	require.NoDirExists(t, p.DefaultInstallDir("dev1"))
}

func TestClone(t *testing.T) {
	mgr, eng, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{Author: "sam"})
	require.NoError(t, err)

	img, err := mgr.Clone(ctx, "dev1", "dev2", CloneOptions{Description: "experiment"})
	require.NoError(t, err)
	require.Equal(t, "dev2", img.Name)
	require.Equal(t, "dev1", img.Source)
	require.Equal(t, SourceTypeImage, img.SourceType)
	require.Equal(t, "sam", img.Author)

	got, err := manifeststore.New(eng).Read(ctx, "dev2")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []string{"Ubuntu", "dev1"}, got.Metadata.Lineage)
	require.Contains(t, got.Notes, "Cloned from dev1")
}

func TestCloneOfCloneKeepsLineage(t *testing.T) {
	mgr, eng, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{})
	require.NoError(t, err)
	_, err = mgr.Clone(ctx, "dev1", "dev2", CloneOptions{})
	require.NoError(t, err)
	_, err = mgr.Clone(ctx, "dev2", "dev3", CloneOptions{})
	require.NoError(t, err)

	// The second-generation manifest carries a multi-line Notes field;
	// it must still read back as a parseable manifest with the full
	// chain intact.
	got, err := manifeststore.New(eng).Read(ctx, "dev3")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []string{"Ubuntu", "dev1", "dev2"}, got.Metadata.Lineage)
}

func TestCloneMissingSource(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	_, err := mgr.Clone(context.Background(), "ghost", "dev2", CloneOptions{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCloneNameCollision(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{})
	require.NoError(t, err)

	_, err = mgr.Clone(ctx, "dev1", "dev1", CloneOptions{})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCloneFailureRollsBackTarget(t *testing.T) {
	mgr, eng, p := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{})
	require.NoError(t, err)

	eng.failImport = true
	_, err = mgr.Clone(ctx, "dev1", "dev2", CloneOptions{})
	require.ErrorIs(t, err, ErrEngineOperation)

	names, listErr := eng.ListNames(ctx)
	require.NoError(t, listErr)
	require.Equal(t, []string{"dev1"}, names)
	require.NoDirExists(t, p.DefaultInstallDir("dev2"))
	_, ok := loadIndexEntries(t, p)["dev2"]
	require.False(t, ok)

	// Export intermediates must not accumulate.
	entries, readErr := os.ReadDir(p.ScratchDir())
	require.NoError(t, readErr)
	require.Empty(t, entries)
}

func TestCloneSourceWithoutManifest(t *testing.T) {
	mgr, eng, _ := newTestManager(t)
	ctx := context.Background()

	// An image provisioned outside the tool: live, but no manifest.
	eng.images["legacy"] = map[string]string{}

	img, err := mgr.Clone(ctx, "legacy", "dev2", CloneOptions{})
	require.NoError(t, err)
	require.True(t, img.HasManifest)

	got, err := manifeststore.New(eng).Read(ctx, "dev2")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []string{"legacy"}, got.Metadata.Lineage)
}

func TestDelete(t *testing.T) {
	mgr, eng, p := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, "dev1"))

	exists, err := mgr.Exists(ctx, "dev1")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoDirExists(t, p.DefaultInstallDir("dev1"))
	require.Empty(t, loadIndexEntries(t, p))

	names, err := eng.ListNames(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestDeleteUnknownImage(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	err := mgr.Delete(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListReconcilesIndex(t *testing.T) {
	mgr, eng, p := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{})
	require.NoError(t, err)

	// Simulate outside interference: dev1 removed with the external
	// tool directly, and an untracked image registered behind our back.
	delete(eng.images, "dev1")
	eng.images["legacy"] = map[string]string{}

	images, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.Equal(t, "legacy", images[0].Name)
	require.Equal(t, "unknown", images[0].Source)
	require.Equal(t, SourceTypeDistro, images[0].SourceType)
	require.True(t, images[0].Enabled)
	require.False(t, images[0].HasManifest)
	require.NotEmpty(t, images[0].ID)

	// The healed state is persisted, not just returned.
	entries := loadIndexEntries(t, p)
	require.Contains(t, entries, "legacy")
	require.NotContains(t, entries, "dev1")
}

func TestGet(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{})
	require.NoError(t, err)

	img, err := mgr.Get(ctx, "dev1")
	require.NoError(t, err)
	require.Equal(t, "dev1", img.Name)

	_, err = mgr.Get(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProperties(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.CreateFromTemplate(ctx, "Ubuntu", "dev1", CreateOptions{})
	require.NoError(t, err)

	displayName := "Dev Box"
	enabled := false
	img, err := mgr.UpdateProperties(ctx, "dev1", UpdateOptions{
		DisplayName: &displayName,
		Enabled:     &enabled,
	})
	require.NoError(t, err)
	require.Equal(t, "Dev Box", img.DisplayName)
	require.False(t, img.Enabled)
	// Untouched fields survive.
	require.Equal(t, "Ubuntu", img.Source)

	_, err = mgr.UpdateProperties(ctx, "ghost", UpdateOptions{})
	require.ErrorIs(t, err, ErrNotFound)
}

// loadIndexEntries reads the on-disk index file fresh, bypassing the
// manager's in-memory copy.
func loadIndexEntries(t *testing.T, p *paths.Paths) map[string]*ImageMetadata {
	t.Helper()

	ix, err := loadIndex(p.IndexFile())
	require.NoError(t, err)
	return ix.snapshot()
}

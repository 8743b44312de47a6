// Package images implements the provisioning orchestrator: the
// create/clone/delete/list workflows that sequence the catalog, the
// archive sniffer, the external imaging tool and the in-image manifest
// store, while maintaining the local metadata index.
package images

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/metric"

	"github.com/imgforge/imageman/lib/archive"
	"github.com/imgforge/imageman/lib/catalog"
	"github.com/imgforge/imageman/lib/engine"
	"github.com/imgforge/imageman/lib/logger"
	"github.com/imgforge/imageman/lib/manifest"
	"github.com/imgforge/imageman/lib/manifeststore"
	"github.com/imgforge/imageman/lib/paths"
)

const (
	defaultEngineVersion  = 2
	defaultMaxExtractSize = 4 << 30 // 4 GiB
)

// Manager is the image provisioning orchestrator. There is no
// long-lived state machine per image: state is derived on every call
// from the engine's live image list plus the local metadata index.
type Manager interface {
	CreateFromTemplate(ctx context.Context, templateName, imageName string, opts CreateOptions) (*Image, error)
	Clone(ctx context.Context, sourceName, targetName string, opts CloneOptions) (*Image, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]Image, error)
	Get(ctx context.Context, name string) (*Image, error)
	Exists(ctx context.Context, name string) (bool, error)
	UpdateProperties(ctx context.Context, name string, opts UpdateOptions) (*Image, error)
}

type manager struct {
	paths   *paths.Paths
	engine  engine.Engine
	catalog catalog.Catalog
	store   *manifeststore.Store
	index   *index
	metrics *Metrics

	engineVersion   int
	maxExtractBytes int64

	// provisionMu serializes the existence check against the import in
	// create and clone, so two concurrent calls cannot both pass the
	// collision check for the same name.
	provisionMu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*manager)

// WithMeter enables metrics on the given meter.
func WithMeter(meter metric.Meter) ManagerOption {
	return func(m *manager) {
		metrics, err := newMetrics(meter, m)
		if err == nil {
			m.metrics = metrics
		}
	}
}

// WithDefaultEngineVersion overrides the engine version used when a
// caller does not specify one.
func WithDefaultEngineVersion(v int) ManagerOption {
	return func(m *manager) { m.engineVersion = v }
}

// WithMaxExtractBytes bounds container re-extraction.
func WithMaxExtractBytes(n int64) ManagerOption {
	return func(m *manager) { m.maxExtractBytes = n }
}

// NewManager creates an image manager over the given collaborators and
// loads the metadata index.
func NewManager(p *paths.Paths, eng engine.Engine, cat catalog.Catalog, store *manifeststore.Store, opts ...ManagerOption) (Manager, error) {
	ix, err := loadIndex(p.IndexFile())
	if err != nil {
		return nil, err
	}

	m := &manager{
		paths:           p,
		engine:          eng,
		catalog:         cat,
		store:           store,
		index:           ix,
		engineVersion:   defaultEngineVersion,
		maxExtractBytes: defaultMaxExtractSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *manager) CreateFromTemplate(ctx context.Context, templateName, imageName string, opts CreateOptions) (*Image, error) {
	log := logger.WithImage(ctx, imageName)
	start := time.Now()

	tpl, err := m.catalog.GetTemplate(ctx, templateName)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("%w: template %q", ErrNotFound, templateName)
		}
		return nil, err
	}
	if !tpl.Available {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailableLocally, templateName)
	}

	m.provisionMu.Lock()
	defer m.provisionMu.Unlock()

	live, err := m.liveNames(ctx)
	if err != nil {
		return nil, err
	}
	if lo.Contains(live, imageName) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, imageName)
	}

	installPath := opts.InstallPath
	if installPath == "" {
		installPath = m.paths.DefaultInstallDir(imageName)
	}
	if err := os.MkdirAll(installPath, 0755); err != nil {
		return nil, fmt.Errorf("create install directory: %w", err)
	}

	// Everything past this point has external side effects; failures
	// unwind via compensating actions. Residual state after a failed
	// compensation is an accepted risk, not a guarantee.
	img, err := m.provision(ctx, tpl, templateName, imageName, installPath, opts)
	if err != nil {
		log.Warn("provisioning failed, rolling back", "error", err)
		m.rollback(ctx, imageName, installPath)
		m.recordOperation(ctx, "create", "failed")
		return nil, err
	}

	m.recordOperation(ctx, "create", "ok")
	m.recordImportDuration(ctx, time.Since(start))
	log.Info("image created", "template", templateName, "install_path", installPath)
	return img, nil
}

// provision is the side-effecting middle of CreateFromTemplate; the
// caller handles rollback.
func (m *manager) provision(ctx context.Context, tpl *catalog.Template, templateName, imageName, installPath string, opts CreateOptions) (*Image, error) {
	log := logger.WithImage(ctx, imageName)

	archivePath := tpl.FilePath
	reextracted := false
	if archive.Detect(ctx, archivePath) == archive.FormatContainer {
		log.Info("template is a container format, re-extracting", "path", archivePath)
		inner, err := archive.ExtractInner(ctx, archivePath, m.maxExtractBytes)
		if err != nil {
			if errors.Is(err, archive.ErrNoInnerArchive) {
				return nil, fmt.Errorf("%w: %s", ErrExtractionFailed, templateName)
			}
			return nil, fmt.Errorf("re-extract template %q: %w", templateName, err)
		}
		archivePath = inner
		reextracted = true
	}

	version := opts.EngineVersion
	if version == 0 {
		version = m.engineVersion
	}

	if err := m.engine.Import(ctx, imageName, installPath, archivePath, version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineOperation, err)
	}
	if reextracted {
		// The canonical re-extraction product is only an import
		// intermediate.
		if err := os.Remove(archivePath); err != nil {
			log.Debug("could not remove re-extracted archive", "path", archivePath, "error", err)
		}
	}

	man := manifest.NewFromTemplate(templateName, imageName, manifest.FreshOptions{
		TemplateVersion: tpl.Version,
		Source:          tpl.File,
		Description:     opts.Description,
		Author:          opts.Author,
		Tags:            opts.Tags,
	})
	if err := m.store.Write(ctx, imageName, man, manifeststore.WriteOptions{Validate: true}); err != nil {
		return nil, err
	}

	meta := &ImageMetadata{
		ID:            man.Metadata.ID,
		Name:          imageName,
		DisplayName:   orDefault(opts.DisplayName, imageName),
		Description:   opts.Description,
		Source:        templateName,
		SourceType:    SourceTypeDistro,
		Created:       time.Now().UTC(),
		SizeBytes:     tpl.Size,
		EngineVersion: version,
		Tags:          opts.Tags,
		Author:        opts.Author,
		HasManifest:   true,
		Enabled:       true,
		Scope:         opts.Scope,
		InstallPath:   installPath,
	}
	if err := m.index.put(meta); err != nil {
		return nil, err
	}
	return meta.toImage(), nil
}

// rollback best-effort unregisters a partially created image and
// removes its install directory. Both failures are swallowed; the
// original provisioning error is what the caller sees.
func (m *manager) rollback(ctx context.Context, imageName, installPath string) {
	log := logger.WithImage(ctx, imageName)
	if err := m.engine.Unregister(ctx, imageName); err != nil {
		log.Debug("rollback unregister failed", "error", err)
	}
	if err := os.RemoveAll(installPath); err != nil {
		log.Debug("rollback install dir removal failed", "path", installPath, "error", err)
	}
}

func (m *manager) Clone(ctx context.Context, sourceName, targetName string, opts CloneOptions) (*Image, error) {
	log := logger.WithImage(ctx, targetName)
	start := time.Now()

	m.provisionMu.Lock()
	defer m.provisionMu.Unlock()

	live, err := m.liveNames(ctx)
	if err != nil {
		return nil, err
	}
	if !lo.Contains(live, sourceName) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sourceName)
	}
	if lo.Contains(live, targetName) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, targetName)
	}

	installPath := opts.InstallPath
	if installPath == "" {
		installPath = m.paths.DefaultInstallDir(targetName)
	}

	if err := os.MkdirAll(m.paths.ScratchDir(), 0755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	tempDir, err := os.MkdirTemp(m.paths.ScratchDir(), "clone-"+cuid2.Generate()+"-")
	if err != nil {
		return nil, fmt.Errorf("create clone temp dir: %w", err)
	}
	// The intermediate archive directory goes away no matter how the
	// clone ends.
	defer os.RemoveAll(tempDir)

	img, err := m.cloneInto(ctx, sourceName, targetName, installPath, tempDir, opts)
	if err != nil {
		// Symmetric with create: a target that was imported but never
		// finished registering is unwound rather than left behind.
		log.Warn("clone failed, rolling back target", "source", sourceName, "error", err)
		m.rollback(ctx, targetName, installPath)
		m.recordOperation(ctx, "clone", "failed")
		return nil, err
	}

	m.recordOperation(ctx, "clone", "ok")
	m.recordImportDuration(ctx, time.Since(start))
	log.Info("image cloned", "source", sourceName, "install_path", installPath)
	return img, nil
}

func (m *manager) cloneInto(ctx context.Context, sourceName, targetName, installPath, tempDir string, opts CloneOptions) (*Image, error) {
	archivePath := filepath.Join(tempDir, sourceName+".tar")
	if err := m.engine.Export(ctx, sourceName, archivePath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineOperation, err)
	}

	if err := os.MkdirAll(installPath, 0755); err != nil {
		return nil, fmt.Errorf("create install directory: %w", err)
	}

	srcMeta, _ := m.index.get(sourceName)

	version := opts.EngineVersion
	if version == 0 {
		if srcMeta != nil && srcMeta.EngineVersion != 0 {
			version = srcMeta.EngineVersion
		} else {
			version = m.engineVersion
		}
	}

	if err := m.engine.Import(ctx, targetName, installPath, archivePath, version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineOperation, err)
	}

	srcManifest, err := m.store.Read(ctx, sourceName)
	if err != nil {
		return nil, err
	}
	cloneManifest, err := manifest.NewClone(srcManifest, sourceName, targetName, manifest.CloneOptions{
		Description: opts.Description,
		Tags:        opts.Tags,
	})
	if err != nil {
		return nil, err
	}
	if err := m.store.Write(ctx, targetName, cloneManifest, manifeststore.WriteOptions{Validate: true}); err != nil {
		return nil, err
	}

	meta := &ImageMetadata{
		ID:            cloneManifest.Metadata.ID,
		Name:          targetName,
		DisplayName:   orDefault(opts.DisplayName, targetName),
		Description:   opts.Description,
		Source:        sourceName,
		SourceType:    SourceTypeImage,
		Created:       time.Now().UTC(),
		EngineVersion: version,
		Tags:          opts.Tags,
		Author:        opts.Author,
		HasManifest:   true,
		Enabled:       true,
		Scope:         opts.Scope,
		InstallPath:   installPath,
	}
	if srcMeta != nil {
		meta.SizeBytes = srcMeta.SizeBytes
		if meta.Author == "" {
			meta.Author = srcMeta.Author
		}
		if meta.Scope == nil {
			meta.Scope = srcMeta.Scope
		}
	}
	if err := m.index.put(meta); err != nil {
		return nil, err
	}
	return meta.toImage(), nil
}

func (m *manager) Delete(ctx context.Context, name string) error {
	log := logger.WithImage(ctx, name)

	live, err := m.liveNames(ctx)
	if err != nil {
		return err
	}
	if !lo.Contains(live, name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := m.engine.Unregister(ctx, name); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineOperation, err)
	}

	if meta, ok := m.index.get(name); ok && meta.InstallPath != "" {
		// Best-effort: a stubborn directory should not block removal of
		// the metadata entry.
		if err := os.RemoveAll(meta.InstallPath); err != nil {
			log.Warn("could not remove install directory", "path", meta.InstallPath, "error", err)
		}
	}

	if err := m.index.remove(name); err != nil {
		return err
	}
	m.recordOperation(ctx, "delete", "ok")
	log.Info("image deleted")
	return nil
}

// List enumerates live images, reconciling the metadata index as a side
// effect: dead entries are pruned, untracked live images get a
// synthesized legacy entry, and manifest presence is refreshed.
func (m *manager) List(ctx context.Context) ([]Image, error) {
	log := logger.FromContext(ctx)

	live, err := m.liveNames(ctx)
	if err != nil {
		return nil, err
	}

	manifestPresence := map[string]bool{}
	for _, name := range live {
		manifestPresence[name] = m.store.Exists(ctx, name)
	}

	err = m.index.reconcile(func(entries map[string]*ImageMetadata) map[string]*ImageMetadata {
		next := make(map[string]*ImageMetadata, len(live))
		for _, name := range live {
			if entry, ok := entries[name]; ok {
				entry.HasManifest = manifestPresence[name]
				next[name] = entry
				continue
			}
			log.Info("adopting untracked image into the index", "image", name)
			next[name] = &ImageMetadata{
				ID:            cuid2.Generate(),
				Name:          name,
				DisplayName:   name,
				Source:        "unknown",
				SourceType:    SourceTypeDistro,
				Created:       time.Now().UTC(),
				EngineVersion: m.engineVersion,
				HasManifest:   manifestPresence[name],
				Enabled:       true,
			}
		}
		return next
	})
	if err != nil {
		return nil, err
	}

	entries := m.index.snapshot()
	images := make([]Image, 0, len(live))
	for _, name := range live {
		if entry, ok := entries[name]; ok {
			images = append(images, *entry.toImage())
		}
	}
	return images, nil
}

// Get re-runs List first so the answer reflects the live image list.
func (m *manager) Get(ctx context.Context, name string) (*Image, error) {
	images, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range images {
		if images[i].Name == name {
			return &images[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Exists is a live-list membership test.
func (m *manager) Exists(ctx context.Context, name string) (bool, error) {
	live, err := m.liveNames(ctx)
	if err != nil {
		return false, err
	}
	return lo.Contains(live, name), nil
}

// UpdateProperties mutates the caller-editable fields of an index
// entry. Identity fields are not expressible in UpdateOptions and so
// cannot be overridden.
func (m *manager) UpdateProperties(ctx context.Context, name string, opts UpdateOptions) (*Image, error) {
	meta, ok := m.index.get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if opts.DisplayName != nil {
		meta.DisplayName = *opts.DisplayName
	}
	if opts.Description != nil {
		meta.Description = *opts.Description
	}
	if opts.Author != nil {
		meta.Author = *opts.Author
	}
	if opts.Tags != nil {
		meta.Tags = *opts.Tags
	}
	if opts.Enabled != nil {
		meta.Enabled = *opts.Enabled
	}
	if opts.State != nil {
		meta.State = *opts.State
	}
	if opts.Scope != nil {
		meta.Scope = opts.Scope
	}

	if err := m.index.put(meta); err != nil {
		return nil, err
	}
	return meta.toImage(), nil
}

func (m *manager) liveNames(ctx context.Context) ([]string, error) {
	names, err := m.engine.ListNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineOperation, err)
	}
	return names, nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// Package providers holds the wire provider functions shared by the
// API entrypoint.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/c2h5oh/datasize"
	"go.opentelemetry.io/otel/metric"

	"github.com/imgforge/imageman/cmd/api/config"
	"github.com/imgforge/imageman/lib/catalog"
	"github.com/imgforge/imageman/lib/engine"
	"github.com/imgforge/imageman/lib/images"
	"github.com/imgforge/imageman/lib/logger"
	"github.com/imgforge/imageman/lib/manifeststore"
	"github.com/imgforge/imageman/lib/paths"
)

// ProvideLogger provides a structured logger. Records carrying an
// "image" attribute are additionally mirrored into that image's
// provision.log.
func ProvideLogger(p *paths.Paths) *slog.Logger {
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(logger.NewImageLogHandler(base, p.ImageLog))
}

// ProvideContext provides a context with logger attached
func ProvideContext(log *slog.Logger) context.Context {
	return logger.AddToContext(context.Background(), log)
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvidePaths provides the data directory layout
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.DataDir)
}

// ProvideEngine provides the external imaging tool wrapper
func ProvideEngine(cfg *config.Config) engine.Engine {
	return engine.NewCLIEngine(cfg.EngineBinary)
}

// ProvideCatalog provides the local template catalog
func ProvideCatalog(p *paths.Paths) catalog.Catalog {
	return catalog.NewLocal(p)
}

// ProvideManifestStore provides the in-image manifest store
func ProvideManifestStore(eng engine.Engine) *manifeststore.Store {
	return manifeststore.New(eng)
}

// meter is set by the entrypoint before wire initialization when
// telemetry is enabled.
var meter metric.Meter

// SetMeter installs the meter used for manager metrics.
func SetMeter(m metric.Meter) {
	meter = m
}

// ProvideImageManager provides the image manager
func ProvideImageManager(cfg *config.Config, p *paths.Paths, eng engine.Engine, cat catalog.Catalog, store *manifeststore.Store) (images.Manager, error) {
	var maxExtract datasize.ByteSize
	if err := maxExtract.UnmarshalText([]byte(cfg.MaxExtractSize)); err != nil {
		return nil, fmt.Errorf("invalid MAX_EXTRACT_SIZE %q: %w", cfg.MaxExtractSize, err)
	}

	opts := []images.ManagerOption{
		images.WithDefaultEngineVersion(cfg.DefaultEngineVersion),
		images.WithMaxExtractBytes(int64(maxExtract)),
	}
	if meter != nil {
		opts = append(opts, images.WithMeter(meter))
	}
	return images.NewManager(p, eng, cat, store, opts...)
}

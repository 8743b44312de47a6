//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/imgforge/imageman/cmd/api/api"
	"github.com/imgforge/imageman/cmd/api/config"
	"github.com/imgforge/imageman/lib/catalog"
	"github.com/imgforge/imageman/lib/engine"
	"github.com/imgforge/imageman/lib/images"
	"github.com/imgforge/imageman/lib/manifeststore"
	"github.com/imgforge/imageman/lib/paths"
	"github.com/imgforge/imageman/lib/providers"
)

// application struct to hold initialized components
type application struct {
	Ctx           context.Context
	Logger        *slog.Logger
	Config        *config.Config
	Paths         *paths.Paths
	Engine        engine.Engine
	Catalog       catalog.Catalog
	ManifestStore *manifeststore.Store
	ImageManager  images.Manager
	ApiService    *api.ApiService
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideLogger,
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvidePaths,
		providers.ProvideEngine,
		providers.ProvideCatalog,
		providers.ProvideManifestStore,
		providers.ProvideImageManager,
		api.New,
		wire.Struct(new(application), "*"),
	))
}

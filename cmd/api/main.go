package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
	"golang.org/x/sync/errgroup"

	"github.com/imgforge/imageman/cmd/api/api"
	mw "github.com/imgforge/imageman/lib/middleware"
	"github.com/imgforge/imageman/lib/otel"
	"github.com/imgforge/imageman/lib/providers"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("main() exiting normally")
}

func run() error {
	// Load config early for OTel initialization
	cfg := providers.ProvideConfig()

	otelCfg := otel.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Insecure:          cfg.OtelInsecure,
		Version:           cfg.Version,
		Env:               cfg.Env,
	}

	otelProvider, otelShutdown, err := otel.Init(context.Background(), otelCfg)
	if err != nil {
		// Log warning but don't fail - graceful degradation
		slog.Warn("failed to initialize OpenTelemetry, continuing without telemetry", "error", err)
	}
	if otelShutdown != nil {
		defer func() {
			slog.Info("shutting down OpenTelemetry")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				slog.Warn("error shutting down OpenTelemetry", "error", err)
			}
			slog.Info("OpenTelemetry shutdown complete")
		}()
	}

	// Wire the meter into the providers before the injector runs so the
	// image manager registers its instruments.
	if otelProvider != nil && otelProvider.Meter != nil {
		providers.SetMeter(otelProvider.Meter)
	}

	// Set global OTel log handler for logger package
	if otelProvider != nil && otelProvider.LogHandler != nil {
		otel.SetGlobalLogHandler(otelProvider.LogHandler)
	}

	// Initialize app with wire
	app, cleanup, err := initializeApp()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		slog.Info("cleaning up application resources")
		cleanup()
		slog.Info("application cleanup complete")
	}()

	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := app.Logger

	if cfg.OtelEnabled {
		logger.Info("OpenTelemetry enabled", "endpoint", cfg.OtelEndpoint, "service", cfg.OtelServiceName)
	}

	// Validate JWT secret is configured
	if app.Config.JwtSecret == "" {
		logger.Warn("JWT_SECRET not configured - API authentication will fail")
	}

	// Surface template availability early; a missing catalog is fine, a
	// broken one is not.
	templates, err := app.Catalog.ListTemplates(app.Ctx)
	if err != nil {
		return fmt.Errorf("read template catalog: %w", err)
	}
	logger.Info("template catalog loaded", "templates", len(templates))

	// Create router
	r := chi.NewRouter()

	// Prepare HTTP metrics middleware (applied inside the API group)
	var httpMetricsMw func(http.Handler) http.Handler
	if otelProvider != nil && otelProvider.Meter != nil {
		httpMetrics, err := mw.NewHTTPMetrics(otelProvider.Meter)
		if err == nil {
			httpMetricsMw = httpMetrics.Middleware
		}
	}

	// Authenticated API endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)

		// OpenTelemetry tracing middleware FIRST (creates span context)
		if cfg.OtelEnabled {
			r.Use(otelchi.Middleware(cfg.OtelServiceName, otelchi.WithChiRoutes(r)))
		}

		// Inject logger into request context for handlers to use
		r.Use(mw.InjectLogger(logger))

		// Access logger AFTER otelchi so trace context is available
		r.Use(mw.AccessLogger(logger))
		if httpMetricsMw != nil {
			r.Use(httpMetricsMw)
		}

		r.Use(middleware.Timeout(60 * time.Second))

		r.Use(mw.JwtAuth(app.Config.JwtSecret))

		// Resolve image names before handlers, enriching context and logs
		r.Use(mw.ResolveImage(app.ApiService.NewImageResolver(), api.ResolverErrorResponder))

		app.ApiService.Routes(r)
	})

	// Unauthenticated endpoints (outside group)
	r.Get("/health", app.ApiService.GetHealth)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", app.Config.Port),
		Handler: r,
	}

	// Error group for coordinated shutdown
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		logger.Info("starting imageman API", "port", app.Config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			return err
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Use WithoutCancel to preserve context values while preventing cancellation
		shutdownCtx := context.WithoutCancel(gctx)
		shutdownCtx, cancel := context.WithTimeout(shutdownCtx, 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown http server", "error", err)
			return err
		}
		logger.Info("http server shutdown complete")
		return nil
	})

	err = grp.Wait()
	slog.Info("all goroutines finished")
	return err
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/imgforge/imageman/lib/logger"
)

// ImageResolver is implemented by managers that support image lookup by name.
type ImageResolver interface {
	// Resolve looks up an image by name. Returns the resource and any
	// error; implementations return their not-found sentinel when the
	// name is unknown.
	Resolve(ctx context.Context, name string) (resource any, err error)
}

// resolvedImageKey is the context key for storing the resolved image.
type resolvedImageKey struct{}

// ErrorResponder handles resolver errors by writing HTTP responses.
type ErrorResponder func(w http.ResponseWriter, err error, lookup string)

// ResolveImage creates middleware that resolves image names before
// handlers run. The resolved image is stored in context and the logger
// is enriched with the name, so handlers and everything below them log
// with image correlation.
func ResolveImage(resolver ImageResolver, errResponder ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if resolver == nil || !strings.HasPrefix(r.URL.Path, "/images/") {
				next.ServeHTTP(w, r)
				return
			}

			name := chi.URLParam(r, "name")
			if name == "" {
				// List or create endpoint.
				next.ServeHTTP(w, r)
				return
			}

			resource, err := resolver.Resolve(ctx, name)
			if err != nil {
				errResponder(w, err, name)
				return
			}

			ctx = context.WithValue(ctx, resolvedImageKey{}, resource)
			log := logger.FromContext(ctx).With("image", name)
			ctx = logger.AddToContext(ctx, log)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetResolvedImage retrieves the resolved image from context.
// Returns nil if not found or wrong type.
func GetResolvedImage[T any](ctx context.Context) *T {
	resolved := ctx.Value(resolvedImageKey{})
	if resolved == nil {
		return nil
	}
	if typed, ok := resolved.(*T); ok {
		return typed
	}
	if typed, ok := resolved.(T); ok {
		return &typed
	}
	return nil
}

// WithResolvedImage returns a context with the given image set as resolved.
func WithResolvedImage(ctx context.Context, img any) context.Context {
	return context.WithValue(ctx, resolvedImageKey{}, img)
}

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/imgforge/imageman/lib/images"
	"github.com/imgforge/imageman/lib/middleware"
)

// ImageResolver adapts images.Manager to middleware.ImageResolver.
type ImageResolver struct {
	Manager images.Manager
}

func (r ImageResolver) Resolve(ctx context.Context, name string) (any, error) {
	img, err := r.Manager.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// NewImageResolver creates the resolver backing the resolve middleware.
func (s *ApiService) NewImageResolver() middleware.ImageResolver {
	return ImageResolver{Manager: s.ImageManager}
}

// ResolverErrorResponder handles resolver errors by writing appropriate HTTP responses.
func ResolverErrorResponder(w http.ResponseWriter, err error, lookup string) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.Is(err, images.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"not_found","message":"image not found"}`))
	default:
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"code":"internal_error","message":"failed to resolve image"}`))
	}
}

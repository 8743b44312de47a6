// Package api implements the HTTP surface of imageman: image CRUD,
// cloning, manifest retrieval and standalone manifest validation.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/imgforge/imageman/cmd/api/config"
	"github.com/imgforge/imageman/lib/catalog"
	"github.com/imgforge/imageman/lib/images"
	"github.com/imgforge/imageman/lib/manifeststore"
)

// ApiService holds the managers the HTTP handlers dispatch to.
type ApiService struct {
	Config        *config.Config
	ImageManager  images.Manager
	Catalog       catalog.Catalog
	ManifestStore *manifeststore.Store
}

// New creates a new ApiService
func New(
	config *config.Config,
	imageManager images.Manager,
	cat catalog.Catalog,
	manifestStore *manifeststore.Store,
) *ApiService {
	return &ApiService{
		Config:        config,
		ImageManager:  imageManager,
		Catalog:       cat,
		ManifestStore: manifestStore,
	}
}

// Routes mounts all authenticated API routes on the given router.
func (s *ApiService) Routes(r chi.Router) {
	r.Get("/templates", s.ListTemplates)

	r.Route("/images", func(r chi.Router) {
		r.Get("/", s.ListImages)
		r.Post("/", s.CreateImage)
		r.Get("/{name}", s.GetImage)
		r.Patch("/{name}", s.UpdateImage)
		r.Delete("/{name}", s.DeleteImage)
		r.Post("/{name}/clone", s.CloneImage)
		r.Get("/{name}/manifest", s.GetImageManifest)
	})

	r.Post("/manifest/validate", s.ValidateManifest)
}

// errorBody is the JSON error envelope shared by every endpoint.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

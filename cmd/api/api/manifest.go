package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/imgforge/imageman/lib/logger"
	"github.com/imgforge/imageman/lib/manifest"
)

// maxManifestBody bounds standalone validation payloads.
const maxManifestBody = 4 << 20 // 4 MiB

// GetImageManifest reads the manifest stored inside an image. Handlers
// run after the resolve middleware, so the image itself is known to
// exist; an absent or unreadable manifest is the 404 here.
func (s *ApiService) GetImageManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	name := chi.URLParam(r, "name")

	m, err := s.ManifestStore.Read(ctx, name)
	if err != nil {
		log.ErrorContext(ctx, "failed to read manifest", "error", err, "name", name)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read manifest")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "manifest_not_found", "image has no readable manifest")
		return
	}

	data, err := m.Serialize()
	if err != nil {
		log.ErrorContext(ctx, "failed to serialize manifest", "error", err, "name", name)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to serialize manifest")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ValidateManifest validates a manifest document supplied in the request
// body, without touching any image. Validation findings are the 200
// response; only an unreadable body is a client error.
func (s *ApiService) ValidateManifest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxManifestBody))
	if err != nil {
		log.ErrorContext(ctx, "failed to read request body", "error", err)
		writeError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
		return
	}

	m, err := manifest.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_manifest", "body is not a parseable manifest: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, manifest.Validate(m))
}

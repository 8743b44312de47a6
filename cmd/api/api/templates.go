package api

import (
	"net/http"

	"github.com/samber/lo"

	"github.com/imgforge/imageman/lib/catalog"
	"github.com/imgforge/imageman/lib/logger"
)

// Template is the wire representation of a catalog entry.
type Template struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	File      string `json:"file"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Available bool   `json:"available"`
}

func (s *ApiService) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	templates, err := s.Catalog.ListTemplates(ctx)
	if err != nil {
		log.ErrorContext(ctx, "failed to list templates", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list templates")
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(templates, func(t catalog.Template, _ int) Template {
		return Template{
			Name:      t.Name,
			Version:   t.Version,
			File:      t.File,
			SizeBytes: t.Size,
			Available: t.Available,
		}
	}))
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/imgforge/imageman/lib/images"
	"github.com/imgforge/imageman/lib/logger"
	"github.com/imgforge/imageman/lib/middleware"
)

// Image is the wire representation of a provisioned image.
type Image struct {
	Id            string        `json:"id"`
	Name          string        `json:"name"`
	DisplayName   string        `json:"display_name"`
	Description   string        `json:"description,omitempty"`
	Source        string        `json:"source"`
	SourceType    string        `json:"source_type"`
	Created       time.Time     `json:"created"`
	SizeBytes     int64         `json:"size_bytes,omitempty"`
	EngineVersion int           `json:"engine_version"`
	Tags          []string      `json:"tags,omitempty"`
	Author        string        `json:"author,omitempty"`
	HasManifest   bool          `json:"has_manifest"`
	Enabled       bool          `json:"enabled"`
	Scope         *images.Scope `json:"scope,omitempty"`
	InstallPath   string        `json:"install_path,omitempty"`
	State         string        `json:"state,omitempty"`
}

// CreateImageRequest is the body of POST /images.
type CreateImageRequest struct {
	Template      string        `json:"template"`
	Name          string        `json:"name"`
	DisplayName   string        `json:"display_name,omitempty"`
	Description   string        `json:"description,omitempty"`
	Author        string        `json:"author,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	InstallPath   string        `json:"install_path,omitempty"`
	EngineVersion int           `json:"engine_version,omitempty"`
	Scope         *images.Scope `json:"scope,omitempty"`
}

// CloneImageRequest is the body of POST /images/{name}/clone.
type CloneImageRequest struct {
	Name          string        `json:"name"`
	DisplayName   string        `json:"display_name,omitempty"`
	Description   string        `json:"description,omitempty"`
	Author        string        `json:"author,omitempty"`
	Tags          []string      `json:"tags,omitempty"`
	InstallPath   string        `json:"install_path,omitempty"`
	EngineVersion int           `json:"engine_version,omitempty"`
	Scope         *images.Scope `json:"scope,omitempty"`
}

// UpdateImageRequest is the body of PATCH /images/{name}. Absent fields
// are left unchanged.
type UpdateImageRequest struct {
	DisplayName *string       `json:"display_name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Author      *string       `json:"author,omitempty"`
	Tags        *[]string     `json:"tags,omitempty"`
	Enabled     *bool         `json:"enabled,omitempty"`
	State       *string       `json:"state,omitempty"`
	Scope       *images.Scope `json:"scope,omitempty"`
}

func (s *ApiService) ListImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	domainImages, err := s.ImageManager.List(ctx)
	if err != nil {
		log.ErrorContext(ctx, "failed to list images", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list images")
		return
	}

	writeJSON(w, http.StatusOK, lo.Map(domainImages, func(img images.Image, _ int) Image {
		return imageToAPI(&img)
	}))
}

func (s *ApiService) CreateImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req CreateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	if req.Template == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "template and name are required")
		return
	}

	img, err := s.ImageManager.CreateFromTemplate(ctx, req.Template, req.Name, images.CreateOptions{
		InstallPath:   req.InstallPath,
		DisplayName:   req.DisplayName,
		Description:   req.Description,
		Author:        req.Author,
		Tags:          req.Tags,
		EngineVersion: req.EngineVersion,
		Scope:         req.Scope,
	})
	if err != nil {
		switch {
		case errors.Is(err, images.ErrNotFound):
			writeError(w, http.StatusNotFound, "template_not_found", err.Error())
		case errors.Is(err, images.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "already_exists", err.Error())
		case errors.Is(err, images.ErrNotAvailableLocally):
			writeError(w, http.StatusUnprocessableEntity, "template_not_available", err.Error())
		case errors.Is(err, images.ErrExtractionFailed):
			writeError(w, http.StatusUnprocessableEntity, "extraction_failed", err.Error())
		case errors.Is(err, images.ErrManifestInvalid):
			writeError(w, http.StatusUnprocessableEntity, "manifest_invalid", err.Error())
		default:
			log.ErrorContext(ctx, "failed to create image", "error", err, "name", req.Name)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to create image")
		}
		return
	}

	writeJSON(w, http.StatusCreated, imageToAPI(img))
}

func (s *ApiService) CloneImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	sourceName := chi.URLParam(r, "name")

	var req CloneImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "name is required")
		return
	}

	img, err := s.ImageManager.Clone(ctx, sourceName, req.Name, images.CloneOptions{
		InstallPath:   req.InstallPath,
		DisplayName:   req.DisplayName,
		Description:   req.Description,
		Author:        req.Author,
		Tags:          req.Tags,
		EngineVersion: req.EngineVersion,
		Scope:         req.Scope,
	})
	if err != nil {
		switch {
		case errors.Is(err, images.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, images.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "already_exists", err.Error())
		case errors.Is(err, images.ErrManifestInvalid):
			writeError(w, http.StatusUnprocessableEntity, "manifest_invalid", err.Error())
		default:
			log.ErrorContext(ctx, "failed to clone image", "error", err, "source", sourceName, "target", req.Name)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to clone image")
		}
		return
	}

	writeJSON(w, http.StatusCreated, imageToAPI(img))
}

func (s *ApiService) GetImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	name := chi.URLParam(r, "name")

	// The resolve middleware usually has it already.
	if img := middleware.GetResolvedImage[images.Image](ctx); img != nil {
		writeJSON(w, http.StatusOK, imageToAPI(img))
		return
	}

	img, err := s.ImageManager.Get(ctx, name)
	if err != nil {
		if errors.Is(err, images.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "image not found")
			return
		}
		log.ErrorContext(ctx, "failed to get image", "error", err, "name", name)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get image")
		return
	}
	writeJSON(w, http.StatusOK, imageToAPI(img))
}

func (s *ApiService) UpdateImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	name := chi.URLParam(r, "name")

	var req UpdateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	img, err := s.ImageManager.UpdateProperties(ctx, name, images.UpdateOptions{
		DisplayName: req.DisplayName,
		Description: req.Description,
		Author:      req.Author,
		Tags:        req.Tags,
		Enabled:     req.Enabled,
		State:       req.State,
		Scope:       req.Scope,
	})
	if err != nil {
		if errors.Is(err, images.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "image not found")
			return
		}
		log.ErrorContext(ctx, "failed to update image", "error", err, "name", name)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update image")
		return
	}
	writeJSON(w, http.StatusOK, imageToAPI(img))
}

func (s *ApiService) DeleteImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	name := chi.URLParam(r, "name")

	if err := s.ImageManager.Delete(ctx, name); err != nil {
		if errors.Is(err, images.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "image not found")
			return
		}
		log.ErrorContext(ctx, "failed to delete image", "error", err, "name", name)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete image")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func imageToAPI(img *images.Image) Image {
	return Image{
		Id:            img.ID,
		Name:          img.Name,
		DisplayName:   img.DisplayName,
		Description:   img.Description,
		Source:        img.Source,
		SourceType:    string(img.SourceType),
		Created:       img.Created,
		SizeBytes:     img.SizeBytes,
		EngineVersion: img.EngineVersion,
		Tags:          img.Tags,
		Author:        img.Author,
		HasManifest:   img.HasManifest,
		Enabled:       img.Enabled,
		Scope:         img.Scope,
		InstallPath:   img.InstallPath,
		State:         img.State,
	}
}

package images

import (
	"errors"

	"github.com/imgforge/imageman/lib/manifeststore"
)

var (
	// ErrNotFound is returned when a template or image is unknown.
	ErrNotFound = errors.New("image or template not found")

	// ErrNotAvailableLocally is returned when a template is known to the
	// catalog but its archive has not been materialized on disk.
	ErrNotAvailableLocally = errors.New("template not available locally, download it first")

	// ErrAlreadyExists is returned on an image name collision.
	ErrAlreadyExists = errors.New("image already exists")

	// ErrExtractionFailed is returned when a container-format template
	// holds no importable archive. Distinct from ErrEngineOperation so
	// callers can tell "bad input file" from "engine rejected it".
	ErrExtractionFailed = errors.New("no importable archive found in template, file may be corrupted")

	// ErrEngineOperation is returned when the external imaging tool
	// fails; the underlying exit information is attached.
	ErrEngineOperation = errors.New("engine operation failed")

	// ErrManifestInvalid is returned when validation blocks a manifest write.
	ErrManifestInvalid = manifeststore.ErrManifestInvalid

	// ErrVerificationFailed is returned when a manifest write could not
	// be confirmed inside the image.
	ErrVerificationFailed = manifeststore.ErrVerificationFailed
)

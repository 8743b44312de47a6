// Package logger provides structured logging with context propagation
// and OpenTelemetry trace context integration.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ImageLogHandler wraps an slog.Handler and additionally writes logs
// that carry an "image" attribute to a per-image provision.log file.
// This gives every provisioned image an operation history without
// manual instrumentation at each call site.
//
// Implementation follows the slog handler guide for shared state across
// WithAttrs/WithGroup: https://pkg.go.dev/golang.org/x/example/slog-handler-guide
type ImageLogHandler struct {
	slog.Handler
	logPathFunc func(name string) string // returns path to provision.log for an image
	preAttrs    []slog.Attr              // attrs added via WithAttrs (needed to find "image")
}

// NewImageLogHandler creates a handler that wraps the given handler and
// writes image-related logs to per-image log files. logPathFunc should
// return the path to provision.log for a given image name.
func NewImageLogHandler(wrapped slog.Handler, logPathFunc func(name string) string) *ImageLogHandler {
	return &ImageLogHandler{
		Handler:     wrapped,
		logPathFunc: logPathFunc,
	}
}

// Handle processes a log record, passing it to the wrapped handler and
// optionally writing to a per-image log file if an "image" attribute is present.
func (h *ImageLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	// Check pre-bound attrs first (from WithAttrs)
	var imageName string
	for _, a := range h.preAttrs {
		if a.Key == "image" {
			imageName = a.Value.String()
			break
		}
	}

	// Record attrs override pre-bound if present
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "image" {
			imageName = a.Value.String()
			return false
		}
		return true
	})

	if imageName != "" {
		h.writeToImageLog(imageName, r)
	}

	return nil
}

// writeToImageLog writes a log record to the image's provision.log file.
// Opens and closes the file for each write to avoid file handle leaks.
func (h *ImageLogHandler) writeToImageLog(imageName string, r slog.Record) {
	logPath := h.logPathFunc(imageName)
	if logPath == "" {
		return
	}

	// Only write when the image's install directory already exists. An
	// "image" attr can also name a target that failed to provision; don't
	// leave orphan directories behind for those.
	dir := filepath.Dir(logPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return
	}

	// Format log line: timestamp LEVEL message key=value key=value...
	timestamp := r.Time.Format(time.RFC3339)
	level := r.Level.String()
	msg := r.Message

	var attrs []string
	for _, a := range h.preAttrs {
		if a.Key != "image" {
			attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "image" {
			attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		}
		return true
	})

	line := fmt.Sprintf("%s %s %s", timestamp, level, msg)
	for _, attr := range attrs {
		line += " " + attr
	}
	line += "\n"

	// Open, write, close (no caching = no leak)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Use package-level slog (not our handler) to avoid recursion.
		slog.Warn("failed to open image log file", "path", logPath, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		slog.Warn("failed to write to image log file", "path", logPath, "error", err)
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *ImageLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
// Tracks attrs locally so we can find "image" even when added via With().
func (h *ImageLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newPreAttrs := make([]slog.Attr, len(h.preAttrs), len(h.preAttrs)+len(attrs))
	copy(newPreAttrs, h.preAttrs)
	newPreAttrs = append(newPreAttrs, attrs...)

	return &ImageLogHandler{
		Handler:     h.Handler.WithAttrs(attrs),
		logPathFunc: h.logPathFunc,
		preAttrs:    newPreAttrs,
	}
}

// WithGroup returns a new handler with the given group name.
func (h *ImageLogHandler) WithGroup(name string) slog.Handler {
	// Image names are expected at the top level, not nested in groups.
	return &ImageLogHandler{
		Handler:     h.Handler.WithGroup(name),
		logPathFunc: h.logPathFunc,
		preAttrs:    h.preAttrs,
	}
}

package handler

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

const archiveRoot = "archive/"

// ArchiveHandler lists and downloads archived JSONL objects.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archive")}
}

// List returns archived objects under archive/, optionally narrowed by kind
// (price_history, positions).
// GET /api/archive?kind=price_history
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := archiveRoot
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if strings.ContainsAny(kind, "/.") {
			writeError(w, http.StatusBadRequest, "invalid kind")
			return
		}
		prefix += kind + "/"
	}

	objects, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeServiceError(w, r, h.logger, "list archive", err)
		return
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

// Get streams one archived object.
// GET /api/archive/{path...}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := path.Clean("/" + r.PathValue("path"))
	key := strings.TrimPrefix(p, "/")
	if !strings.HasPrefix(key, archiveRoot) {
		key = archiveRoot + key
	}
	if key == archiveRoot || strings.HasSuffix(key, "/") {
		writeError(w, http.StatusBadRequest, "object path required")
		return
	}

	body, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		writeServiceError(w, r, h.logger, "get archive object", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive download interrupted",
			slog.String("path", key),
			slog.String("error", err.Error()),
		)
	}
}

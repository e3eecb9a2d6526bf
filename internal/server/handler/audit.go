package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// AuditHandler exposes the audit log read-only.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

type auditEntryResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// List returns audit entries newest first.
// GET /api/audit?event=position.&since=2024-03-01T00:00:00Z&limit=50
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()
	for _, b := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(b.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, b.name+" must be RFC3339")
			return
		}
		*b.dst = &t
	}

	entries, err := h.audit.List(r.Context(), q.Get("event"), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

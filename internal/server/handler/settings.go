package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// SettingsService defines the methods the settings handler requires.
type SettingsService interface {
	Get(ctx context.Context) (domain.TradingSettings, error)
	Update(ctx context.Context, upd domain.SettingsUpdate) (domain.TradingSettings, error)
	Reset(ctx context.Context) (domain.TradingSettings, error)
}

// SettingsHandler serves the trading settings singleton.
type SettingsHandler struct {
	settings SettingsService
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(settings SettingsService, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: logHandler(logger, "settings")}
}

// Get returns the current settings.
// GET /api/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Update applies a partial update.
// PATCH /api/settings
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd domain.SettingsUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.settings.Update(r.Context(), upd)
	if err != nil {
		writeServiceError(w, r, h.logger, "update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Reset restores the defaults.
// POST /api/settings/reset
func (h *SettingsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Reset(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "reset settings", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

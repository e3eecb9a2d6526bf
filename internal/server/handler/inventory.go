package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// InventoryService defines the methods the inventory handler requires.
type InventoryService interface {
	Refresh(ctx context.Context, pair domain.VenuePair) ([]domain.InventoryItem, error)
	List(ctx context.Context, pair domain.VenuePair) ([]domain.InventoryItem, error)
}

// InventoryHandler serves the stored venue inventory.
type InventoryHandler struct {
	inventory   InventoryService
	defaultPair domain.VenuePair
	logger      *slog.Logger
}

// NewInventoryHandler creates an InventoryHandler. defaultPair is used when
// the request names no app_id/context_id.
func NewInventoryHandler(inventory InventoryService, defaultPair domain.VenuePair, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{inventory: inventory, defaultPair: defaultPair, logger: logHandler(logger, "inventory")}
}

// List returns the stored inventory of a pair.
// GET /api/inventory?app_id=730&context_id=2
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	pair := pairFromQuery(r, h.defaultPair)
	items, err := h.inventory.List(r.Context(), pair)
	if err != nil {
		writeServiceError(w, r, h.logger, "list inventory", err)
		return
	}
	if items == nil {
		items = []domain.InventoryItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair": pair, "items": items})
}

// Refresh re-reads the venue inventory of a pair and returns it.
// POST /api/inventory/refresh?app_id=730&context_id=2
func (h *InventoryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	pair := pairFromQuery(r, h.defaultPair)
	items, err := h.inventory.Refresh(r.Context(), pair)
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh inventory", err)
		return
	}
	if items == nil {
		items = []domain.InventoryItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair": pair, "items": items})
}

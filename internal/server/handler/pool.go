package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// PoolService defines the methods the pool handler requires.
type PoolService interface {
	List(ctx context.Context) ([]domain.TrackedItem, error)
	GetMany(ctx context.Context, names []string) ([]domain.TrackedItem, error)
	History(ctx context.Context, name string, since time.Time) ([]domain.PriceHistoryRecord, error)
	Add(ctx context.Context, assetID string) (domain.TrackedItem, error)
	AddMany(ctx context.Context, assetIDs []string) ([]domain.TrackedItem, error)
	Update(ctx context.Context, name string, upd domain.TrackedItemUpdate) (domain.TrackedItem, error)
	Remove(ctx context.Context, name string) error
}

// PoolHandler serves the tracked item pool.
type PoolHandler struct {
	pool   PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(pool PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pool: pool, logger: logHandler(logger, "pool")}
}

// List returns every pool item.
// GET /api/pool
func (h *PoolHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.pool.List(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list pool", err)
		return
	}
	if items == nil {
		items = []domain.TrackedItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Status returns the named items, for polling the progress of a refresh.
// GET /api/pool/status?names=a,b
func (h *PoolHandler) Status(w http.ResponseWriter, r *http.Request) {
	names := splitList(r.URL.Query().Get("names"))
	if len(names) == 0 {
		writeError(w, http.StatusBadRequest, "names query parameter required")
		return
	}
	items, err := h.pool.GetMany(r.Context(), names)
	if err != nil {
		writeServiceError(w, r, h.logger, "pool status", err)
		return
	}
	if items == nil {
		items = []domain.TrackedItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type addItemRequest struct {
	AssetID string `json:"asset_id"`
}

// Add promotes one inventory asset into the pool.
// POST /api/pool
func (h *PoolHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AssetID == "" {
		writeError(w, http.StatusBadRequest, "asset_id is required")
		return
	}
	item, err := h.pool.Add(r.Context(), req.AssetID)
	if err != nil {
		writeServiceError(w, r, h.logger, "add pool item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type addManyRequest struct {
	AssetIDs []string `json:"asset_ids"`
}

// AddMany promotes several assets; unknown ids are skipped.
// POST /api/pool/bulk
func (h *PoolHandler) AddMany(w http.ResponseWriter, r *http.Request) {
	var req addManyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.AssetIDs) == 0 {
		writeError(w, http.StatusBadRequest, "asset_ids must not be empty")
		return
	}
	items, err := h.pool.AddMany(r.Context(), req.AssetIDs)
	if err != nil {
		writeServiceError(w, r, h.logger, "add pool items", err)
		return
	}
	if items == nil {
		items = []domain.TrackedItem{}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": items, "added": len(items)})
}

// Update changes the listing cap or manual prices of an item.
// PATCH /api/pool/{name}
func (h *PoolHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd domain.TrackedItemUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if upd.MaxListed != nil && *upd.MaxListed < 0 {
		writeError(w, http.StatusUnprocessableEntity, "max_listed must be >= 0")
		return
	}
	item, err := h.pool.Update(r.Context(), r.PathValue("name"), upd)
	if err != nil {
		writeServiceError(w, r, h.logger, "update pool item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Remove deletes an item and its price history.
// DELETE /api/pool/{name}
func (h *PoolHandler) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.Remove(r.Context(), r.PathValue("name")); err != nil {
		writeServiceError(w, r, h.logger, "remove pool item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History returns stored price points for the last days days (default 30).
// GET /api/pool/{name}/history?days=7
func (h *PoolHandler) History(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 365 {
			writeError(w, http.StatusBadRequest, "days must be 1-365")
			return
		}
		days = n
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	records, err := h.pool.History(r.Context(), r.PathValue("name"), since)
	if err != nil {
		writeServiceError(w, r, h.logger, "price history", err)
		return
	}
	if records == nil {
		records = []domain.PriceHistoryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

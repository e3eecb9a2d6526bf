package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	List(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error)
	Delete(ctx context.Context, id string) error
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "positions"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns positions, optionally narrowed by status and item.
// GET /api/positions?status=LISTED&item=...&limit=&offset=
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)
	filter := domain.PositionFilter{
		MarketHashName: q.Get("item"),
		Limit:          opts.Limit,
		Offset:         opts.Offset,
	}
	if s := q.Get("status"); s != "" {
		filter.Status = domain.PositionStatus(strings.ToUpper(s))
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "status must be one of OPEN, BOUGHT, LISTED, CLOSED")
			return
		}
	}

	positions, err := h.positions.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// DeletePosition removes a position record. Orders at the venue are not
// touched.
// DELETE /api/positions/{id}
func (h *PositionHandler) DeletePosition(w http.ResponseWriter, r *http.Request) {
	if err := h.positions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, h.logger, "delete position", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/smtbot/internal/domain"
)

// JobHandler enqueues out-of-band refresh and trading jobs.
type JobHandler struct {
	queue  domain.JobQueue
	logger *slog.Logger
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(queue domain.JobQueue, logger *slog.Logger) *JobHandler {
	return &JobHandler{queue: queue, logger: logHandler(logger, "jobs")}
}

type enqueueRequest struct {
	Kind  domain.JobKind   `json:"kind"`
	Names []string         `json:"names"`
	Pair  domain.VenuePair `json:"pair"`
}

// Enqueue accepts a job and returns its id.
// POST /api/jobs
func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown job kind")
		return
	}

	id, err := h.queue.Enqueue(r.Context(), domain.Job{Kind: req.Kind, Names: req.Names, Pair: req.Pair})
	if err != nil {
		writeServiceError(w, r, h.logger, "enqueue job", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: job enqueued",
		slog.String("job_id", id),
		slog.String("kind", string(req.Kind)),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"id":           id,
		"kind":         req.Kind,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

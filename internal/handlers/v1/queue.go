package v1

import (
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"
)

// (GET /api/v1/queue/stats)
func (h *Handler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	reply, err := h.status.QueueStats(r.Context())
	if err != nil {
		zap.S().Named("queue_handler").Errorw("failed to collect queue stats", "error", err)
		renderError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	render.JSON(w, r, reply)
}

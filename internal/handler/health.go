package handler

import (
	"net/http"

	"github.com/codewatch/control-room/pkg/utils"
)

// Health exposes liveness and upstream readiness. A degraded /readyz is the
// only externally visible signal of a sustained upstream outage; the stream
// itself stays silent while polls fail.
type Health struct {
	api SessionAPI
}

func NewHealth(api SessionAPI) *Health {
	return &Health{api: api}
}

func (h *Health) handleLiveness(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Health) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := h.api.Ping(r.Context()); err != nil {
		utils.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"reason": "upstream unreachable",
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

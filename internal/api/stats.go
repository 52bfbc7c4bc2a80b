package api

import (
	"net/http"

	"github.com/user/termdeck/internal/stats"
)

func (h *handler) getStats(w http.ResponseWriter, r *http.Request) {
	usage, err := stats.Load(h.statsPath, h.pricing)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, usage)
}

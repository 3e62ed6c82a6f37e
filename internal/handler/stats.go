package handler

import (
	"net/http"

	"github.com/fitroom/backend/internal/contextkeys"
	"github.com/fitroom/backend/internal/service"
)

// StatsHandler serves the merchant dashboard statistics.
type StatsHandler struct {
	svc *service.StatsService
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(svc *service.StatsService) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// Get handles GET /api/stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	shop := r.Context().Value(contextkeys.ShopDomain).(string)

	stats, err := h.svc.GetStats(r.Context(), shop)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, stats)
}

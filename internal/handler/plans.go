package handler

import (
	"net/http"

	"github.com/fitroom/backend/internal/domain"
)

// PlansHandler serves the static plan catalog.
type PlansHandler struct{}

// NewPlansHandler creates a new PlansHandler.
func NewPlansHandler() *PlansHandler {
	return &PlansHandler{}
}

// List handles GET /api/plans.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"plans": domain.AvailablePlans(),
	})
}

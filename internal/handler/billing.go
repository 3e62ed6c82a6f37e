package handler

import (
	"net/http"

	"github.com/fitroom/backend/internal/contextkeys"
	"github.com/fitroom/backend/internal/service"
)

// BillingHandler handles subscription endpoints for the embedded admin.
type BillingHandler struct {
	svc *service.BillingService
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(svc *service.BillingService) *BillingHandler {
	return &BillingHandler{svc: svc}
}

// Register handles POST /api/billing/register. Called when the embedded admin
// first loads; creates the store with trial credits if it does not exist yet.
func (h *BillingHandler) Register(w http.ResponseWriter, r *http.Request) {
	shop := r.Context().Value(contextkeys.ShopDomain).(string)

	var req struct {
		OwnerEmail string `json:"ownerEmail"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		Error(w, err)
		return
	}

	store, err := h.svc.EnsureStore(r.Context(), shop, req.OwnerEmail)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"store":   store,
	})
}

// GetSubscription handles GET /api/billing/subscription. Loading it also
// gives an overdue cycle the chance to accrue, so the dashboard is the
// natural accrual trigger for shops that never hit a webhook.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	shop := r.Context().Value(contextkeys.ShopDomain).(string)

	sub, err := h.svc.CurrentSubscription(r.Context(), shop)
	if err != nil {
		Error(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"subscription": sub,
	})
}

package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/internal/service"
)

// WebhookHandler processes commerce-platform webhooks. Every request is
// verified against the raw body HMAC before any parsing happens.
type WebhookHandler struct {
	svc    *service.BillingService
	secret string
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc *service.BillingService, secret string) *WebhookHandler {
	return &WebhookHandler{svc: svc, secret: secret}
}

type subscriptionPayload struct {
	AppSubscription *subscriptionBody `json:"app_subscription"`
	subscriptionBody
}

type subscriptionBody struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	LineItems []struct {
		Plan struct {
			PricingDetails struct {
				Interval string `json:"interval"`
			} `json:"pricingDetails"`
		} `json:"plan"`
	} `json:"lineItems"`
}

// SubscriptionsUpdate handles POST /webhooks/app-subscriptions-update.
func (h *WebhookHandler) SubscriptionsUpdate(w http.ResponseWriter, r *http.Request) {
	shop, raw, ok := h.verify(w, r)
	if !ok {
		return
	}

	var payload subscriptionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		Error(w, domain.ErrBadRequest("invalid webhook payload"))
		return
	}
	sub := payload.AppSubscription
	if sub == nil {
		sub = &payload.subscriptionBody
	}
	if sub.ID == "" {
		Error(w, domain.ErrBadRequest("webhook payload missing subscription id"))
		return
	}

	plan := domain.PlanByKey(sub.Name)
	interval := plan.Interval
	if interval == "" && len(sub.LineItems) > 0 {
		interval = sub.LineItems[0].Plan.PricingDetails.Interval
	}

	planKey := plan.Key
	if planKey == "" {
		planKey = sub.Name
	}

	_, err := h.svc.UpsertSubscription(r.Context(), shop, domain.SubscriptionUpsert{
		SubscriptionID: sub.ID,
		PlanKey:        planKey,
		Quota:          plan.Quota,
		Status:         sub.Status,
		Interval:       interval,
	})
	if err != nil {
		log.Printf("[Webhook] subscription update for %s failed: %v", shop, err)
		Error(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Uninstalled handles POST /webhooks/app-uninstalled. Removes all state for
// the shop.
func (h *WebhookHandler) Uninstalled(w http.ResponseWriter, r *http.Request) {
	shop, _, ok := h.verify(w, r)
	if !ok {
		return
	}

	if err := h.svc.RemoveTenant(r.Context(), shop); err != nil {
		log.Printf("[Webhook] uninstall cleanup for %s failed: %v", shop, err)
		Error(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// verify reads the raw body once and checks the platform's base64 HMAC
// header over it. Writes the 401 itself when verification fails.
func (h *WebhookHandler) verify(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	shop := r.Header.Get("X-Platform-Shop-Domain")
	headerHmac := r.Header.Get("X-Platform-Hmac-Sha256")

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		Error(w, domain.ErrBadRequest("failed to read webhook body"))
		return "", nil, false
	}

	if shop == "" || !VerifyWebhookHMAC(raw, headerHmac, h.secret) {
		JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook signature"})
		return "", nil, false
	}
	return shop, raw, true
}

// VerifyWebhookHMAC checks a base64-encoded HMAC-SHA256 digest of the raw
// webhook body.
func VerifyWebhookHMAC(body []byte, headerHmac, secret string) bool {
	if headerHmac == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(headerHmac))
}

package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/fitroom/backend/internal/domain"
	"github.com/fitroom/backend/internal/middleware"
	"github.com/fitroom/backend/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP level
	},
}

// StatusHandler streams a session's aggregate status over WebSocket until it
// reaches a terminal state, sparing the storefront widget from HTTP polling.
type StatusHandler struct {
	tryon    *service.TryOnService
	secret   string
	interval time.Duration
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(tryon *service.TryOnService, secret string, interval time.Duration) *StatusHandler {
	return &StatusHandler{tryon: tryon, secret: secret, interval: interval}
}

// Handle upgrades HTTP to WebSocket and pushes status snapshots.
// URL: /proxy/tryon/sessions/{sessionId}/ws?shop=...&signature=...
func (h *StatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	// Browsers cannot set headers on WebSocket dials, so the proxy
	// signature rides in the query string.
	if !middleware.VerifyProxySignature(r.URL.Query(), h.secret) {
		http.Error(w, "invalid proxy signature", http.StatusUnauthorized)
		return
	}

	if _, err := h.tryon.Confirm(r.Context(), sessionID); err != nil {
		if appErr, ok := domain.AsAppError(err); ok {
			http.Error(w, appErr.Message, appErr.Code)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("🔌 Status stream connected for session %s", sessionID)

	ctx := context.Background()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		status, err := h.tryon.Confirm(ctx, sessionID)
		if err != nil {
			h.writeJSON(conn, map[string]string{"error": "failed to load status"})
			return
		}

		if !h.writeJSON(conn, status) {
			return
		}
		if domain.TerminalResultStatus(status.Status) {
			return
		}

		<-ticker.C
	}
}

func (h *StatusHandler) writeJSON(conn *websocket.Conn, v interface{}) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return false
	}
	return true
}

package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func webhookDigest(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookHMAC(t *testing.T) {
	secret := "webhook-test-secret"
	body := `{"app_subscription":{"id":"gid://sub/1","status":"ACTIVE"}}`

	tests := []struct {
		name       string
		headerHmac string
		want       bool
	}{
		{name: "valid digest", headerHmac: webhookDigest(body, secret), want: true},
		{name: "digest under wrong secret", headerHmac: webhookDigest(body, "other"), want: false},
		{name: "empty header", headerHmac: "", want: false},
		{name: "garbage header", headerHmac: "bm90LWEtZGlnZXN0", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyWebhookHMAC([]byte(body), tt.headerHmac, secret); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestWebhookRejectsBeforeTouchingState(t *testing.T) {
	// The handler must 401 on a bad signature before any parsing or service
	// call; a nil service proves nothing downstream was reached.
	h := NewWebhookHandler(nil, "webhook-test-secret")
	body := `{"app_subscription":{"id":"gid://sub/1","status":"ACTIVE"}}`

	tests := []struct {
		name    string
		shop    string
		digest  string
		handler http.HandlerFunc
	}{
		{name: "subscriptions update bad hmac", shop: "demo.example-shop.com", digest: "bad", handler: h.SubscriptionsUpdate},
		{name: "subscriptions update missing shop", shop: "", digest: webhookDigest(body, "webhook-test-secret"), handler: h.SubscriptionsUpdate},
		{name: "uninstalled bad hmac", shop: "demo.example-shop.com", digest: "bad", handler: h.Uninstalled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/app-subscriptions-update", strings.NewReader(body))
			req.Header.Set("X-Platform-Shop-Domain", tt.shop)
			req.Header.Set("X-Platform-Hmac-Sha256", tt.digest)
			rec := httptest.NewRecorder()

			tt.handler(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

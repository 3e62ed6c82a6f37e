package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"

	"github.com/fitroom/backend/internal/contextkeys"
	"github.com/fitroom/backend/internal/handler"
)

// ProxyAuth verifies storefront app-proxy requests. The platform signs the
// query string with the shared app secret: parameters are sorted by key,
// concatenated as key=value (multi-values joined by commas) without
// separators, and HMAC-SHA256 hex encoded into the signature parameter.
// The verified shop parameter becomes the tenant for the request.
func ProxyAuth(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query := r.URL.Query()
			signature := query.Get("signature")
			shop := query.Get("shop")
			if signature == "" || shop == "" {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "missing proxy signature"})
				return
			}

			if !VerifyProxySignature(query, secret) {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid proxy signature"})
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.ShopDomain, shop)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VerifyProxySignature checks the signature parameter against the canonical
// message built from the remaining query parameters.
func VerifyProxySignature(query map[string][]string, secret string) bool {
	signature := ""
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "signature" {
			if len(query[k]) > 0 {
				signature = query[k][0]
			}
			continue
		}
		keys = append(keys, k)
	}
	if signature == "" {
		return false
	}
	sort.Strings(keys)

	var message strings.Builder
	for _, k := range keys {
		message.WriteString(k)
		message.WriteString("=")
		message.WriteString(strings.Join(query[k], ","))
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message.String()))
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, expected)
}

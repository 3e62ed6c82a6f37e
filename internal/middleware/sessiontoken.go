package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fitroom/backend/internal/contextkeys"
	"github.com/fitroom/backend/internal/handler"
	"github.com/golang-jwt/jwt/v5"
)

// SessionToken verifies the embedded-admin session token issued by the
// commerce platform. The token is an HS256 JWT signed with the app secret;
// its dest claim carries the shop's admin URL, which becomes the tenant for
// the request.
func SessionToken(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "no token provided"})
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization header"})
				return
			}

			shop, err := VerifySessionToken(parts[1], secret)
			if err != nil {
				handler.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
				return
			}

			ctx := context.WithValue(r.Context(), contextkeys.ShopDomain, shop)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VerifySessionToken parses and validates a session token, returning the shop
// domain from the dest claim.
func VerifySessionToken(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}

	dest, _ := claims["dest"].(string)
	shop := strings.TrimPrefix(strings.TrimPrefix(dest, "https://"), "http://")
	shop = strings.TrimSuffix(shop, "/")
	if shop == "" {
		return "", fmt.Errorf("token missing dest claim")
	}
	return shop, nil
}

package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type organizationKey struct{}

// WithOrganization stores the caller's organization id in the context.
func WithOrganization(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, organizationKey{}, org)
}

// OrganizationFromContext extracts the caller's organization id.
func OrganizationFromContext(ctx context.Context) (string, bool) {
	org, ok := ctx.Value(organizationKey{}).(string)
	return org, ok
}

// Auth resolves the caller's organization, trying a JWT Bearer token first
// and then an API key. Tokens are HS256-signed with an "org" claim; API keys
// map directly to an organization. Returns 401 when both fail.
//
// With no secret and no keys configured, every request passes with the
// "default" organization. Intended for development only.
func Auth(jwtSecret []byte, apiKeys map[string]string) func(http.Handler) http.Handler {
	open := len(jwtSecret) == 0 && len(apiKeys) == 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open {
				next.ServeHTTP(w, r.WithContext(WithOrganization(r.Context(), "default")))
				return
			}

			if auth := r.Header.Get("Authorization"); len(jwtSecret) > 0 && strings.HasPrefix(auth, "Bearer ") {
				tokenStr := strings.TrimPrefix(auth, "Bearer ")
				token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
					return jwtSecret, nil
				}, jwt.WithValidMethods([]string{"HS256"}))

				if err == nil && token.Valid {
					if claims, ok := token.Claims.(jwt.MapClaims); ok {
						if org, ok := claims["org"].(string); ok && org != "" {
							next.ServeHTTP(w, r.WithContext(WithOrganization(r.Context(), org)))
							return
						}
					}
				}
			}

			if key := r.Header.Get("X-API-Key"); key != "" {
				if org, ok := apiKeys[key]; ok {
					next.ServeHTTP(w, r.WithContext(WithOrganization(r.Context(), org)))
					return
				}
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":  http.StatusUnauthorized,
				"message": "unauthorized: provide a valid Bearer token or API key",
			})
		})
	}
}

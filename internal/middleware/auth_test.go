package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orgEcho(t *testing.T, captured *string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org, ok := OrganizationFromContext(r.Context())
		require.True(t, ok)
		*captured = org
		w.WriteHeader(http.StatusOK)
	})
}

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestAuth_OpenModeUsesDefaultOrganization(t *testing.T) {
	t.Parallel()

	var org string
	h := Auth(nil, nil)(orgEcho(t, &org))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/experiments", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default", org)
}

func TestAuth_BearerToken(t *testing.T) {
	t.Parallel()

	secret := []byte("sekrit")

	t.Run("valid token resolves the org claim", func(t *testing.T) {
		var org string
		h := Auth(secret, nil)(orgEcho(t, &org))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, secret, jwt.MapClaims{"org": "acme"}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "acme", org)
	})

	t.Run("wrong signature is rejected", func(t *testing.T) {
		h := Auth(secret, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("other"), jwt.MapClaims{"org": "acme"}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unauthorized")
	})

	t.Run("missing org claim is rejected", func(t *testing.T) {
		h := Auth(secret, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, secret, jwt.MapClaims{"sub": "someone"}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuth_APIKey(t *testing.T) {
	t.Parallel()

	keys := map[string]string{"key1": "acme"}

	t.Run("known key resolves its organization", func(t *testing.T) {
		var org string
		h := Auth(nil, keys)(orgEcho(t, &org))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", "key1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "acme", org)
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		h := Auth(nil, keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", "nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

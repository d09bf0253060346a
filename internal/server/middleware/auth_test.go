package middleware

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castlefield/tickbook/internal/crypto"
)

func newVerifier(t *testing.T, key string) *crypto.APIKeyVerifier {
	t.Helper()
	saltHex, err := crypto.GenerateSalt()
	require.NoError(t, err)
	salt, err := hex.DecodeString(saltHex)
	require.NoError(t, err)

	v, err := crypto.NewAPIKeyVerifier(hex.EncodeToString(crypto.HashAPIKey(key, salt)), saltHex)
	require.NoError(t, err)
	return v
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_AcceptsBearerAndHeaderKey(t *testing.T) {
	h := Auth(newVerifier(t, "s3cret"))(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RejectsMissingOrWrongKey(t *testing.T) {
	h := Auth(newVerifier(t, "s3cret"))(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_DisabledVerifierPassesThrough(t *testing.T) {
	v, err := crypto.NewAPIKeyVerifier("", "")
	require.NoError(t, err)

	h := Auth(v)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = Auth(nil)(okHandler())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func corsHandler(policy CORSPolicy) http.Handler {
	return CORSMiddleware(policy)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSMiddleware_PreflightForAllowedOrigin(t *testing.T) {
	policy := CORSPolicy{
		Origins: []string{"https://app.example.com"},
		Methods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		Headers: []string{"Content-Type", "Authorization"},
		MaxAge:  24 * time.Hour,
	}

	req := httptest.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	corsHandler(policy).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSMiddleware_DisallowedOriginGetsNoHeaders(t *testing.T) {
	policy := DefaultCORSPolicy()
	policy.Origins = []string{"https://app.example.com"}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	corsHandler(policy).ServeHTTP(rec, req)

	// The request itself still runs; only the CORS grant is withheld.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSMiddleware_WildcardEchoesRequestOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	rec := httptest.NewRecorder()
	corsHandler(DefaultCORSPolicy()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://anywhere.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

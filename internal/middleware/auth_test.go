package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTokenAuth_ValidToken(t *testing.T) {
	handler := NewTokenAuthMiddleware("secret-token")(okHandler())

	req := httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータス = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestTokenAuth_InvalidToken(t *testing.T) {
	handler := NewTokenAuthMiddleware("secret-token")(okHandler())

	req := httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ステータス = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestTokenAuth_MissingHeader(t *testing.T) {
	handler := NewTokenAuthMiddleware("secret-token")(okHandler())

	req := httptest.NewRequest("GET", "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ステータス = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestTokenAuth_NonBearerScheme(t *testing.T) {
	handler := NewTokenAuthMiddleware("secret-token")(okHandler())

	req := httptest.NewRequest("GET", "/api/status", nil)
	req.Header.Set("Authorization", "Basic secret-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ステータス = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

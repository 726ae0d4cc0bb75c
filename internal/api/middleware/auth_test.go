package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fleethub/fleethub/internal/api/middleware"
	"github.com/fleethub/fleethub/internal/authn"
)

func authedHandler(t *testing.T, adminToken string, keys *authn.KeyStore) http.Handler {
	t.Helper()
	a := middleware.NewAuthenticator(adminToken, keys)
	return a.Middleware(okHandler())
}

func TestAuth_MissingHeader(t *testing.T) {
	handler := authedHandler(t, "secret", nil)
	w := hit(handler, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("WWW-Authenticate not set on 401")
	}
}

func TestAuth_MalformedHeader(t *testing.T) {
	handler := authedHandler(t, "secret", nil)
	req := httptest.NewRequest(http.MethodGet, "/board/tasks", nil)
	req.Header.Set("Authorization", "Basic secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("non-bearer scheme: status = %d, want 401", w.Code)
	}
}

func TestAuth_AdminToken(t *testing.T) {
	handler := authedHandler(t, "secret", nil)
	if w := hit(handler, "secret"); w.Code != http.StatusOK {
		t.Errorf("valid admin token: status = %d, want 200", w.Code)
	}
	if w := hit(handler, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
}

func TestAuth_NoAdminTokenNoKeys(t *testing.T) {
	handler := authedHandler(t, "", nil)
	if w := hit(handler, "anything"); w.Code != http.StatusUnauthorized {
		t.Errorf("unconfigured auth must deny, status = %d, want 401", w.Code)
	}
}

func TestAuth_APIKeyPath(t *testing.T) {
	keys, err := authn.Open(filepath.Join(t.TempDir(), "api-keys.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer keys.Close()

	ctx := context.Background()
	key, raw, err := keys.Create(ctx, "worker", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	handler := authedHandler(t, "admin-secret", keys)

	if w := hit(handler, raw); w.Code != http.StatusOK {
		t.Errorf("valid API key: status = %d, want 200", w.Code)
	}

	if err := keys.Revoke(ctx, key.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if w := hit(handler, raw); w.Code != http.StatusUnauthorized {
		t.Errorf("revoked API key: status = %d, want 401", w.Code)
	}

	// Admin token keeps working regardless of key state.
	if w := hit(handler, "admin-secret"); w.Code != http.StatusOK {
		t.Errorf("admin token: status = %d, want 200", w.Code)
	}
}

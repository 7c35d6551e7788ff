package auth

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"dbis/internal/jwttoken"
)

func newAuthRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	tokens := jwttoken.New("test-signing-key", "dbis", "dbis-api")
	svc := NewService(NewInMemoryStore(), tokens, WithLogger(logger))

	h := NewHandler(svc, logger)
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func postJSON(t *testing.T, router http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLoginViaHandlers(t *testing.T) {
	router := newAuthRouter(t)
	creds := map[string]string{"email": "ada@example.com", "password": "correct horse battery"}

	rec := postJSON(t, router, "/api/auth/register", creds)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 registering, got %d: %s", rec.Code, rec.Body.String())
	}
	var pair struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&pair); err != nil {
		t.Fatalf("failed to decode token pair: %v", err)
	}
	if pair.AccessToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("expected bearer token pair, got %+v", pair)
	}

	rec = postJSON(t, router, "/api/auth/register", creds)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate email, got %d", rec.Code)
	}

	rec = postJSON(t, router, "/api/auth/login", creds)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 logging in, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router := newAuthRouter(t)
	postJSON(t, router, "/api/auth/register",
		map[string]string{"email": "ada@example.com", "password": "correct horse battery"})

	rec := postJSON(t, router, "/api/auth/login",
		map[string]string{"email": "ada@example.com", "password": "wrong password"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rec.Code)
	}

	// Unknown emails answer identically so accounts cannot be enumerated.
	rec = postJSON(t, router, "/api/auth/login",
		map[string]string{"email": "nobody@example.com", "password": "wrong password"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown email, got %d", rec.Code)
	}
}

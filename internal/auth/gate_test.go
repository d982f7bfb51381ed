package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mahmoud-eltahawy/webls/internal/logging"
	"github.com/mahmoud-eltahawy/webls/internal/quota"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
)

func newGate(t *testing.T, cfg Config) *Gate {
	t.Helper()
	logging.InitNop()
	g, err := NewGate(cfg)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return g
}

func TestCheckSecretPlain(t *testing.T) {
	g := newGate(t, Config{Password: "0000"})
	if !g.CheckSecret("0000") {
		t.Error("correct password rejected")
	}
	if g.CheckSecret("1234") || g.CheckSecret("") {
		t.Error("wrong password accepted")
	}
}

func TestCheckSecretHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	g := newGate(t, Config{Password: "ignored", PasswordHash: string(hash)})
	if !g.CheckSecret("s3cret") {
		t.Error("correct password rejected")
	}
	if g.CheckSecret("ignored") {
		t.Error("hash should take precedence over plain password")
	}
}

func TestNewGateRequiresSecret(t *testing.T) {
	if _, err := NewGate(Config{}); err == nil {
		t.Error("expected error without a secret")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	g := newGate(t, Config{Password: "0000", JWTSecret: "test-secret", TokenTTL: time.Hour})
	tok, expires, err := g.IssueToken()
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expires) <= 0 {
		t.Error("expiry should be in the future")
	}
	if _, err := g.ValidateToken(tok); err != nil {
		t.Errorf("ValidateToken: %v", err)
	}

	other := newGate(t, Config{Password: "0000", JWTSecret: "other-secret"})
	if _, err := other.ValidateToken(tok); err == nil {
		t.Error("token signed with another secret should be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	g := newGate(t, Config{Password: "0000"})
	tok, _, err := g.IssueToken()
	if err != nil {
		t.Fatal(err)
	}

	called := 0
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{"no credential", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong password", func(r *http.Request) { r.Header.Set(PasswordHeader, "9999") }, http.StatusUnauthorized},
		{"password header", func(r *http.Request) { r.Header.Set(PasswordHeader, "0000") }, http.StatusOK},
		{"bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, http.StatusOK},
		{"bad bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer junk") }, http.StatusUnauthorized},
		{"basic auth", func(r *http.Request) { r.SetBasicAuth("anyone", "0000") }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := called
			req := httptest.NewRequest("POST", "/api/v1/remove", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			reached := called > before
			if reached != (tt.status == http.StatusOK) {
				t.Errorf("handler reached = %v for status %d", reached, tt.status)
			}
			if tt.status == http.StatusUnauthorized {
				var resp protocol.ErrorResponse
				json.NewDecoder(rec.Body).Decode(&resp)
				if resp.Kind != protocol.KindUnauthorized {
					t.Errorf("expected kind %s, got %s", protocol.KindUnauthorized, resp.Kind)
				}
			}
		})
	}
}

func TestHandleLogin(t *testing.T) {
	g := newGate(t, Config{Password: "0000"})

	body, _ := json.Marshal(protocol.LoginRequest{Password: "0000"})
	rec := httptest.NewRecorder()
	g.HandleLogin(rec, httptest.NewRequest("POST", "/api/v1/auth/token", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp protocol.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if _, err := g.ValidateToken(resp.Token); err != nil {
		t.Errorf("issued token invalid: %v", err)
	}

	body, _ = json.Marshal(protocol.LoginRequest{Password: "nope"})
	rec = httptest.NewRecorder()
	g.HandleLogin(rec, httptest.NewRequest("POST", "/api/v1/auth/token", bytes.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestCheckThrottlesWrongSecrets(t *testing.T) {
	g := newGate(t, Config{Password: "0000"})
	g.Throttle(quota.NewRateLimiter(), 2, quota.RemoteIP)

	withSecret := func(pw string) *http.Request {
		r := httptest.NewRequest("POST", "/api/v1/remove", nil)
		r.Header.Set(PasswordHeader, pw)
		return r
	}

	if _, err := g.Check(withSecret("0000")); err != nil {
		t.Fatalf("right secret refused: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := g.Check(withSecret("1111")); !errors.Is(err, models.ErrUnauthorized) {
			t.Fatalf("guess %d: expected ErrUnauthorized, got %v", i, err)
		}
	}
	wait, err := g.Check(withSecret("0000"))
	if !errors.Is(err, models.ErrRateLimited) || wait <= 0 {
		t.Fatalf("expected ErrRateLimited with a wait, got %v (%v)", err, wait)
	}

	basic := httptest.NewRequest("PUT", "/webdav/a.txt", nil)
	basic.SetBasicAuth("", "0000")
	if _, err := g.Check(basic); !errors.Is(err, models.ErrRateLimited) {
		t.Errorf("basic auth from the same client should be throttled, got %v", err)
	}

	other := withSecret("0000")
	other.RemoteAddr = "10.0.0.9:4000"
	if _, err := g.Check(other); err != nil {
		t.Errorf("another client should not be throttled: %v", err)
	}

	tok, _, err := g.IssueToken()
	if err != nil {
		t.Fatal(err)
	}
	bearer := httptest.NewRequest("POST", "/api/v1/remove", nil)
	bearer.Header.Set("Authorization", "Bearer "+tok)
	if _, err := g.Check(bearer); err != nil {
		t.Errorf("tokens are not throttled: %v", err)
	}

	if _, err := g.Check(httptest.NewRequest("POST", "/api/v1/remove", nil)); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("missing credential: expected ErrUnauthorized, got %v", err)
	}
}

func TestMiddlewareThrottled(t *testing.T) {
	g := newGate(t, Config{Password: "0000"})
	g.Throttle(quota.NewRateLimiter(), 1, quota.RemoteIP)
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	codes := []int{http.StatusUnauthorized, http.StatusTooManyRequests}
	for i, want := range codes {
		req := httptest.NewRequest("POST", "/api/v1/mkdir", nil)
		req.Header.Set(PasswordHeader, "9999")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("attempt %d: expected %d, got %d", i, want, rec.Code)
		}
	}
}

func TestHandleLoginBodyLimit(t *testing.T) {
	g := newGate(t, Config{Password: "0000"})

	body := `{"password":"` + strings.Repeat("a", maxLoginBody) + `"}`
	rec := httptest.NewRecorder()
	g.HandleLogin(rec, httptest.NewRequest("POST", "/api/v1/auth/token", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an oversized body, got %d", rec.Code)
	}
}

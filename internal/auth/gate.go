// Package auth guards mutating endpoints with the process-wide shared
// secret. A client proves it knows the secret either directly (header or
// HTTP Basic password) or with a short-lived JWT obtained from the login
// endpoint.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mahmoud-eltahawy/webls/internal/logging"
	"github.com/mahmoud-eltahawy/webls/internal/metrics"
	"github.com/mahmoud-eltahawy/webls/internal/quota"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
)

// PasswordHeader carries the shared secret on API requests.
const PasswordHeader = "X-Locker-Password"

const issuer = "webls"

// maxLoginBody caps the login request body.
const maxLoginBody = 1 << 20

// Claims holds JWT token claims.
type Claims struct {
	jwt.RegisteredClaims
}

// Config holds Gate settings.
type Config struct {
	Password     string
	PasswordHash string // bcrypt, wins over Password when set
	JWTSecret    string // random per process when empty
	TokenTTL     time.Duration
}

// Gate checks credentials against the shared secret.
type Gate struct {
	password []byte
	hash     []byte
	secret   []byte
	ttl      time.Duration

	// Failed secret checks, per client
	limiter   *quota.RateLimiter
	attempts  int
	clientKey quota.ClientKey
}

// NewGate creates a Gate. Without a configured JWT secret a random one is
// generated, so tokens do not survive a restart.
func NewGate(cfg Config) (*Gate, error) {
	g := &Gate{
		password: []byte(cfg.Password),
		hash:     []byte(cfg.PasswordHash),
		secret:   []byte(cfg.JWTSecret),
		ttl:      cfg.TokenTTL,
	}
	if len(g.hash) == 0 && len(g.password) == 0 {
		return nil, fmt.Errorf("shared secret is required")
	}
	if len(g.secret) == 0 {
		g.secret = make([]byte, 32)
		if _, err := rand.Read(g.secret); err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
	}
	if g.ttl <= 0 {
		g.ttl = 24 * time.Hour
	}
	return g, nil
}

// CheckSecret reports whether password matches the shared secret.
func (g *Gate) CheckSecret(password string) bool {
	if len(g.hash) > 0 {
		return bcrypt.CompareHashAndPassword(g.hash, []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare(g.password, []byte(password)) == 1
}

// IssueToken mints a token proving knowledge of the shared secret.
func (g *Gate) IssueToken() (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(g.ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, expires, nil
}

// ValidateToken checks a token issued by this gate.
func (g *Gate) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Throttle allows at most attempts wrong secrets per minute per client.
// Once a client is out of attempts every secret it sends is refused with
// ErrRateLimited, the right one included. Tokens are not throttled. Call
// before serving.
func (g *Gate) Throttle(limiter *quota.RateLimiter, attempts int, key quota.ClientKey) {
	g.limiter = limiter
	g.attempts = attempts
	g.clientKey = key
}

// Authorize reports whether the request carries a valid credential: the
// password header, a Bearer token, or an HTTP Basic password.
func (g *Gate) Authorize(r *http.Request) bool {
	if pw, ok := presentedSecret(r); ok {
		return g.CheckSecret(pw)
	}
	if tok := extractToken(r); tok != "" {
		_, err := g.ValidateToken(tok)
		return err == nil
	}
	return false
}

// Check authorizes r under the throttle. It returns ErrUnauthorized for a
// missing or wrong credential, or ErrRateLimited with the wait when the
// client has no attempts left.
func (g *Gate) Check(r *http.Request) (time.Duration, error) {
	pw, ok := presentedSecret(r)
	if !ok || g.limiter == nil {
		if g.Authorize(r) {
			return 0, nil
		}
		return 0, models.ErrUnauthorized
	}

	key := "secret:" + g.clientKey(r)
	if wait := g.limiter.Wait(key, g.attempts); wait > 0 {
		return wait, models.ErrRateLimited
	}
	if g.CheckSecret(pw) {
		return 0, nil
	}
	g.limiter.Take(key, g.attempts)
	return 0, models.ErrUnauthorized
}

// Middleware rejects requests without a valid credential before they reach
// next, so unauthorized requests never touch the filesystem.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wait, err := g.Check(r)
		if err == nil {
			metrics.RecordAuthAttempt(true)
			next.ServeHTTP(w, r)
			return
		}

		metrics.RecordAuthAttempt(false)
		logger := logging.WithContext(r.Context()).With(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		if errors.Is(err, models.ErrRateLimited) {
			metrics.RecordRateLimitHit()
			retryAfter := quota.RetryAfterSeconds(wait)
			logger.Warn("too many wrong secrets", zap.Int("retry_after", retryAfter))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			sendAuthError(w, http.StatusTooManyRequests, "too many attempts, retry in "+strconv.Itoa(retryAfter)+"s")
			return
		}
		logger.Warn("unauthorized request")
		sendAuthError(w, http.StatusUnauthorized, "missing or invalid credential")
	})
}

// HandleLogin handles POST /api/v1/auth/token
func (g *Gate) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !g.CheckSecret(req.Password) {
		metrics.RecordAuthAttempt(false)
		logging.Warn("login failed", zap.String("remote_addr", r.RemoteAddr))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tokenStr, expires, err := g.IssueToken()
	if err != nil {
		logging.Error("failed to sign token", zap.Error(err))
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	metrics.RecordAuthAttempt(true)
	logging.Info("login successful", zap.String("remote_addr", r.RemoteAddr))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.LoginResponse{
		Token:     tokenStr,
		ExpiresAt: expires,
	})
}

// presentedSecret returns the shared secret carried by r, if any. The
// password header wins over a Bearer token, which wins over Basic auth.
func presentedSecret(r *http.Request) (string, bool) {
	if pw := r.Header.Get(PasswordHeader); pw != "" {
		return pw, true
	}
	if extractToken(r) != "" {
		return "", false
	}
	if _, pw, ok := r.BasicAuth(); ok {
		return pw, true
	}
	return "", false
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	kind := protocol.KindUnauthorized
	switch {
	case code == http.StatusBadRequest:
		kind = protocol.KindBadRequest
	case code == http.StatusTooManyRequests:
		kind = protocol.KindRateLimited
	case code >= 500:
		kind = protocol.KindIOError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
		Kind:  kind,
	})
}

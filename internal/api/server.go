// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/internal/auth"
	"github.com/mahmoud-eltahawy/webls/internal/config"
	"github.com/mahmoud-eltahawy/webls/internal/events"
	"github.com/mahmoud-eltahawy/webls/internal/fileops"
	"github.com/mahmoud-eltahawy/webls/internal/lister"
	"github.com/mahmoud-eltahawy/webls/internal/logging"
	"github.com/mahmoud-eltahawy/webls/internal/metrics"
	"github.com/mahmoud-eltahawy/webls/internal/quota"
	"github.com/mahmoud-eltahawy/webls/internal/sandbox"
	davpkg "github.com/mahmoud-eltahawy/webls/internal/webdav"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

// sseKeepAlive is how often an idle event stream gets a comment line.
var sseKeepAlive = 30 * time.Second

// Server is the HTTP server.
type Server struct {
	sb     *sandbox.Sandbox
	ops    *fileops.FileOps
	lister *lister.Lister
	gate   *auth.Gate
	config *config.Config

	// SSE
	broadcaster *events.Broadcaster

	// Login throttling
	rateLimiter *quota.RateLimiter
}

// NewServer creates a new server.
func NewServer(
	rc *config.RootContext,
	ops *fileops.FileOps,
	ls *lister.Lister,
	gate *auth.Gate,
	broadcaster *events.Broadcaster,
	rateLimiter *quota.RateLimiter,
	cfg *config.Config,
) *Server {
	// Wrong secrets sent straight to mutating routes are throttled at the
	// login rate.
	gate.Throttle(rateLimiter, cfg.LoginRate, quota.RemoteIP)
	return &Server{
		sb:          rc.Sandbox(),
		ops:         ops,
		lister:      ls,
		gate:        gate,
		config:      cfg,
		broadcaster: broadcaster,
		rateLimiter: rateLimiter,
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /qr", s.handleQR)
	mux.HandleFunc("GET /api/v1/list", s.handleList)
	mux.HandleFunc("GET /api/v1/list/{path...}", s.handleList)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /download/{path...}", s.handleDownload)

	login := quota.RateLimitMiddleware(s.rateLimiter, s.config.LoginRate, quota.RemoteIP)(
		http.HandlerFunc(s.gate.HandleLogin))
	mux.Handle("POST /api/v1/auth/token", login)

	// WebDAV endpoint (has its own auth middleware)
	if s.config.WebDAV {
		davHandler := davpkg.NewHandler(s.sb, s.gate, s.broadcaster)
		mux.Handle(davpkg.Prefix+"/", davHandler)
		mux.Handle(davpkg.Prefix, davHandler)
	}

	// Mutating endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/v1/remove", s.handleRemove)
	protected.HandleFunc("POST /api/v1/copy", s.handleCopy)
	protected.HandleFunc("POST /api/v1/move", s.handleMove)
	protected.HandleFunc("POST /api/v1/mkdir", s.handleMkdir)
	protected.HandleFunc("POST /api/v1/upload", s.handleUpload)
	mux.Handle("POST /api/v1/", s.gate.Middleware(protected))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, r, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// publishEvent publishes a change event if anything was changed.
func (s *Server) publishEvent(eventType string, paths, dirs []string) {
	if s.broadcaster == nil || len(dirs) == 0 {
		return
	}
	s.broadcaster.Publish(events.Event{
		Type:  eventType,
		Paths: paths,
		Dirs:  dirs,
	})
}

// ─── QR ─────────────────────────────────────────────────────────────────────

// PublicURL returns the address clients should use, falling back to the
// request's own host.
func (s *Server) PublicURL(r *http.Request) string {
	if s.config.PublicURL != "" {
		return s.config.PublicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(s.PublicURL(r), qrcode.Medium, 256)
	if err != nil {
		s.sendError(w, r, fmt.Errorf("encode qr code: %w", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(png)
}

// ─── Errors ─────────────────────────────────────────────────────────────────

var kindStatus = map[string]int{
	protocol.KindPathEscape:    http.StatusForbidden,
	protocol.KindNotFound:      http.StatusNotFound,
	protocol.KindNotADirectory: http.StatusBadRequest,
	protocol.KindIsDirectory:   http.StatusBadRequest,
	protocol.KindAlreadyExists: http.StatusConflict,
	protocol.KindIOError:       http.StatusInternalServerError,
	protocol.KindUnauthorized:  http.StatusUnauthorized,
	protocol.KindBadRequest:    http.StatusBadRequest,
	protocol.KindRateLimited:   http.StatusTooManyRequests,
}

// statusFor maps an error to its HTTP status through its error kind.
func statusFor(err error) int {
	if code, ok := kindStatus[protocol.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// publicMessage strips the sandbox root from error text so clients only
// ever see their own relative paths.
func (s *Server) publicMessage(err error) string {
	msg := err.Error()
	msg = strings.ReplaceAll(msg, s.sb.Root()+"/", "")
	return strings.ReplaceAll(msg, s.sb.Root(), "/")
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	logger := logging.WithContext(r.Context())
	if code >= 500 {
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		logger.Warn("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: s.publicMessage(err),
		Code:  code,
		Kind:  protocol.KindOf(err),
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", models.ErrBadRequest, err)
	}
	return nil
}

// Package webdav mounts the sandbox root over WebDAV. Reads are public like
// the download route; writes need the shared secret.
package webdav

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/mahmoud-eltahawy/webls/internal/auth"
	"github.com/mahmoud-eltahawy/webls/internal/events"
	"github.com/mahmoud-eltahawy/webls/internal/logging"
	"github.com/mahmoud-eltahawy/webls/internal/quota"
	"github.com/mahmoud-eltahawy/webls/internal/sandbox"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
)

// Prefix is where the WebDAV handler is mounted.
const Prefix = "/webdav"

// Publisher receives change events for successful writes.
type Publisher interface {
	Publish(events.Event)
}

// NewHandler creates a WebDAV HTTP handler with write authentication.
func NewHandler(sb *sandbox.Sandbox, gate *auth.Gate, pub Publisher) http.Handler {
	davHandler := &webdav.Handler{
		FileSystem: &SandboxFS{sb: sb},
		LockSystem: webdav.NewMemLS(),
		Prefix:     Prefix,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logging.WithContext(r.Context()).Warn("webdav request failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
				return
			}
			if ev, ok := changeEvent(r); ok && pub != nil {
				pub.Publish(ev)
			}
		},
	}
	return WriteAuthMiddleware(gate)(davHandler)
}

// WriteAuthMiddleware lets read-only methods through and requires a valid
// credential (Basic password or Bearer token) for everything else. Wrong
// passwords count against the gate's throttle.
func WriteAuthMiddleware(gate *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isReadOnly(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			wait, err := gate.Check(r)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			logger := logging.WithContext(r.Context()).With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
			if errors.Is(err, models.ErrRateLimited) {
				retryAfter := quota.RetryAfterSeconds(wait)
				logger.Warn("webdav write throttled", zap.Int("retry_after", retryAfter))
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Too many attempts", http.StatusTooManyRequests)
				return
			}
			logger.Warn("webdav write rejected")
			w.Header().Set("WWW-Authenticate", `Basic realm="webls"`)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
		})
	}
}

func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
		return true
	}
	return false
}

// changeEvent maps a successful WebDAV write to a change event.
func changeEvent(r *http.Request) (events.Event, bool) {
	name := clientPath(r.URL.Path)
	var typ string
	switch r.Method {
	case http.MethodPut:
		typ = events.EventUpload
	case "MKCOL":
		typ = events.EventMkdir
	case http.MethodDelete:
		typ = events.EventRemove
	case "COPY":
		typ = events.EventCopy
	case "MOVE":
		typ = events.EventMove
	default:
		return events.Event{}, false
	}

	var extra []string
	if dest := r.Header.Get("Destination"); dest != "" {
		if u, err := url.Parse(dest); err == nil {
			extra = append(extra, parentDir(clientPath(u.Path)))
		}
	}
	return events.Event{
		Type:  typ,
		Paths: []string{name},
		Dirs:  protocol.ParentDirs([]string{name}, extra...),
	}, true
}

func clientPath(p string) string {
	return strings.Trim(strings.TrimPrefix(p, Prefix), "/")
}

func parentDir(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// Package protocol defines the API request/response types.
package protocol

import (
	"errors"
	"path"
	"sort"
	"time"

	"github.com/mahmoud-eltahawy/webls/pkg/models"
)

// Error kinds carried in ErrorResponse.Kind.
const (
	KindPathEscape    = "path_escape"
	KindNotFound      = "not_found"
	KindNotADirectory = "not_a_directory"
	KindIsDirectory   = "is_a_directory"
	KindAlreadyExists = "already_exists"
	KindIOError       = "io_error"
	KindUnauthorized  = "unauthorized"
	KindBadRequest    = "bad_request"
	KindRateLimited   = "rate_limited"
)

var kindErrors = []struct {
	kind string
	err  error
}{
	{KindPathEscape, models.ErrPathEscape},
	{KindNotFound, models.ErrNotFound},
	{KindNotADirectory, models.ErrNotADirectory},
	{KindIsDirectory, models.ErrIsDirectory},
	{KindAlreadyExists, models.ErrAlreadyExists},
	{KindUnauthorized, models.ErrUnauthorized},
	{KindBadRequest, models.ErrBadRequest},
	{KindRateLimited, models.ErrRateLimited},
	{KindIOError, models.ErrIO},
}

// KindOf classifies err into a wire error kind. Errors outside the
// taxonomy are reported as io_error.
func KindOf(err error) string {
	for _, ke := range kindErrors {
		if errors.Is(err, ke.err) {
			return ke.kind
		}
	}
	return KindIOError
}

// ErrorForKind returns the sentinel error for a wire error kind.
func ErrorForKind(kind string) error {
	for _, ke := range kindErrors {
		if ke.kind == kind {
			return ke.err
		}
	}
	return models.ErrIO
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// ListResponse is returned by GET /api/v1/list/{path}
type ListResponse struct {
	Path  string        `json:"path"`
	Units []models.Unit `json:"units"`
}

// RemoveRequest is the body for POST /api/v1/remove
type RemoveRequest struct {
	Paths []string `json:"paths"`
}

// TransferRequest is the body for POST /api/v1/copy and POST /api/v1/move
type TransferRequest struct {
	Sources     []string `json:"sources"`
	Destination string   `json:"destination"`
}

// BatchResponse reports the outcome of a fail-fast batch operation.
// Completed lists the paths processed before the failure; Failed is the
// path the batch stopped at. Entries after Failed were not attempted.
type BatchResponse struct {
	Completed []string `json:"completed"`
	Failed    string   `json:"failed,omitempty"`
	Error     string   `json:"error,omitempty"`
	Kind      string   `json:"kind,omitempty"`
}

// MkdirRequest is the body for POST /api/v1/mkdir
type MkdirRequest struct {
	Path string `json:"path"`
}

// UploadField reports the outcome of one multipart field.
type UploadField struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// UploadResponse is returned by POST /api/v1/upload
type UploadResponse struct {
	Fields []UploadField `json:"fields"`
}

// LoginRequest is the body for POST /api/v1/auth/token
type LoginRequest struct {
	Password string `json:"password"`
}

// LoginResponse carries a token minted from the shared secret.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChangeEvent is published over SSE after a mutation. Dirs lists the
// directories whose listing changed.
type ChangeEvent struct {
	Type      string   `json:"type"`
	Paths     []string `json:"paths,omitempty"`
	Dirs      []string `json:"dirs"`
	Timestamp int64    `json:"timestamp"`
}

// Affects reports whether e changed the listing of dir.
func (e ChangeEvent) Affects(dir string) bool {
	for _, d := range e.Dirs {
		if d == dir {
			return true
		}
	}
	return false
}

// ParentDirs returns the distinct parent directories of the given client
// paths, plus any extra directories, sorted. The root is "".
func ParentDirs(paths []string, extra ...string) []string {
	seen := make(map[string]struct{})
	for _, p := range paths {
		dir := path.Dir(p)
		if dir == "." || dir == "/" {
			dir = ""
		}
		seen[dir] = struct{}{}
	}
	for _, d := range extra {
		seen[d] = struct{}{}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

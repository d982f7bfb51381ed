package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
)

// ErrOffline is returned when the server cannot be reached.
var ErrOffline = errors.New("server is offline")

// APIError is a non-2xx response. It unwraps to the taxonomy sentinel for
// its kind, so callers match it with errors.Is(err, models.ErrNotFound).
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Kind)
}

func (e *APIError) Unwrap() error {
	return protocol.ErrorForKind(e.Kind)
}

// BatchError reports where a remote batch operation stopped. Completed
// entries were processed; Failed is the entry the server stopped at.
type BatchError struct {
	Op        string
	Completed []string
	Failed    string
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s stopped at %s (%d completed): %v", e.Op, e.Failed, len(e.Completed), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// AsBatch checks if an error is a BatchError and returns it.
func AsBatch(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// kindForStatus guesses a kind for responses without a JSON body.
func kindForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return protocol.KindUnauthorized
	case http.StatusForbidden:
		return protocol.KindPathEscape
	case http.StatusNotFound:
		return protocol.KindNotFound
	case http.StatusConflict:
		return protocol.KindAlreadyExists
	case http.StatusTooManyRequests:
		return protocol.KindRateLimited
	case http.StatusBadRequest:
		return protocol.KindBadRequest
	}
	return protocol.KindIOError
}

func newAPIError(status int, kind, message string) *APIError {
	if kind == "" {
		kind = kindForStatus(status)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &APIError{Status: status, Kind: kind, Message: message}
}

// decodeError builds an APIError from an error response body.
func decodeError(resp *http.Response) *APIError {
	var errResp protocol.ErrorResponse
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	json.Unmarshal(body, &errResp)
	return newAPIError(resp.StatusCode, errResp.Kind, errResp.Error)
}

// Package client talks to a locker server over HTTP. Reads are retried
// with backoff; mutations are sent exactly once because copy, move,
// remove and upload are not idempotent.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mahmoud-eltahawy/webls/pkg/logger"
	"github.com/mahmoud-eltahawy/webls/pkg/models"
	"github.com/mahmoud-eltahawy/webls/pkg/protocol"
	"github.com/mahmoud-eltahawy/webls/pkg/retry"
)

// PasswordHeader carries the shared secret on mutating requests.
const PasswordHeader = "X-Locker-Password"

// Client is an HTTP client for the locker API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config

	mu       sync.RWMutex
	online   bool
	lastPing time.Time
	password string
	token    string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	Password    string
	Token       string
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
		password:    cfg.Password,
		token:       cfg.Token,
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetPassword sets the shared secret sent with mutating requests.
func (c *Client) SetPassword(password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.password = password
}

// SetToken sets the bearer token sent with mutating requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// HasCredential reports whether mutating requests carry a credential.
func (c *Client) HasCredential() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != "" || c.password != ""
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.password != "":
		req.Header.Set(PasswordHeader, c.password)
	}
}

// IsOnline returns true if the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logger.Info("server is back online", zap.String("url", c.baseURL))
		} else {
			logger.Warn("server is offline", zap.String("url", c.baseURL))
		}
	}
	c.online = online
	c.lastPing = time.Now()
}

// escapePath escapes each segment of a slash separated relative path.
func escapePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// get performs a retried GET and returns the response for a 2xx status.
// 5xx responses and network errors are retried.
func (c *Client) get(ctx context.Context, route string) (*http.Response, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+route, nil)
		if err != nil {
			return nil, err
		}
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return nil, retry.Retryable(fmt.Errorf("%w: %w", ErrOffline, err))
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer resp.Body.Close()
			apiErr := decodeError(resp)
			if resp.StatusCode >= 500 {
				c.setOnline(false)
				return nil, retry.Retryable(apiErr)
			}
			c.setOnline(true)
			return nil, apiErr
		}
		c.setOnline(true)
		return resp, nil
	})
}

// send performs a single request with a JSON body. Mutations are never
// retried.
func (c *Client) send(ctx context.Context, method, route string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return nil, fmt.Errorf("%w: %w", ErrOffline, err)
	}
	c.setOnline(true)
	return resp, nil
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// List returns the entries of dir in display order.
func (c *Client) List(ctx context.Context, dir string) ([]models.Unit, error) {
	route := "/api/v1/list"
	if p := escapePath(dir); p != "" {
		route += "/" + p
	}
	resp, err := c.get(ctx, route)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", dir, err)
	}
	defer resp.Body.Close()

	var listResp protocol.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("list %q: decode: %w", dir, err)
	}
	models.SortUnits(listResp.Units)
	return listResp.Units, nil
}

// Remove deletes files. The server stops at the first failure.
func (c *Client) Remove(ctx context.Context, paths []string) error {
	_, err := c.batch(ctx, "remove", protocol.RemoveRequest{Paths: paths})
	return err
}

// Copy copies files into dest, overwriting same-named files.
func (c *Client) Copy(ctx context.Context, sources []string, dest string) error {
	_, err := c.batch(ctx, "copy", protocol.TransferRequest{Sources: sources, Destination: dest})
	return err
}

// Move copies files into dest and deletes each source after its copy.
func (c *Client) Move(ctx context.Context, sources []string, dest string) error {
	_, err := c.batch(ctx, "move", protocol.TransferRequest{Sources: sources, Destination: dest})
	return err
}

func (c *Client) batch(ctx context.Context, op string, body any) ([]string, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/v1/"+op, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	var batchResp protocol.BatchResponse
	json.Unmarshal(raw, &batchResp)

	if resp.StatusCode == http.StatusOK {
		return batchResp.Completed, nil
	}

	apiErr := newAPIError(resp.StatusCode, batchResp.Kind, batchResp.Error)
	if batchResp.Failed == "" {
		return batchResp.Completed, fmt.Errorf("%s: %w", op, apiErr)
	}
	return batchResp.Completed, &BatchError{
		Op:        op,
		Completed: batchResp.Completed,
		Failed:    batchResp.Failed,
		Err:       apiErr,
	}
}

// MakeDirectory creates one directory. Its parent must exist.
func (c *Client) MakeDirectory(ctx context.Context, p string) error {
	resp, err := c.send(ctx, http.MethodPost, "/api/v1/mkdir", protocol.MkdirRequest{Path: p})
	if err != nil {
		return fmt.Errorf("mkdir %q: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mkdir %q: %w", p, decodeError(resp))
	}
	return nil
}

// UploadFile is one file of an upload. Path is the destination relative
// to the root.
type UploadFile struct {
	Path    string
	Content io.Reader
}

type uploadReply struct {
	protocol.UploadResponse
	protocol.ErrorResponse
}

// Upload streams files as one multipart request. Fields are written
// independently on the server; the returned error is the first field
// failure, and the response lists every field.
func (c *Client) Upload(ctx context.Context, files []UploadFile) (*protocol.UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		for _, f := range files {
			part, err := mw.CreateFormFile(f.Path, path.Base(f.Path))
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.Copy(part, f.Content); err != nil {
				pw.CloseWithError(fmt.Errorf("read %s: %w", f.Path, err))
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		c.setOnline(false)
		return nil, fmt.Errorf("upload: %w: %w", ErrOffline, err)
	}
	defer resp.Body.Close()
	c.setOnline(true)

	var reply uploadReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("upload: decode: %w", err)
	}

	for _, f := range reply.Fields {
		if f.Error != "" {
			return &reply.UploadResponse, fmt.Errorf("upload %s: %w", f.Path, newAPIError(resp.StatusCode, f.Kind, f.Error))
		}
	}
	if resp.StatusCode != http.StatusOK {
		return &reply.UploadResponse, fmt.Errorf("upload: %w", newAPIError(resp.StatusCode, reply.Kind, reply.ErrorResponse.Error))
	}
	logger.Debug("upload complete", zap.Int("fields", len(reply.Fields)))
	return &reply.UploadResponse, nil
}

// Login exchanges the shared secret for a token and keeps it for later
// requests.
func (c *Client) Login(ctx context.Context, password string) (*protocol.LoginResponse, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/v1/auth/token", protocol.LoginRequest{Password: password})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login: %w", decodeError(resp))
	}
	var loginResp protocol.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, fmt.Errorf("login: decode: %w", err)
	}
	c.SetToken(loginResp.Token)
	return &loginResp, nil
}

// Download opens a file for reading. The caller closes the reader.
func (c *Client) Download(ctx context.Context, p string) (io.ReadCloser, int64, error) {
	resp, err := c.get(ctx, "/download/"+escapePath(p))
	if err != nil {
		return nil, 0, fmt.Errorf("download %q: %w", p, err)
	}
	return resp.Body, resp.ContentLength, nil
}

// QR returns the server's QR code PNG.
func (c *Client) QR(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, "/qr")
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

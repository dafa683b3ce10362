// Package platform is the HTTP client for the Orca platform API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Orcapt/orca-cli/internal/credentials"
	"github.com/Orcapt/orca-cli/pkg/errx"
)

// Endpoint paths.
const (
	PathDeploy        = "/api/v1/lambda/deploy"
	PathDeployConfirm = "/api/v1/lambda/deploy/confirm"
	PathLambdas       = "/api/v1/lambda"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 * 1024

var (
	ErrHTTPStatus = errx.NewSentinel("platform API returned an error", errx.CodeAPI, errx.DescAPI)
	ErrTransport  = errx.NewSentinel("platform API unreachable", errx.CodeAPI, errx.DescAPI)
	ErrDecode     = errx.NewSentinel("invalid platform API response", errx.CodeAPI, errx.DescAPI)
	ErrRequest    = errx.NewSentinel("invalid platform API request", errx.CodeAPI, errx.DescAPI)
)

// HTTPError is a non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// Message returns the "message" or "error" field of a JSON body, or the raw
// body otherwise.
func (e *HTTPError) Message() string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(e.Body)
}

// TransportError is a request that never produced a response.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config is resolved once at startup.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Client sends authenticated JSON requests.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request sends body as JSON and decodes a 2xx response into out. Both body
// and out may be nil. Non-2xx responses yield an error wrapping *HTTPError;
// network failures wrap *TransportError.
func (c *Client) Request(ctx context.Context, method, path string, creds credentials.Bundle, body, out any) error {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errx.WrapSentinel(ErrRequest, err, fmt.Sprintf("failed to encode request body: %v", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errx.WrapSentinel(ErrRequest, err, fmt.Sprintf("failed to create request: %v", err))
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("X-Workspace", creds.Workspace)
	if creds.Mode != "" {
		req.Header.Set("X-Mode", creds.Mode)
	}
	req.Header.Set("X-Request-ID", requestID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug("Platform API request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		terr := &TransportError{Method: method, URL: url, Err: err}
		return errx.WrapSentinelWithContext(ErrTransport, terr,
			fmt.Sprintf("could not reach the platform API: %v", err),
			map[string]any{"method": method, "path": path, "request_id": requestID},
		)
	}
	defer resp.Body.Close()

	c.logger.Debug("Platform API response",
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		herr := &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
		return errx.WrapSentinelWithContext(ErrHTTPStatus, herr,
			fmt.Sprintf("platform API %s %s failed: %s", method, path, herr.Error()),
			map[string]any{"status": resp.StatusCode, "path": path, "request_id": requestID},
		)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return errx.WrapSentinelWithContext(ErrDecode, err,
			fmt.Sprintf("failed to decode platform API response: %v", err),
			map[string]any{"path": path, "request_id": requestID},
		)
	}
	return nil
}

// AsHTTPError extracts the *HTTPError from err.
func AsHTTPError(err error) (*HTTPError, bool) {
	var herr *HTTPError
	ok := errors.As(err, &herr)
	return herr, ok
}

// IsTransport reports whether err is a network failure rather than an HTTP
// status.
func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

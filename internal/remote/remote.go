// Package remote is the thin JSON-over-HTTP layer shared by the recordings library and auth clients.
// Every request carries an optional bearer token; failures come back as *Error values that match
// the caller's sentinel with errors.Is.
package remote

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
)

// maxErrorBody bounds how much of a failed response is read looking for a message.
const maxErrorBody = 64 * 1024

// Error is a failed exchange with the remote store.
type Error struct {
	Op         error // sentinel the error matches, e.g. library.ErrRenameFailed
	StatusCode int   // 0 when the request never got a response
	Message    string
	Err        error
}

// Error returns the remote message verbatim when present, else a generic description.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d)", e.Op, e.StatusCode)
	}
	return e.Op.Error()
}

func (e *Error) Is(target error) bool { return target == e.Op }

func (e *Error) Unwrap() error { return e.Err }

// Ops names the sentinels a request reports: Rejected for non-2xx or bad bodies, Transport for network failures.
type Ops struct {
	Rejected  error
	Transport error
}

// Client sends authenticated requests to a base URL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration // per request; 0 = only ctx bounds the call
}

// New creates a remote client. The http.Client has no global timeout so streamed uploads are bounded by ctx only.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Transport: &http.Transport{Proxy: http.ProxyFromEnvironment, MaxIdleConnsPerHost: 4}},
		Timeout:    timeout,
	}
}

// Request describes one exchange.
type Request struct {
	Method      string
	Path        string
	Token       string
	JSON        any       // marshalled as the body when Body is nil
	Body        io.Reader // raw body, e.g. a multipart stream
	ContentType string
	NoTimeout   bool // skip the per-request timeout (streamed uploads)
}

// Do performs the request and decodes a 2xx JSON body into out (may be nil).
func (c *Client) Do(ctx context.Context, r Request, ops Ops, out any) error {
	if c.Timeout > 0 && !r.NoTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body := r.Body
	contentType := r.ContentType
	if body == nil && r.JSON != nil {
		raw, err := json.Marshal(r.JSON)
		if err != nil {
			return &Error{Op: ops.Rejected, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.BaseURL+r.Path, body)
	if err != nil {
		return &Error{Op: ops.Transport, Err: fmt.Errorf("create request: %w", err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &Error{Op: ops.Transport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{Op: ops.Rejected, StatusCode: resp.StatusCode, Message: messageFrom(raw)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: ops.Transport, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: ops.Rejected, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// messageFrom extracts {"message": "..."} from an error body. Bodies that are not JSON yield "".
func messageFrom(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Message)
}

// HTTPStatus maps a failed exchange to the status the agent reports to its own callers:
// 4xx answers from the store pass through, everything else is a bad gateway.
func HTTPStatus(err error) int {
	var re *Error
	if !errors.As(err, &re) {
		return http.StatusInternalServerError
	}
	if re.StatusCode >= 400 && re.StatusCode < 500 {
		return re.StatusCode
	}
	return http.StatusBadGateway
}

package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/internal/models"
	"github.com/aura-webinar/screenrec/internal/remote"
)

var (
	ErrUploadRejected  = errors.New("failed to save video")
	ErrUploadTransport = errors.New("failed to reach recordings store")
	ErrFetch           = errors.New("failed to load library")
	ErrRenameFailed    = errors.New("failed to rename recording")
	ErrDeleteFailed    = errors.New("failed to delete recording")
	ErrShareLink       = errors.New("failed to get share link")
	ErrEmptyName       = errors.New("name must not be empty")
)

// UploadRequest is a finalized recording to store remotely.
type UploadRequest struct {
	Name            string
	MimeType        string
	Body            io.Reader
	DurationSeconds int
	Timestamp       string // ISO-8601
}

// UploadResult is the remote store's answer to an upload.
type UploadResult struct {
	VideoID   string `json:"videoId"`
	ShareLink string `json:"shareLink"`
}

// Client talks to the remote recordings store and keeps the last loaded library.
// Every call takes the bearer token from the caller; the client never acquires or refreshes tokens.
type Client struct {
	remote *remote.Client
	logger *zap.Logger

	mu      sync.RWMutex
	entries []models.LibraryEntry
}

// NewClient creates a library client for the store at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		remote: remote.New(baseURL, timeout),
		logger: logger.With(zap.String("component", "library")),
	}
}

// Upload handles POST /recordings/upload as multipart: video, duration, timestamp.
// The payload is streamed, never buffered whole.
func (c *Client) Upload(ctx context.Context, token string, req UploadRequest) (UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(mw, req))
	}()

	var out UploadResult
	err := c.remote.Do(ctx, remote.Request{
		Method:      http.MethodPost,
		Path:        "/recordings/upload",
		Token:       token,
		Body:        pr,
		ContentType: mw.FormDataContentType(),
		NoTimeout:   true,
	}, remote.Ops{Rejected: ErrUploadRejected, Transport: ErrUploadTransport}, &out)
	_ = pr.Close()
	if err != nil {
		c.logger.Warn("upload failed", zap.String("name", req.Name), zap.Error(err))
		return UploadResult{}, err
	}
	if out.VideoID == "" {
		return UploadResult{}, &remote.Error{Op: ErrUploadRejected, StatusCode: http.StatusOK, Err: errors.New("response missing videoId")}
	}
	c.logger.Info("recording uploaded", zap.String("video_id", out.VideoID), zap.String("name", req.Name))
	return out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeUploadForm(mw *multipart.Writer, req UploadRequest) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename="%s"`, quoteEscaper.Replace(req.Name)))
	contentType := req.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create video part: %w", err)
	}
	if _, err := io.Copy(part, req.Body); err != nil {
		return fmt.Errorf("write video part: %w", err)
	}
	if err := mw.WriteField("duration", strconv.Itoa(req.DurationSeconds)); err != nil {
		return fmt.Errorf("write duration: %w", err)
	}
	if err := mw.WriteField("timestamp", req.Timestamp); err != nil {
		return fmt.Errorf("write timestamp: %w", err)
	}
	return mw.Close()
}

// LoadLibrary handles GET /recordings?user_id=... and replaces the cached library wholesale.
// On failure the cache keeps its previous value and ErrFetch is returned.
func (c *Client) LoadLibrary(ctx context.Context, userID, token string) ([]models.LibraryEntry, error) {
	var out struct {
		Videos []models.LibraryEntry `json:"videos"`
	}
	path := "/recordings?" + url.Values{"user_id": {userID}}.Encode()
	err := c.remote.Do(ctx, remote.Request{Method: http.MethodGet, Path: path, Token: token},
		remote.Ops{Rejected: ErrFetch, Transport: ErrFetch}, &out)
	if err != nil {
		c.logger.Warn("load library failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	entries := out.Videos
	if entries == nil {
		entries = []models.LibraryEntry{}
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	c.logger.Debug("library loaded", zap.Int("count", len(entries)))
	return cloneEntries(entries), nil
}

// ShareLink handles GET /recordings/{id}/upload-link. Every call goes to the store.
func (c *Client) ShareLink(ctx context.Context, id, token string) (string, error) {
	var out struct {
		ShareLink string `json:"shareLink"`
	}
	err := c.remote.Do(ctx, remote.Request{Method: http.MethodGet, Path: "/recordings/" + url.PathEscape(id) + "/upload-link", Token: token},
		remote.Ops{Rejected: ErrShareLink, Transport: ErrShareLink}, &out)
	if err != nil {
		return "", err
	}
	if out.ShareLink == "" {
		return "", &remote.Error{Op: ErrShareLink, StatusCode: http.StatusOK, Err: errors.New("response missing shareLink")}
	}

	c.mu.Lock()
	if i := c.indexOf(id); i >= 0 {
		c.entries[i].ShareLink = out.ShareLink
	}
	c.mu.Unlock()
	return out.ShareLink, nil
}

// DeleteEntry handles DELETE /recordings/{id}. The cached entry is dropped only after the store confirms.
func (c *Client) DeleteEntry(ctx context.Context, id, token string) error {
	err := c.remote.Do(ctx, remote.Request{Method: http.MethodDelete, Path: "/recordings/" + url.PathEscape(id), Token: token},
		remote.Ops{Rejected: ErrDeleteFailed, Transport: ErrDeleteFailed}, nil)
	if err != nil {
		c.logger.Warn("delete failed", zap.String("id", id), zap.Error(err))
		return err
	}

	c.mu.Lock()
	if i := c.indexOf(id); i >= 0 {
		c.entries = append(c.entries[:i:i], c.entries[i+1:]...)
	}
	c.mu.Unlock()
	return nil
}

// RenameEntry handles PATCH /recordings/{id}/rename. The cached name changes only after the store confirms.
// A blank name fails with ErrEmptyName before any request is made.
func (c *Client) RenameEntry(ctx context.Context, id, name, token string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	err := c.remote.Do(ctx, remote.Request{
		Method: http.MethodPatch,
		Path:   "/recordings/" + url.PathEscape(id) + "/rename",
		Token:  token,
		JSON:   map[string]string{"name": name},
	}, remote.Ops{Rejected: ErrRenameFailed, Transport: ErrRenameFailed}, nil)
	if err != nil {
		c.logger.Warn("rename failed", zap.String("id", id), zap.Error(err))
		return err
	}

	c.mu.Lock()
	if i := c.indexOf(id); i >= 0 {
		c.entries[i].Name = name
	}
	c.mu.Unlock()
	return nil
}

// Entries returns a copy of the cached library in remote order.
func (c *Client) Entries() []models.LibraryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneEntries(c.entries)
}

// Search filters the cached library by a case-insensitive name match. An empty query returns everything.
func (c *Client) Search(query string) []models.LibraryEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.LibraryEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if q == "" || strings.Contains(strings.ToLower(e.Name), q) {
			out = append(out, e)
		}
	}
	return out
}

// indexOf must be called with mu held.
func (c *Client) indexOf(id string) int {
	for i := range c.entries {
		if c.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneEntries(in []models.LibraryEntry) []models.LibraryEntry {
	out := make([]models.LibraryEntry, len(in))
	copy(out, in)
	return out
}

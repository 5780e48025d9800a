// Package recordings exposes the local recording session over HTTP for the recorder UI and CLI.
package recordings

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/internal/auth"
	"github.com/aura-webinar/screenrec/internal/models"
	"github.com/aura-webinar/screenrec/internal/recorder"
	"github.com/aura-webinar/screenrec/internal/remote"
	"github.com/aura-webinar/screenrec/pkg/response"
)

// Recorder is the recording session driven by the handler.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (*recorder.Artifact, error)
	Upload(ctx context.Context) (models.LibraryEntry, error)
	Rename(ctx context.Context, name string) (string, error)
	ShareLink(ctx context.Context) (string, error)
	Export(ctx context.Context, exp recorder.Exporter) (string, error)
	Snapshot() recorder.Snapshot
}

// Export targets.
const (
	TargetFile = "file"
	TargetS3   = "s3"
)

// Handler handles the /session endpoints.
type Handler struct {
	session      Recorder
	captureReady func() bool
	exporters    map[string]recorder.Exporter
	fallback     recorder.Exporter // optional: export locally when upload fails
	startTimeout time.Duration
	logger       *zap.Logger
}

// NewHandler creates a session handler. captureReady reports whether a capture page is connected.
func NewHandler(session Recorder, captureReady func() bool, startTimeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if startTimeout <= 0 {
		startTimeout = 30 * time.Second
	}
	return &Handler{
		session:      session,
		captureReady: captureReady,
		exporters:    make(map[string]recorder.Exporter),
		startTimeout: startTimeout,
		logger:       logger,
	}
}

// SetExporter registers an export target (TargetFile, TargetS3).
func (h *Handler) SetExporter(target string, exp recorder.Exporter) { h.exporters[target] = exp }

// SetUploadFallback sets the exporter used when an upload fails. Nil disables the fallback.
func (h *Handler) SetUploadFallback(exp recorder.Exporter) { h.fallback = exp }

type sessionView struct {
	recorder.Snapshot
	CaptureReady bool `json:"capture_ready"`
}

func (h *Handler) view() sessionView {
	v := sessionView{Snapshot: h.session.Snapshot()}
	if h.captureReady != nil {
		v.CaptureReady = h.captureReady()
	}
	return v
}

// Get handles GET /session.
func (h *Handler) Get(c *gin.Context) {
	response.OK(c, h.view())
}

// Start handles POST /session/start. It waits up to the start timeout for a capture page.
func (h *Handler) Start(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.startTimeout)
	defer cancel()
	if err := h.session.Start(ctx); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, h.view())
}

// Stop handles POST /session/stop.
func (h *Handler) Stop(c *gin.Context) {
	if _, err := h.session.Stop(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, h.view())
}

// Upload handles POST /session/upload. On failure, when a fallback is set, the recording is
// exported locally and the location is returned alongside the error.
func (h *Handler) Upload(c *gin.Context) {
	entry, err := h.session.Upload(c.Request.Context())
	if err == nil {
		response.OK(c, entry)
		return
	}
	if h.fallback == nil || errors.Is(err, recorder.ErrNotStopped) {
		h.fail(c, err)
		return
	}
	loc, expErr := h.session.Export(context.WithoutCancel(c.Request.Context()), h.fallback)
	if expErr != nil {
		h.logger.Error("fallback export failed", zap.Error(expErr))
		h.fail(c, err)
		return
	}
	h.logger.Info("upload failed, recording kept locally", zap.String("location", loc))
	c.JSON(statusFor(err), response.Body{Success: false, Error: err.Error(), Data: gin.H{"exported_to": loc}})
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename handles POST /session/rename.
func (h *Handler) Rename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid body")
		return
	}
	name, err := h.session.Rename(c.Request.Context(), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"name": name})
}

// ShareLink handles GET /session/share-link.
func (h *Handler) ShareLink(c *gin.Context) {
	link, err := h.session.ShareLink(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"share_link": link})
}

type exportRequest struct {
	Target string `json:"target"`
}

// Export handles POST /session/export with {"target": "file"|"s3"}; file is the default.
func (h *Handler) Export(c *gin.Context) {
	var req exportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid body")
			return
		}
	}
	if req.Target == "" {
		req.Target = TargetFile
	}
	exp, ok := h.exporters[req.Target]
	if !ok {
		response.ServiceUnavailable(c, fmt.Sprintf("export target %q not configured", req.Target))
		return
	}
	loc, err := h.session.Export(c.Request.Context(), exp)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"target": req.Target, "location": loc})
}

// Download handles GET /session/download by streaming the finalized recording as an attachment.
func (h *Handler) Download(c *gin.Context) {
	if _, err := h.session.Export(c.Request.Context(), attachment{c: c}); err != nil {
		if c.Writer.Written() {
			h.logger.Warn("download interrupted", zap.Error(err))
			return
		}
		h.fail(c, err)
	}
}

// attachment is an Exporter that writes the payload into the HTTP response.
type attachment struct {
	c *gin.Context
}

func (a attachment) Export(_ context.Context, name, mimeType string, payload io.Reader, size int64) (string, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	a.c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	a.c.Header("Content-Length", strconv.FormatInt(size, 10))
	a.c.Header("Content-Type", mimeType)
	a.c.Status(http.StatusOK)
	if _, err := io.Copy(a.c.Writer, payload); err != nil {
		return "", err
	}
	return "download:" + name, nil
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		h.logger.Error("session request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	response.Fail(c, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, recorder.ErrAlreadyCapturing), errors.Is(err, recorder.ErrNotStopped), errors.Is(err, recorder.ErrNotUploaded):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrCaptureDenied):
		return http.StatusForbidden
	case errors.Is(err, recorder.ErrCaptureUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, recorder.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrNoArtifact):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrNotAuthenticated):
		return http.StatusUnauthorized
	}
	var re *remote.Error
	if errors.As(err, &re) {
		return remote.HTTPStatus(err)
	}
	return http.StatusInternalServerError
}

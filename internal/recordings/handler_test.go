package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/screenrec/internal/library"
	"github.com/aura-webinar/screenrec/internal/models"
	"github.com/aura-webinar/screenrec/internal/recorder"
	"github.com/aura-webinar/screenrec/internal/remote"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRecorder struct {
	startErr   error
	uploadErr  error
	renameErr  error
	entry      models.LibraryEntry
	payload    []byte
	noArtifact bool
	startCtx   context.Context
	exported   []string
}

func (f *fakeRecorder) Start(ctx context.Context) error {
	f.startCtx = ctx
	return f.startErr
}

func (f *fakeRecorder) Stop(context.Context) (*recorder.Artifact, error) { return nil, nil }

func (f *fakeRecorder) Upload(context.Context) (models.LibraryEntry, error) {
	return f.entry, f.uploadErr
}

func (f *fakeRecorder) Rename(_ context.Context, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", recorder.ErrEmptyName
	}
	return name, f.renameErr
}

func (f *fakeRecorder) ShareLink(context.Context) (string, error) {
	return "https://share.example/abc", nil
}

func (f *fakeRecorder) Export(ctx context.Context, exp recorder.Exporter) (string, error) {
	if f.noArtifact {
		return "", recorder.ErrNoArtifact
	}
	loc, err := exp.Export(ctx, "demo.webm", "video/webm", bytes.NewReader(f.payload), int64(len(f.payload)))
	if err == nil {
		f.exported = append(f.exported, loc)
	}
	return loc, err
}

func (f *fakeRecorder) Snapshot() recorder.Snapshot {
	return recorder.Snapshot{State: models.SessionStateStopped, Seconds: 3, Elapsed: "00:03"}
}

type memExporter struct {
	got []byte
}

func (m *memExporter) Export(_ context.Context, name, _ string, payload io.Reader, _ int64) (string, error) {
	b, err := io.ReadAll(payload)
	m.got = b
	return "/tmp/exports/" + name, err
}

func newRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/session", h.Get)
	r.POST("/session/start", h.Start)
	r.POST("/session/stop", h.Stop)
	r.POST("/session/upload", h.Upload)
	r.POST("/session/rename", h.Rename)
	r.POST("/session/export", h.Export)
	r.GET("/session/share-link", h.ShareLink)
	r.GET("/session/download", h.Download)
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestGet_IncludesCaptureReadiness(t *testing.T) {
	h := NewHandler(&fakeRecorder{}, func() bool { return true }, time.Second, nil)
	w, env := do(t, newRouter(h), http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"capture_ready":true`)
	assert.Contains(t, string(env.Data), `"state":"stopped"`)
}

func TestStart_BoundedByTimeout(t *testing.T) {
	rec := &fakeRecorder{}
	h := NewHandler(rec, nil, 2*time.Second, nil)
	w, _ := do(t, newRouter(h), http.MethodPost, "/session/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	deadline, ok := rec.startCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), deadline, time.Second)
}

func TestStart_ErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{recorder.ErrAlreadyCapturing, http.StatusConflict},
		{recorder.ErrCaptureDenied, http.StatusForbidden},
		{recorder.ErrCaptureUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h := NewHandler(&fakeRecorder{startErr: tc.err}, nil, time.Second, nil)
		w, env := do(t, newRouter(h), http.MethodPost, "/session/start", "")
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.False(t, env.Success)
		assert.Equal(t, tc.err.Error(), env.Error)
	}
}

func TestUpload_Success(t *testing.T) {
	rec := &fakeRecorder{entry: models.LibraryEntry{ID: "v1", Name: "demo.webm", ShareLink: "https://share/v1"}}
	h := NewHandler(rec, nil, time.Second, nil)
	w, env := do(t, newRouter(h), http.MethodPost, "/session/upload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"shareLink":"https://share/v1"`)
}

func TestUpload_FailureFallsBackToExport(t *testing.T) {
	uploadErr := &remote.Error{Op: library.ErrUploadRejected, StatusCode: 500, Message: "failed to save video"}
	rec := &fakeRecorder{uploadErr: uploadErr, payload: []byte("webm-bytes")}
	fallback := &memExporter{}
	h := NewHandler(rec, nil, time.Second, nil)
	h.SetUploadFallback(fallback)

	w, env := do(t, newRouter(h), http.MethodPost, "/session/upload", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "failed to save video", env.Error)
	assert.Contains(t, string(env.Data), "/tmp/exports/demo.webm")
	assert.Equal(t, []byte("webm-bytes"), fallback.got)
}

func TestUpload_NotStoppedSkipsFallback(t *testing.T) {
	rec := &fakeRecorder{uploadErr: recorder.ErrNotStopped}
	fallback := &memExporter{}
	h := NewHandler(rec, nil, time.Second, nil)
	h.SetUploadFallback(fallback)

	w, _ := do(t, newRouter(h), http.MethodPost, "/session/upload", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Nil(t, fallback.got)
}

func TestRename(t *testing.T) {
	h := NewHandler(&fakeRecorder{}, nil, time.Second, nil)
	r := newRouter(h)

	w, env := do(t, r, http.MethodPost, "/session/rename", `{"name":"Demo Clip"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"Demo Clip"}`, string(env.Data))

	w, _ = do(t, r, http.MethodPost, "/session/rename", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRename_RemoteNotFound(t *testing.T) {
	err := &remote.Error{Op: library.ErrRenameFailed, StatusCode: 404, Message: "not found"}
	h := NewHandler(&fakeRecorder{renameErr: err}, nil, time.Second, nil)
	w, env := do(t, newRouter(h), http.MethodPost, "/session/rename", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", env.Error)
}

func TestExport_Targets(t *testing.T) {
	rec := &fakeRecorder{payload: []byte("abc")}
	h := NewHandler(rec, nil, time.Second, nil)
	h.SetExporter(TargetFile, &memExporter{})
	r := newRouter(h)

	w, env := do(t, r, http.MethodPost, "/session/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"target":"file","location":"/tmp/exports/demo.webm"}`, string(env.Data))

	w, env = do(t, r, http.MethodPost, "/session/export", `{"target":"s3"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, env.Error, "not configured")
}

func TestExport_NoArtifact(t *testing.T) {
	h := NewHandler(&fakeRecorder{noArtifact: true}, nil, time.Second, nil)
	h.SetExporter(TargetFile, &memExporter{})
	w, _ := do(t, newRouter(h), http.MethodPost, "/session/export", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownload_StreamsAttachment(t *testing.T) {
	h := NewHandler(&fakeRecorder{payload: []byte("0123456789")}, nil, time.Second, nil)
	w, _ := do(t, newRouter(h), http.MethodGet, "/session/download", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/webm", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="demo.webm"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "0123456789", w.Body.String())
}

func TestDownload_NoArtifact(t *testing.T) {
	h := NewHandler(&fakeRecorder{noArtifact: true}, nil, time.Second, nil)
	w, env := do(t, newRouter(h), http.MethodGet, "/session/download", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, recorder.ErrNoArtifact.Error(), env.Error)
}

func TestStatusFor_Unknown(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSessions struct {
	valid bool
	id    string
}

func (f fakeSessions) Valid() bool    { return f.valid }
func (f fakeSessions) UserID() string { return f.id }

func TestCORS_AllowsListedOrigin(t *testing.T) {
	r := gin.New()
	r.Use(CORS("http://localhost:5500"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://localhost:5500")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:5500", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PrivateNetworkPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS("*"))
	r.POST("/session/start", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/session/start", nil)
	req.Header.Set("Origin", "https://recorder.example")
	req.Header.Set("Access-Control-Request-Private-Network", "true")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Private-Network"))
}

func TestOriginAllowed(t *testing.T) {
	allow := OriginAllowed("http://a, http://b")
	assert.True(t, allow(""))
	assert.True(t, allow("http://b"))
	assert.False(t, allow("http://c"))
	assert.True(t, OriginAllowed("*")("http://c"))
}

func TestRequireSession(t *testing.T) {
	build := func(s SessionChecker) *gin.Engine {
		r := gin.New()
		r.GET("/library", RequireSession(s), func(c *gin.Context) {
			c.String(http.StatusOK, c.GetString(ContextUserID))
		})
		return r
	}

	w := httptest.NewRecorder()
	build(fakeSessions{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/library", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "not logged in or session expired")

	w = httptest.NewRecorder()
	build(fakeSessions{valid: true, id: "u-1"}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/library", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", w.Body.String())
}

func TestLogger_RequestIDAndHealthSkip(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/session", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.Equal(t, 0, logs.Len())

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	if assert.Equal(t, 1, logs.Len()) {
		assert.Equal(t, "req-42", logs.All()[0].ContextMap()["request_id"])
	}
}

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(t *testing.T, store http.HandlerFunc) (*gin.Engine, *Store) {
	t.Helper()
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)
	s, err := OpenStore(filepath.Join(t.TempDir(), "session"), "")
	require.NoError(t, err)

	h := NewHandler(NewClient(srv.URL, time.Second, nil), s, nil)
	r := gin.New()
	r.POST("/auth/login", h.Login)
	r.POST("/auth/signup", h.Signup)
	r.POST("/auth/demo", h.Demo)
	r.POST("/auth/logout", h.Logout)
	r.GET("/auth/me", h.Me)
	r.POST("/auth/password-strength", h.Strength)
	return r, s
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_LoginRemembersEmail(t *testing.T) {
	tok := signed(t, Claims{UserID: "u-1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}})
	r, s := newAuthRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"token": tok, "user": map[string]string{"id": "u-1", "email": "u@e.co"}})
	})

	w := post(r, "/auth/login", `{"email":"u@e.co","password":"secret-pass","remember":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, s.Valid())
	assert.Equal(t, "u@e.co", s.RememberedEmail())

	w = post(r, "/auth/login", `{"email":"u@e.co","password":"secret-pass"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.RememberedEmail())
}

func TestHandler_LoginRejected(t *testing.T) {
	r, s := newAuthRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid email or password"}`))
	})

	w := post(r, "/auth/login", `{"email":"u@e.co","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid email or password")
	assert.False(t, s.Valid())

	w = post(r, "/auth/login", `{"email":"","password":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), ErrMissingFields.Error())
}

func TestHandler_SignupValidation(t *testing.T) {
	called := false
	r, _ := newAuthRouter(t, func(w http.ResponseWriter, req *http.Request) {
		called = true
		w.WriteHeader(http.StatusCreated)
	})

	w := post(r, "/auth/signup", `{"email":"u@e.co","password":"longenough","confirm_password":"different"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), ErrPasswordMismatch.Error())
	assert.False(t, called)

	w = post(r, "/auth/signup", `{"email":"u@e.co","password":"longenough","confirm_password":"longenough"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, called)
}

func TestHandler_DemoMeLogout(t *testing.T) {
	r, s := newAuthRouter(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("demo mode must not reach the store")
	})

	w := post(r, "/auth/demo", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isDemo":true`)
	assert.True(t, s.Valid())

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `"authenticated":true`)
	assert.Contains(t, w.Body.String(), "Guest User")

	w = post(r, "/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, s.Valid())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Contains(t, w.Body.String(), `"authenticated":false`)
	assert.NotContains(t, w.Body.String(), "Guest User")
}

func TestHandler_Strength(t *testing.T) {
	r, _ := newAuthRouter(t, func(w http.ResponseWriter, req *http.Request) {})
	w := post(r, "/auth/password-strength", `{"password":"Abcdefgh1!xyz"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"score":5,"max_score":5,"label":"Strong"}}`, w.Body.String())
}

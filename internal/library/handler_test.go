package library

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/screenrec/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSession struct {
	token string
}

func (f fakeSession) Token(context.Context) (string, error) {
	if f.token == "" {
		return "", auth.ErrNotAuthenticated
	}
	return f.token, nil
}

func (f fakeSession) UserID() string { return "user-7" }

func newLibraryRouter(t *testing.T, sess Session, store http.HandlerFunc) (*gin.Engine, *Client) {
	t.Helper()
	client := newTestClient(t, store)
	h := NewHandler(client, sess, nil)
	r := gin.New()
	r.GET("/library", h.List)
	r.GET("/library/search", h.Search)
	r.PATCH("/library/:id", h.Rename)
	r.DELETE("/library/:id", h.Delete)
	r.GET("/library/:id/share-link", h.ShareLink)
	return r, client
}

type libraryEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Entries []json.RawMessage `json:"entries"`
		Items   []DisplayItem     `json:"items"`
	} `json:"data"`
}

func call(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_ListAndSearch(t *testing.T) {
	r, _ := newLibraryRouter(t, fakeSession{token: testToken}, func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, libraryBody("a", "b"))
	})

	w := call(r, http.MethodGet, "/library", "")
	require.Equal(t, http.StatusOK, w.Code)
	var env libraryEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data.Items, 2)
	assert.Equal(t, "clip a", env.Data.Items[0].Title)
	assert.Equal(t, "00:01:05", env.Data.Items[0].Duration)

	w = call(r, http.MethodGet, "/library/search?q=CLIP%20B", "")
	require.Equal(t, http.StatusOK, w.Code)
	env = libraryEnvelope{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Data.Items, 1)
	assert.Equal(t, "b", env.Data.Items[0].ID)
}

func TestHandler_ListFailureRendersEmpty(t *testing.T) {
	var fail atomic.Bool
	r, client := newLibraryRouter(t, fakeSession{token: testToken}, func(w http.ResponseWriter, req *http.Request) {
		if fail.Load() {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "database down"})
			return
		}
		writeJSON(w, http.StatusOK, libraryBody("a"))
	})
	require.Equal(t, http.StatusOK, call(r, http.MethodGet, "/library", "").Code)

	fail.Store(true)
	w := call(r, http.MethodGet, "/library", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	var env libraryEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "database down", env.Error)
	assert.Empty(t, env.Data.Items)
	assert.Empty(t, env.Data.Entries)
	require.Len(t, client.Entries(), 1)
}

func TestHandler_NotLoggedIn(t *testing.T) {
	r, _ := newLibraryRouter(t, fakeSession{}, func(w http.ResponseWriter, req *http.Request) {
		t.Error("store must not be called without a session")
	})
	w := call(r, http.MethodDelete, "/library/a", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_RenameNotFound(t *testing.T) {
	r, client := newLibraryRouter(t, fakeSession{token: testToken}, func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, libraryBody("a"))
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	})
	require.Equal(t, http.StatusOK, call(r, http.MethodGet, "/library", "").Code)

	w := call(r, http.MethodPatch, "/library/a", `{"name":"new"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"not found"`)
	assert.Equal(t, "clip a", client.Entries()[0].Name)

	w = call(r, http.MethodPatch, "/library/a", `{"name":" "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_DeleteAndShareLink(t *testing.T) {
	r, client := newLibraryRouter(t, fakeSession{token: testToken}, func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/recordings":
			writeJSON(w, http.StatusOK, libraryBody("a", "b"))
		case req.Method == http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]string{"shareLink": "https://share/" + strings.Split(req.URL.Path, "/")[2]})
		case req.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	require.Equal(t, http.StatusOK, call(r, http.MethodGet, "/library", "").Code)

	w := call(r, http.MethodGet, "/library/b/share-link", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://share/b")

	w = call(r, http.MethodDelete, "/library/a", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"b"}, ids(client.Entries()))
}

package library

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/internal/models"
	"github.com/aura-webinar/screenrec/internal/remote"
	"github.com/aura-webinar/screenrec/pkg/response"
)

// Session supplies the bearer token and user id for store calls.
type Session interface {
	Token(ctx context.Context) (string, error)
	UserID() string
}

// Handler serves the /library endpoints on top of a Client.
type Handler struct {
	client  *Client
	session Session
	logger  *zap.Logger
}

// NewHandler creates a library handler.
func NewHandler(client *Client, session Session, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{client: client, session: session, logger: logger}
}

type libraryView struct {
	Entries []models.LibraryEntry `json:"entries"`
	Items   []DisplayItem         `json:"items"`
}

func view(entries []models.LibraryEntry) libraryView {
	return libraryView{Entries: entries, Items: Present(entries, nil)}
}

// List handles GET /library: reloads from the store and returns entries with display rows.
// When the reload fails the response carries the error and an empty library; the cache is left as it was.
func (h *Handler) List(c *gin.Context) {
	token, ok := h.token(c)
	if !ok {
		return
	}
	entries, err := h.client.LoadLibrary(c.Request.Context(), h.session.UserID(), token)
	if err != nil {
		c.JSON(remote.HTTPStatus(err), response.Body{Success: false, Error: err.Error(), Data: view([]models.LibraryEntry{})})
		return
	}
	response.OK(c, view(entries))
}

// Search handles GET /library/search?q=. It filters the last loaded library without a store call.
func (h *Handler) Search(c *gin.Context) {
	response.OK(c, view(h.client.Search(c.Query("q"))))
}

type renameEntryRequest struct {
	Name string `json:"name"`
}

// Rename handles PATCH /library/:id.
func (h *Handler) Rename(c *gin.Context) {
	var req renameEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid body")
		return
	}
	name := strings.TrimSpace(req.Name)
	token, ok := h.token(c)
	if !ok {
		return
	}
	if err := h.client.RenameEntry(c.Request.Context(), c.Param("id"), name, token); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"id": c.Param("id"), "name": name})
}

// Delete handles DELETE /library/:id.
func (h *Handler) Delete(c *gin.Context) {
	token, ok := h.token(c)
	if !ok {
		return
	}
	if err := h.client.DeleteEntry(c.Request.Context(), c.Param("id"), token); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

// ShareLink handles GET /library/:id/share-link. The link is always fetched fresh.
func (h *Handler) ShareLink(c *gin.Context) {
	token, ok := h.token(c)
	if !ok {
		return
	}
	link, err := h.client.ShareLink(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"id": c.Param("id"), "share_link": link})
}

func (h *Handler) token(c *gin.Context) (string, bool) {
	token, err := h.session.Token(c.Request.Context())
	if err != nil {
		response.Unauthorized(c, err.Error())
		return "", false
	}
	return token, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, ErrEmptyName) {
		response.BadRequest(c, err.Error())
		return
	}
	var re *remote.Error
	if !errors.As(err, &re) {
		h.logger.Error("library request failed", zap.Error(err))
		response.Internal(c, err.Error())
		return
	}
	response.Fail(c, remote.HTTPStatus(err), err.Error())
}


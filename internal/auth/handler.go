package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/internal/remote"
	"github.com/aura-webinar/screenrec/pkg/response"
)

// Handler serves the agent's /auth endpoints: it forwards credentials to the store and
// keeps the resulting session in the Store.
type Handler struct {
	client *Client
	store  *Store
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(client *Client, store *Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{client: client, store: store, logger: logger}
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type signupBody struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type sessionView struct {
	User            any    `json:"user,omitempty"`
	Authenticated   bool   `json:"authenticated"`
	RememberedEmail string `json:"remembered_email,omitempty"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid body")
		return
	}
	sess, err := h.client.Login(c.Request.Context(), LoginRequest{Email: body.Email, Password: body.Password})
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.Save(sess); err != nil {
		h.logger.Error("save session failed", zap.Error(err))
		response.Internal(c, "failed to save session")
		return
	}
	remembered := ""
	if body.Remember {
		remembered = body.Email
	}
	if err := h.store.RememberEmail(remembered); err != nil {
		h.logger.Warn("remember email failed", zap.Error(err))
	}
	response.OK(c, sessionView{User: sess.User, Authenticated: true, RememberedEmail: h.store.RememberedEmail()})
}

// Signup handles POST /auth/signup. The account is created but not logged in.
func (h *Handler) Signup(c *gin.Context) {
	var body signupBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid body")
		return
	}
	req := SignupRequest{Email: body.Email, Username: body.Username, Password: body.Password, ConfirmPassword: body.ConfirmPassword}
	if err := h.client.Signup(c.Request.Context(), req); err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, gin.H{"email": req.Email})
}

// Demo handles POST /auth/demo.
func (h *Handler) Demo(c *gin.Context) {
	sess, err := h.store.Demo()
	if err != nil {
		h.logger.Error("start demo session failed", zap.Error(err))
		response.Internal(c, "failed to save session")
		return
	}
	response.OK(c, sessionView{User: sess.User, Authenticated: true})
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.store.Logout(); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		response.Internal(c, "failed to clear session")
		return
	}
	response.NoContent(c)
}

// Me handles GET /auth/me. It never fails; an expired session reports authenticated=false.
func (h *Handler) Me(c *gin.Context) {
	v := sessionView{Authenticated: h.store.Valid(), RememberedEmail: h.store.RememberedEmail()}
	if u, ok := h.store.User(); ok && v.Authenticated {
		v.User = u
	}
	response.OK(c, v)
}

type strengthBody struct {
	Password string `json:"password"`
}

// Strength handles POST /auth/password-strength.
func (h *Handler) Strength(c *gin.Context) {
	var body strengthBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid body")
		return
	}
	response.OK(c, PasswordStrength(body.Password))
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrMissingFields), errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrPasswordMismatch), errors.Is(err, ErrPasswordTooShort):
		response.BadRequest(c, err.Error())
		return
	}
	var re *remote.Error
	if errors.As(err, &re) {
		response.Fail(c, remote.HTTPStatus(err), err.Error())
		return
	}
	response.Fail(c, http.StatusInternalServerError, err.Error())
}

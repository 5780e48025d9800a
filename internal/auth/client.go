package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/screenrec/internal/models"
	"github.com/aura-webinar/screenrec/internal/remote"
)

var (
	ErrLoginFailed  = errors.New("login failed")
	ErrSignupFailed = errors.New("signup failed")
)

// Session is what the store returns on login and what the agent persists.
type Session struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Client calls the store's /auth endpoints.
type Client struct {
	remote *remote.Client
	logger *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		remote: remote.New(baseURL, timeout),
		logger: logger.With(zap.String("component", "auth")),
	}
}

// Login handles POST /auth/login.
func (c *Client) Login(ctx context.Context, req LoginRequest) (Session, error) {
	if err := req.Validate(); err != nil {
		return Session{}, err
	}
	var out Session
	err := c.remote.Do(ctx, remote.Request{Method: http.MethodPost, Path: "/auth/login", JSON: req},
		remote.Ops{Rejected: ErrLoginFailed, Transport: ErrLoginFailed}, &out)
	if err != nil {
		c.logger.Warn("login failed", zap.String("email", req.Email), zap.Error(err))
		return Session{}, err
	}
	if out.Token == "" {
		return Session{}, &remote.Error{Op: ErrLoginFailed, StatusCode: http.StatusOK, Err: errors.New("response missing token")}
	}
	c.logger.Info("logged in", zap.String("user_id", out.User.ID))
	return out, nil
}

// Signup handles POST /auth/signup. The store does not log the user in; call Login afterwards.
func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	err := c.remote.Do(ctx, remote.Request{Method: http.MethodPost, Path: "/auth/signup", JSON: req},
		remote.Ops{Rejected: ErrSignupFailed, Transport: ErrSignupFailed}, nil)
	if err != nil {
		c.logger.Warn("signup failed", zap.String("email", req.Email), zap.Error(err))
		return err
	}
	c.logger.Info("account created", zap.String("email", req.Email))
	return nil
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/escrowdash/config"
	"github.com/AnTengye/escrowdash/middleware"
	"github.com/AnTengye/escrowdash/model"
	"github.com/AnTengye/escrowdash/pkg/logger"
	"github.com/AnTengye/escrowdash/service"
)

// Sessions is the wallet session as seen by the API.
type Sessions interface {
	middleware.SessionSource
	State() model.SessionState
	Connect(ctx context.Context, opts service.ConnectOptions) (model.Session, error)
	Disconnect(ctx context.Context) error
}

type SessionHandler struct {
	sessions Sessions
	auth     *config.AuthConfig
}

func NewSessionHandler(sessions Sessions, auth *config.AuthConfig) *SessionHandler {
	return &SessionHandler{sessions: sessions, auth: auth}
}

type ConnectRequest struct {
	Admin bool `json:"admin"`
}

type SessionResponse struct {
	model.Session
	State     model.SessionState `json:"state"`
	Token     string             `json:"token,omitempty"`
	ExpiresAt string             `json:"expires_at,omitempty"`
}

// Get returns the current session without a token.
func (h *SessionHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, SessionResponse{
		Session: h.sessions.Current(),
		State:   h.sessions.State(),
	})
}

// Connect asks the wallet for permissions and issues a token bound to the
// connected address. With admin set the role is resolved against the
// contract admin.
func (h *SessionHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request")
			return
		}
	}

	s, err := h.sessions.Connect(c.Request.Context(), service.ConnectOptions{ResolveRole: req.Admin})
	if err != nil {
		respondError(c, err)
		return
	}

	token, expiresAt, err := middleware.GenerateToken(s, h.auth)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	logger.Info(logger.WithAddress(c.Request.Context(), s.Address), "wallet connected", "role", s.Role)
	c.JSON(http.StatusOK, SessionResponse{
		Session:   s,
		State:     h.sessions.State(),
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	})
}

// Disconnect clears the session. The persisted fields are cleared even
// when the wallet reports an error, which is still surfaced.
func (h *SessionHandler) Disconnect(c *gin.Context) {
	if err := h.sessions.Disconnect(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{
		Session: h.sessions.Current(),
		State:   h.sessions.State(),
	})
}

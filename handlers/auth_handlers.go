package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/auth"
	"github.com/doc-catalog/config"
	"github.com/doc-catalog/services/session"
)

type AuthHandlers struct {
	mw      *auth.Middleware
	limiter *auth.LoginLimiter
	cfg     *config.AuthConfig
	log     *logrus.Entry
}

func NewAuthHandlers(mw *auth.Middleware, cfg *config.AuthConfig, log *logrus.Entry) *AuthHandlers {
	return &AuthHandlers{
		mw:      mw,
		limiter: auth.NewLoginLimiter(cfg.LoginRatePerMinute),
		cfg:     cfg,
		log:     log,
	}
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Login exchanges the shared application password for a session cookie.
// Attempts are rate-limited per source address and the comparison is
// constant-time.
func (h *AuthHandlers) Login(c *gin.Context) {
	if !h.limiter.Allow(c.ClientIP()) {
		respondKind(c, http.StatusTooManyRequests, "RateLimited", "too many login attempts, slow down", nil)
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondKind(c, http.StatusBadRequest, "ValidationError", "password is required", nil)
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.cfg.AppPassword)) != 1 {
		h.log.WithField("remote", c.ClientIP()).Warn("failed login attempt")
		respondKind(c, http.StatusUnauthorized, "AuthError", "invalid password", nil)
		return
	}

	id, err := h.mw.Sessions().Create(c.Request.Context(), session.Payload{"auth": true})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.mw.SetSessionCookie(c, id)

	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

// Logout destroys the current session and expires the cookie. Idempotent:
// logging out without a session still succeeds.
func (h *AuthHandlers) Logout(c *gin.Context) {
	if id := c.GetString(auth.ContextSessionID); id != "" {
		if err := h.mw.Sessions().Destroy(c.Request.Context(), id); err != nil {
			h.log.WithError(err).Warn("session destroy failed")
		}
	}
	h.mw.ClearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"authenticated": false})
}

// Session reports the auth state of the current request.
func (h *AuthHandlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": auth.Authenticated(c)})
}

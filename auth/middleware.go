// Package auth provides session-cookie authentication middleware and the
// login rate limiter.
package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/config"
	"github.com/doc-catalog/services/session"
)

const (
	// SessionCookie is the name of the session id cookie.
	SessionCookie = "catalog_session"

	// Context keys populated by LoadSession.
	ContextSessionID  = "session_id"
	ContextSession    = "session"
	contextSessionErr = "session_err"
)

// Middleware carries the session manager and auth configuration for the
// request chain.
type Middleware struct {
	sessions   *session.Manager
	authCfg    *config.AuthConfig
	sessionCfg *config.SessionConfig
	log        *logrus.Entry
}

func NewMiddleware(sessions *session.Manager, authCfg *config.AuthConfig, sessionCfg *config.SessionConfig, log *logrus.Entry) *Middleware {
	return &Middleware{
		sessions:   sessions,
		authCfg:    authCfg,
		sessionCfg: sessionCfg,
		log:        log,
	}
}

// LoadSession resolves the session cookie into a payload on the request
// context. It never rejects: missing or invalid sessions simply leave the
// request unauthenticated, and backend failures are recorded for
// RequireAuth to act on. When the manager is serving from process memory
// the response carries X-Session-Warning so clients can surface degraded
// durability.
func (m *Middleware) LoadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.sessions.UsingFallback() {
			c.Header("X-Session-Warning", "session backend degraded; sessions will not survive a restart")
		}

		id, err := c.Cookie(SessionCookie)
		if err != nil || id == "" {
			c.Next()
			return
		}

		payload, err := m.sessions.Load(c.Request.Context(), id)
		switch {
		case err == nil:
			c.Set(ContextSessionID, id)
			c.Set(ContextSession, payload)
		case errors.Is(err, session.ErrSessionMissing):
			m.clearCookie(c)
		default:
			// Backend failure, not an expired session. RequireAuth decides
			// whether the request may proceed.
			m.log.WithError(err).Warn("session load failed")
			c.Set(contextSessionErr, err)
		}
		c.Next()
	}
}

// RequireAuth gates protected routes on an authenticated session.
func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.authCfg.RequireAuth {
			c.Next()
			return
		}

		if _, failed := c.Get(contextSessionErr); failed {
			if m.authCfg.AllowUnauthenticatedOnSessionFailure {
				m.log.Warn("session backend unavailable, allowing request unauthenticated")
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{
					"kind":    "InternalError",
					"message": "session backend unavailable",
				},
			})
			return
		}

		if !Authenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"kind":    "AuthError",
					"message": "authentication required",
				},
			})
			return
		}
		c.Next()
	}
}

// Authenticated reports whether the request carries a logged-in session.
func Authenticated(c *gin.Context) bool {
	raw, ok := c.Get(ContextSession)
	if !ok {
		return false
	}
	payload, ok := raw.(session.Payload)
	if !ok {
		return false
	}
	authed, _ := payload["auth"].(bool)
	return authed
}

// SetSessionCookie writes the session cookie with the required attributes:
// HttpOnly, SameSite=Lax, Path=/, MaxAge equal to the session TTL, and
// Secure outside debug deployments.
func (m *Middleware) SetSessionCookie(c *gin.Context, id string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, id, int(m.sessions.TTL().Seconds()), "/", "", m.sessionCfg.CookieSecure, true)
}

func (m *Middleware) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", m.sessionCfg.CookieSecure, true)
}

// ClearSessionCookie expires the session cookie on logout.
func (m *Middleware) ClearSessionCookie(c *gin.Context) {
	m.clearCookie(c)
}

// Sessions exposes the manager for handlers that create and destroy
// sessions.
func (m *Middleware) Sessions() *session.Manager {
	return m.sessions
}

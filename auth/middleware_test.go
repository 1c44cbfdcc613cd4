package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-catalog/config"
	"github.com/doc-catalog/services/session"
)

func testMiddleware(t *testing.T, requireAuth bool) (*Middleware, *session.Manager) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	sessionCfg := &config.SessionConfig{Secret: "test-secret", TTLSeconds: 3600, TouchInterval: 60}
	manager, err := session.NewManager(sessionCfg, session.NewMemoryBackend(), logrus.NewEntry(log))
	require.NoError(t, err)

	authCfg := &config.AuthConfig{RequireAuth: requireAuth}
	return NewMiddleware(manager, authCfg, sessionCfg, logrus.NewEntry(log)), manager
}

func protectedRouter(mw *Middleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw.LoadSession())
	router.GET("/protected", mw.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	mw, _ := testMiddleware(t, true)
	router := protectedRouter(mw)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/protected", nil))

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "AuthError")
}

func TestRequireAuthAcceptsSessionCookie(t *testing.T) {
	mw, manager := testMiddleware(t, true)
	router := protectedRouter(mw)

	id, err := manager.Create(context.Background(), session.Payload{"auth": true})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRequireAuthRejectsUnauthenticatedSession(t *testing.T) {
	mw, manager := testMiddleware(t, true)
	router := protectedRouter(mw)

	// A session exists but the auth flag was never set.
	id, err := manager.Create(context.Background(), session.Payload{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: id})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRequireAuthDisabled(t *testing.T) {
	mw, _ := testMiddleware(t, false)
	router := protectedRouter(mw)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/protected", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestUnknownSessionCookieCleared(t *testing.T) {
	mw, _ := testMiddleware(t, true)
	router := protectedRouter(mw)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "expired-or-forged"})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	var cleared bool
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == SessionCookie && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "stale session cookie should be expired")
}

func TestLoginLimiter(t *testing.T) {
	limiter := NewLoginLimiter(3)

	// The burst admits the configured rate, then throttles.
	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "attempt %d", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))

	// Other addresses are unaffected.
	assert.True(t, limiter.Allow("10.0.0.2"))
}

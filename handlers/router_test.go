package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-catalog/auth"
	"github.com/doc-catalog/config"
	"github.com/doc-catalog/services/session"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 30
	cfg.Auth.AllowedOrigins = []string{"http://localhost:3000"}

	sessionCfg := &config.SessionConfig{Secret: "test-secret", TTLSeconds: 3600, TouchInterval: 60}
	manager, err := session.NewManager(sessionCfg, session.NewMemoryBackend(), entry)
	require.NoError(t, err)
	mw := auth.NewMiddleware(manager, &cfg.Auth, sessionCfg, entry)

	return SetupRouter(cfg, mw, Handlers{}, entry)
}

func routePaths(router *gin.Engine, method string) []string {
	var paths []string
	for _, route := range router.Routes() {
		if route.Method == method {
			paths = append(paths, route.Path)
		}
	}
	return paths
}

func TestRouterRegistersStatsRoutes(t *testing.T) {
	router := testRouter(t)

	paths := routePaths(router, http.MethodGet)
	// The dashboard reads /stats; /documents/stats stays for older clients.
	assert.Contains(t, paths, "/stats")
	assert.Contains(t, paths, "/documents/stats")
	assert.Contains(t, paths, "/documents/search")
	assert.Contains(t, paths, "/search/suggestions")
}

func TestRequestTimeoutSetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(requestTimeout(30 * time.Second))

	var deadline time.Time
	var hasDeadline bool
	router.GET("/ping", func(c *gin.Context) {
		deadline, hasDeadline = c.Request.Context().Deadline()
		c.Status(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), deadline, time.Second)
}

package handlers

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/auth"
	"github.com/doc-catalog/config"
)

// Handlers bundles the route handlers for router assembly.
type Handlers struct {
	Auth      *AuthHandlers
	Documents *DocumentHandlers
	Search    *SearchHandlers
	Taxonomy  *TaxonomyHandlers
	Health    *HealthHandlers
}

// SetupRouter assembles the gin engine: recovery, request ids, request
// logging, CORS, session resolution, and the route tree. Health and login
// are public; everything else sits behind RequireAuth.
func SetupRouter(cfg *config.Config, mw *auth.Middleware, h Handlers, log *logrus.Entry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(requestLogger(log))
	if cfg.Server.RequestTimeout > 0 {
		router.Use(requestTimeout(time.Duration(cfg.Server.RequestTimeout) * time.Second))
	}

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.Auth.AllowedOrigins
	corsCfg.AllowCredentials = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "X-Request-ID")
	corsCfg.ExposeHeaders = []string{"X-Request-ID", "X-Session-Warning", "Retry-After"}
	router.Use(cors.New(corsCfg))

	router.Use(mw.LoadSession())

	router.GET("/health", h.Health.Health)
	router.GET("/health/session", h.Health.SessionHealth)
	router.POST("/login", h.Auth.Login)
	router.POST("/logout", h.Auth.Logout)
	router.GET("/auth/session", h.Auth.Session)

	protected := router.Group("/", mw.RequireAuth())

	protected.GET("/stats", h.Documents.Stats)

	documents := protected.Group("/documents")
	{
		documents.POST("/upload", h.Documents.Upload)
		documents.GET("", h.Documents.List)
		documents.GET("/recent", h.Documents.Recent)
		documents.GET("/stats", h.Documents.Stats)
		documents.GET("/search", h.Search.Search)
		documents.GET("/search/suggestions", h.Search.Suggestions)
		documents.GET("/:id", h.Documents.Get)
		documents.GET("/:id/download", h.Documents.Download)
		documents.GET("/:id/preview", h.Documents.Preview)
		documents.GET("/:id/status", h.Documents.Status)
		documents.POST("/:id/reprocess", h.Documents.Reprocess)
		documents.DELETE("/:id", h.Documents.Delete)
	}

	search := protected.Group("/search")
	{
		search.GET("/suggestions", h.Search.Suggestions)
		search.GET("/top-queries", h.Search.TopQueries)
	}

	taxonomy := protected.Group("/taxonomy")
	{
		taxonomy.GET("/hierarchy", h.Taxonomy.Hierarchy)
		taxonomy.GET("/categories", h.Taxonomy.Categories)
		taxonomy.GET("/canonical-terms", h.Taxonomy.CanonicalTerms)
		taxonomy.GET("/search", h.Taxonomy.Search)
		taxonomy.GET("/statistics", h.Taxonomy.Statistics)
		taxonomy.POST("/initialize", h.Taxonomy.Initialize)
	}

	return router
}

// requestTimeout puts a deadline on every request context so a slow
// database or provider call cannot hold a handler open indefinitely.
func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetString(contextRequestID),
		}
		entry := log.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request")
		case c.Writer.Status() >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

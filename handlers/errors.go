// Package handlers implements the HTTP surface: upload, search, document
// access, taxonomy browsing, auth, and health.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/services"
)

const contextRequestID = "request_id"

// RequestID assigns each request an id, echoed in X-Request-ID and carried
// on 5xx error envelopes.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(contextRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

var kindStatus = map[string]int{
	"ValidationError":   http.StatusBadRequest,
	"AuthError":         http.StatusUnauthorized,
	"NotFound":          http.StatusNotFound,
	"BlobMissing":       http.StatusNotFound,
	"ConflictingState":  http.StatusConflict,
	"InvalidTransition": http.StatusConflict,
	"PayloadTooLarge":   http.StatusRequestEntityTooLarge,
	"RateLimited":       http.StatusTooManyRequests,
	"Backpressure":      http.StatusServiceUnavailable,
	"StorageError":      http.StatusInternalServerError,
	"CacheUnavailable":  http.StatusServiceUnavailable,
	"InternalError":     http.StatusInternalServerError,
}

// respondError maps a service error onto the HTTP error envelope. 4xx
// responses expose the error message; 5xx responses expose only a request
// id and log the cause.
func respondError(c *gin.Context, log *logrus.Entry, err error) {
	kind := services.ErrorKind(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	if kind == "Backpressure" {
		c.Header("Retry-After", "30")
	}

	// 503s keep their kind so clients can distinguish backpressure from a
	// crash; only opaque 500s collapse to InternalError.
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		c.JSON(status, gin.H{
			"error": gin.H{
				"kind":       "InternalError",
				"request_id": c.GetString(contextRequestID),
			},
		})
		return
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"kind":    kind,
			"message": err.Error(),
		},
	})
}

// respondKind emits an explicit 4xx envelope with optional details, for
// handler-level validation that never reaches the service layer.
func respondKind(c *gin.Context, status int, kind, message string, details any) {
	body := gin.H{
		"kind":    kind,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	c.JSON(status, gin.H{"error": body})
}

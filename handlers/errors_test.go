package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-catalog/services"
)

func quietLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func runErrorResponse(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recorder := httptest.NewRecorder()
	router := gin.New()
	router.Use(RequestID())
	router.GET("/boom", func(c *gin.Context) {
		respondError(c, quietLog(), err)
	})
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/boom", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	envelope, ok := body["error"].(map[string]any)
	require.True(t, ok, "response must carry an error envelope")
	return recorder, envelope
}

func TestRespondErrorNotFound(t *testing.T) {
	recorder, envelope := runErrorResponse(t, fmt.Errorf("%w: document 7", services.ErrNotFound))

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "NotFound", envelope["kind"])
	assert.Contains(t, envelope["message"], "document 7")
}

func TestRespondErrorValidation(t *testing.T) {
	recorder, envelope := runErrorResponse(t, fmt.Errorf("%w: filename too long", services.ErrValidation))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "ValidationError", envelope["kind"])
}

func TestRespondErrorConflict(t *testing.T) {
	recorder, envelope := runErrorResponse(t, fmt.Errorf("%w: document is processing", services.ErrConflictingState))

	assert.Equal(t, http.StatusConflict, recorder.Code)
	assert.Equal(t, "ConflictingState", envelope["kind"])
}

func TestRespondErrorBackpressure(t *testing.T) {
	recorder, envelope := runErrorResponse(t, fmt.Errorf("%w: queue full", services.ErrBackpressure))

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.Equal(t, "Backpressure", envelope["kind"])
	assert.Equal(t, "30", recorder.Header().Get("Retry-After"))
}

func TestRespondErrorInternalHidesDetails(t *testing.T) {
	recorder, envelope := runErrorResponse(t, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Equal(t, "InternalError", envelope["kind"])
	assert.NotEmpty(t, envelope["request_id"])
	// Internal causes never leak to clients.
	assert.NotContains(t, recorder.Body.String(), "connection refused")
	assert.Nil(t, envelope["message"])
}

func TestRequestIDEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	router.ServeHTTP(recorder, req)

	assert.Equal(t, "client-supplied-id", recorder.Header().Get("X-Request-ID"))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"report.pdf", "report.pdf", false},
		{"Q3 report (final).pdf", "Q3 report (final).pdf", false},
		{"dir/report.pdf", "", true},
		{`dir\report.pdf`, "", true},
		{"../../../etc/passwd", "", true},
		{"..", "", true},
		{".", "", true},
		{"", "", true},
		{"bad\x00name.pdf", "", true},
	}
	for _, tt := range tests {
		name, err := sanitizeFilename(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
		} else {
			require.NoError(t, err, "input %q", tt.input)
			assert.Equal(t, tt.want, name)
		}
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	_, err := sanitizeFilename(string(long) + ".pdf")
	assert.Error(t, err)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/pdf", contentTypeFor("pdf"))
	assert.Equal(t, "image/png", contentTypeFor("png"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("mysteryext"))
}

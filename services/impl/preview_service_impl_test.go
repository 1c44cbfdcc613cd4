package impl

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPreviewService(t *testing.T) *previewServiceImpl {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewPreviewService(nil, logrus.NewEntry(log)).(*previewServiceImpl)
}

func TestGeneratePreviewImageIsItsOwnPreview(t *testing.T) {
	s := newTestPreviewService(t)

	key, err := s.GeneratePreview(context.Background(), "documents/abc/photo.png", "photo.png")
	require.NoError(t, err)
	assert.Equal(t, "documents/abc/photo.png", key)
}

func TestGeneratePreviewUnsupportedType(t *testing.T) {
	s := newTestPreviewService(t)

	_, err := s.GeneratePreview(context.Background(), "documents/abc/notes.txt", "notes.txt")
	assert.Error(t, err)
}

func TestWriteScratchPDFUniquePaths(t *testing.T) {
	s := newTestPreviewService(t)

	// Concurrent renders in one process must not share scratch paths.
	content := []byte("%PDF-1.4 same bytes")
	first, err := s.writeScratchPDF(content)
	require.NoError(t, err)
	defer os.Remove(first)
	second, err := s.writeScratchPDF(content)
	require.NoError(t, err)
	defer os.Remove(second)

	assert.NotEqual(t, first, second)

	got, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

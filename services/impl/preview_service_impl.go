package impl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/services"
)

// previewServiceImpl renders previews into the blob store under previews/.
// Images preview as themselves; PDFs preview as a trimmed first page.
// Everything else has no preview. Callers treat any error as non-fatal.
type previewServiceImpl struct {
	blobs   services.BlobService
	tempDir string
	log     *logrus.Entry
}

func NewPreviewService(blobs services.BlobService, log *logrus.Entry) services.PreviewService {
	tempDir := filepath.Join(os.TempDir(), "doc-catalog-preview")
	os.MkdirAll(tempDir, 0o755)
	return &previewServiceImpl{blobs: blobs, tempDir: tempDir, log: log}
}

func (s *previewServiceImpl) GeneratePreview(ctx context.Context, blobKey, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg", ".png":
		// The original image is its own preview.
		return blobKey, nil
	case ".pdf":
		return s.pdfFirstPage(ctx, blobKey)
	default:
		return "", fmt.Errorf("no preview renderer for %s files", ext)
	}
}

func (s *previewServiceImpl) pdfFirstPage(ctx context.Context, blobKey string) (string, error) {
	body, err := s.blobs.Get(ctx, blobKey)
	if err != nil {
		return "", err
	}
	defer body.Close()

	content, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read source blob: %w", err)
	}

	inFile, err := s.writeScratchPDF(content)
	if err != nil {
		return "", err
	}
	outFile := inFile + ".page1.pdf"
	defer os.Remove(inFile)
	defer os.Remove(outFile)

	conf := model.NewDefaultConfiguration()
	if err := api.TrimFile(inFile, outFile, []string{"1"}, conf); err != nil {
		return "", fmt.Errorf("failed to trim PDF to first page: %w", err)
	}

	trimmed, err := os.ReadFile(outFile)
	if err != nil {
		return "", fmt.Errorf("failed to read trimmed PDF: %w", err)
	}

	previewKey := "previews/" + blobKey + ".pdf"
	if err := s.blobs.Put(ctx, previewKey, bytes.NewReader(trimmed), int64(len(trimmed)), "application/pdf"); err != nil {
		return "", err
	}
	return previewKey, nil
}

// writeScratchPDF writes content to a uniquely named scratch file so
// concurrent preview renders never share paths.
func (s *previewServiceImpl) writeScratchPDF(content []byte) (string, error) {
	f, err := os.CreateTemp(s.tempDir, "preview_in_*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp PDF: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp PDF: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp PDF: %w", err)
	}
	return f.Name(), nil
}

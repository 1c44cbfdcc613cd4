// Package extract turns uploaded files into plain text for analysis.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/services"
)

// FileType is the detected document family, derived from the filename
// extension only. Content sniffing is deliberately not done: the upload
// surface already constrains extensions.
type FileType string

const (
	FileTypePDF     FileType = "pdf"
	FileTypeImage   FileType = "image"
	FileTypeText    FileType = "text"
	FileTypeDocx    FileType = "docx"
	FileTypeUnknown FileType = "unknown"
)

// DetectType classifies a filename by extension.
func DetectType(filename string) FileType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FileTypePDF
	case ".jpg", ".jpeg", ".png":
		return FileTypeImage
	case ".txt":
		return FileTypeText
	case ".docx":
		return FileTypeDocx
	default:
		return FileTypeUnknown
	}
}

// Result is the outcome of a native extraction attempt.
type Result struct {
	Text      string
	PageCount int

	// NeedsOCR is set when native extraction yielded too little text and
	// the document should go through vision OCR instead.
	NeedsOCR bool
}

// Extractor performs native text extraction. OCR is not done here; the
// pipeline routes low-yield documents to the AI gateway's vision path.
type Extractor struct {
	// ocrThreshold is the minimum average characters per page for a PDF
	// extraction to count as usable.
	ocrThreshold int
	tempDir      string
	log          *logrus.Entry
}

func NewExtractor(ocrThreshold int, log *logrus.Entry) *Extractor {
	tempDir := filepath.Join(os.TempDir(), "doc-catalog-extract")
	os.MkdirAll(tempDir, 0o755)
	return &Extractor{
		ocrThreshold: ocrThreshold,
		tempDir:      tempDir,
		log:          log,
	}
}

// Extract runs the native path for the given file type. Image files always
// need OCR. Unknown types are a validation error.
func (e *Extractor) Extract(ctx context.Context, fileType FileType, content []byte) (*Result, error) {
	switch fileType {
	case FileTypePDF:
		return e.extractPDF(ctx, content)
	case FileTypeText:
		return &Result{Text: string(content), PageCount: 1}, nil
	case FileTypeDocx:
		text, err := extractDocx(content)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text, PageCount: 1}, nil
	case FileTypeImage:
		return &Result{NeedsOCR: true}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported file type", services.ErrValidation)
	}
}

// extractPDF extracts page content with pdfcpu. pdfcpu has no direct text
// extraction API, so content streams are extracted to a scratch directory
// and read back in page order.
func (e *Extractor) extractPDF(ctx context.Context, content []byte) (*Result, error) {
	tempFile, err := e.writeTempPDF(content)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tempFile)

	pdfCtx, err := api.ReadContextFile(tempFile)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read PDF: %v", services.ErrValidation, err)
	}
	pageCount := pdfCtx.PageCount
	if pageCount == 0 {
		return &Result{NeedsOCR: true}, nil
	}

	outDir := tempFile + "_pages"
	os.MkdirAll(outDir, 0o755)
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(tempFile, outDir, nil, conf); err != nil {
		e.log.WithError(err).Warn("PDF content extraction failed, routing to OCR")
		return &Result{PageCount: pageCount, NeedsOCR: true}, nil
	}

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(data)
		} else if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(data)
		}
	}

	var builder strings.Builder
	totalChars := 0
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text := cleanContentStream(pageTexts[pageNum])
		totalChars += len(text)
		if builder.Len() > 0 && text != "" {
			builder.WriteString("\n\n")
		}
		builder.WriteString(text)
	}

	result := &Result{Text: builder.String(), PageCount: pageCount}
	if totalChars/pageCount < e.ocrThreshold {
		result.NeedsOCR = true
	}
	return result, nil
}

// writeTempPDF writes content to a uniquely named scratch file so that
// concurrent extractions never stomp on each other's input.
func (e *Extractor) writeTempPDF(content []byte) (string, error) {
	f, err := os.CreateTemp(e.tempDir, "extract_*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temp PDF file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write temp PDF file: %w", err)
	}
	return f.Name(), nil
}

// cleanContentStream pulls the text operands out of a raw PDF content
// stream: parenthesised strings ahead of Tj/TJ operators. Escapes for
// parens and backslashes are honored; other escapes pass through.
func cleanContentStream(stream string) string {
	var out strings.Builder
	inString := false
	escaped := false
	depth := 0
	for i := 0; i < len(stream); i++ {
		c := stream[i]
		if !inString {
			if c == '(' {
				inString = true
				depth = 1
			}
			continue
		}
		if escaped {
			switch c {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			default:
				out.WriteByte(c)
			}
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '(':
			depth++
			out.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				inString = false
				out.WriteByte(' ')
			} else {
				out.WriteByte(c)
			}
		default:
			out.WriteByte(c)
		}
	}
	return strings.TrimSpace(out.String())
}

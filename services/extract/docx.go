package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/doc-catalog/services"
)

// extractDocx reads word/document.xml out of the OOXML container and
// flattens it to plain text. Paragraph boundaries become newlines.
func extractDocx(content []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: not a valid docx container: %v", services.ErrValidation, err)
	}

	var docXML io.ReadCloser
	for _, file := range reader.File {
		if file.Name == "word/document.xml" {
			docXML, err = file.Open()
			if err != nil {
				return "", fmt.Errorf("%w: failed to open document.xml: %v", services.ErrValidation, err)
			}
			break
		}
	}
	if docXML == nil {
		return "", fmt.Errorf("%w: docx container has no document.xml", services.ErrValidation)
	}
	defer docXML.Close()

	decoder := xml.NewDecoder(docXML)
	var builder strings.Builder
	inText := false
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: malformed document.xml: %v", services.ErrValidation, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br", "tab":
				builder.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				builder.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				builder.Write(t)
			}
		}
	}
	return strings.TrimSpace(builder.String()), nil
}

package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOCRContentBlockForPDF(t *testing.T) {
	block := ocrContentBlock("application/pdf", "ZGF0YQ==")
	require.NotNil(t, block.OfDocument)
	assert.Nil(t, block.OfImage)
	require.NotNil(t, block.OfDocument.Source.OfBase64)
	assert.Equal(t, "ZGF0YQ==", block.OfDocument.Source.OfBase64.Data)
}

func TestOCRContentBlockForImage(t *testing.T) {
	block := ocrContentBlock("image/png", "ZGF0YQ==")
	require.NotNil(t, block.OfImage)
	assert.Nil(t, block.OfDocument)
	require.NotNil(t, block.OfImage.Source.OfBase64)
	assert.Equal(t, "image/png", string(block.OfImage.Source.OfBase64.MediaType))
}

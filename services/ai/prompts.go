package ai

import (
	"fmt"
	"strings"
)

// maxPromptTextChars caps how much extracted text is sent for analysis.
// Longer documents are truncated; the head carries the signal.
const maxPromptTextChars = 4000

const analysisSystemPrompt = `You are a document cataloging assistant. You analyze documents and return structured JSON. Respond with a single JSON object and nothing else.`

// analysisPrompt builds the analysis request. The canonical vocabulary is
// injected so keyword mappings land on known terms.
func analysisPrompt(text string, vocabulary []string) string {
	if len(text) > maxPromptTextChars {
		text = text[:maxPromptTextChars]
	}

	var b strings.Builder
	b.WriteString("Analyze the following document and return a JSON object with these fields:\n")
	b.WriteString(`{
  "summary": "2-3 sentence summary",
  "document_type": "one of: contract, report, invoice, letter, marketing, presentation, other",
  "campaign_type": "campaign classification if marketing material, else empty",
  "document_tone": "formal, informal, technical, or promotional",
  "categories": ["high-level topic labels"],
  "keyword_mappings": [{"verbatim_term": "term as it appears", "mapped_canonical_term": "closest vocabulary term or empty"}]
}
`)
	if len(vocabulary) > 0 {
		b.WriteString("\nControlled vocabulary (map keywords onto these terms when possible):\n")
		b.WriteString(strings.Join(vocabulary, ", "))
		b.WriteString("\n")
	}
	b.WriteString("\nDocument text:\n---\n")
	b.WriteString(text)
	b.WriteString("\n---\n")
	return b.String()
}

// strictReaskPrompt is sent once when the first reply fails JSON extraction.
func strictReaskPrompt(badReply string) string {
	if len(badReply) > 1000 {
		badReply = badReply[:1000]
	}
	return fmt.Sprintf(
		"Your previous reply could not be parsed as JSON:\n%s\n\nReturn ONLY the JSON object, with no surrounding text or markdown fences.",
		badReply,
	)
}

const ocrSystemPrompt = `You transcribe documents from images. Return the complete visible text, preserving reading order. Return only the transcription.`

package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/models"
)

// anthropicProvider serves analysis and vision OCR through the Anthropic
// API. It has no embedding endpoint.
type anthropicProvider struct {
	client anthropic.Client
	model  string
	log    *logrus.Entry
}

func NewAnthropicProvider(apiKey, model string, log *logrus.Entry) Provider {
	return &anthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		log:    log,
	}
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) Has(cap Capability) bool {
	return cap == CapAnalyze || cap == CapVisionOCR
}

func (p *anthropicProvider) Analyze(ctx context.Context, text string, vocabulary []string) (*models.AIAnalysis, error) {
	reply, err := p.complete(ctx, analysisSystemPrompt, analysisPrompt(text, vocabulary))
	if err != nil {
		return nil, err
	}

	raw, extractErr := ExtractJSON(reply)
	if extractErr != nil {
		// One strict re-ask, then give up on this provider.
		reply, err = p.complete(ctx, analysisSystemPrompt, strictReaskPrompt(reply))
		if err != nil {
			return nil, err
		}
		raw, extractErr = ExtractJSON(reply)
		if extractErr != nil {
			return nil, newProviderError(p.Name(), KindMalformedResponse, extractErr)
		}
	}

	var analysis models.AIAnalysis
	if err := json.Unmarshal(raw, &analysis); err != nil {
		return nil, newProviderError(p.Name(), KindMalformedResponse, err)
	}
	return &analysis, nil
}

func (p *anthropicProvider) EmbedText(ctx context.Context, text string, dim int) ([]float32, error) {
	return nil, newProviderError(p.Name(), KindUnavailable, fmt.Errorf("embeddings not supported"))
}

func (p *anthropicProvider) OCRImage(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(imageData)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: ocrSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				ocrContentBlock(mimeType, encoded),
				anthropic.NewTextBlock("Transcribe all text in this document image."),
			),
		},
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", p.classify(err)
	}

	text := collectText(resp)
	if text == "" {
		return "", newProviderError(p.Name(), KindMalformedResponse, fmt.Errorf("empty OCR reply"))
	}
	return text, nil
}

// ocrContentBlock picks the message block type for the payload. The API
// only accepts image media types in image blocks; PDFs go in as document
// blocks.
func ocrContentBlock(mimeType, encoded string) anthropic.ContentBlockParamUnion {
	if mimeType == "application/pdf" {
		return anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: encoded})
	}
	return anthropic.NewImageBlockBase64(mimeType, encoded)
}

func (p *anthropicProvider) complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", p.classify(err)
	}

	text := collectText(resp)
	if text == "" {
		return "", newProviderError(p.Name(), KindMalformedResponse, fmt.Errorf("empty reply"))
	}
	return text, nil
}

func collectText(resp *anthropic.Message) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func (p *anthropicProvider) classify(err error) error {
	return newProviderError(p.Name(), classifyAPIError(err), err)
}

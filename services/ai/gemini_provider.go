package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/doc-catalog/models"
)

// geminiProvider serves analysis, embeddings and vision OCR through the
// Gemini API.
type geminiProvider struct {
	client     *genai.Client
	model      string
	embedModel string
	log        *logrus.Entry
}

func NewGeminiProvider(ctx context.Context, apiKey, model, embedModel string, log *logrus.Entry) (Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &geminiProvider{
		client:     client,
		model:      model,
		embedModel: embedModel,
		log:        log,
	}, nil
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) Has(cap Capability) bool {
	switch cap {
	case CapAnalyze, CapEmbed, CapVisionOCR:
		return true
	}
	return false
}

func (p *geminiProvider) Analyze(ctx context.Context, text string, vocabulary []string) (*models.AIAnalysis, error) {
	reply, err := p.generate(ctx, analysisSystemPrompt, genai.Text(analysisPrompt(text, vocabulary)))
	if err != nil {
		return nil, err
	}

	raw, extractErr := ExtractJSON(reply)
	if extractErr != nil {
		reply, err = p.generate(ctx, analysisSystemPrompt, genai.Text(strictReaskPrompt(reply)))
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

func (p *geminiProvider) EmbedText(ctx context.Context, text string, dim int) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := p.client.Models.EmbedContent(ctx, p.embedModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(dim)),
	})
	if err != nil {
		return nil, newProviderError(p.Name(), classifyAPIError(err), err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, newProviderError(p.Name(), KindMalformedResponse, fmt.Errorf("empty embedding response"))
	}
	values := resp.Embeddings[0].Values
	if len(values) != dim {
		return nil, newProviderError(p.Name(), KindMalformedResponse,
			fmt.Errorf("embedding dimension %d, expected %d", len(values), dim))
	}
	return values, nil
}

func (p *geminiProvider) OCRImage(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(imageData, mimeType),
			genai.NewPartFromText("Transcribe all text in this document image."),
		}, genai.RoleUser),
	}
	reply, err := p.generate(ctx, ocrSystemPrompt, contents)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", newProviderError(p.Name(), KindMalformedResponse, fmt.Errorf("empty OCR reply"))
	}
	return reply, nil
}

func (p *geminiProvider) generate(ctx context.Context, system string, contents []*genai.Content) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", newProviderError(p.Name(), classifyAPIError(err), err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", newProviderError(p.Name(), KindMalformedResponse, fmt.Errorf("empty response"))
	}

	text := resp.Text()
	if text == "" {
		return "", newProviderError(p.Name(), KindMalformedResponse, fmt.Errorf("empty text in response"))
	}
	return text, nil
}

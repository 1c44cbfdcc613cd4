package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/models"
)

// openaiProvider serves analysis and embeddings over the OpenAI-compatible
// HTTP API. Vision OCR is deliberately left to the other providers.
type openaiProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	log        *logrus.Entry
}

func NewOpenAIProvider(baseURL, apiKey, model, embedModel string, log *logrus.Entry) Provider {
	return &openaiProvider{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		log:        log,
	}
}

func (p *openaiProvider) Name() string { return "openai" }

func (p *openaiProvider) Has(cap Capability) bool {
	return cap == CapAnalyze || cap == CapEmbed
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *openaiProvider) Analyze(ctx context.Context, text string, vocabulary []string) (*models.AIAnalysis, error) {
	reply, err := p.complete(ctx, analysisPrompt(text, vocabulary))
	if err != nil {
		return nil, err
	}

	raw, extractErr := ExtractJSON(reply)
	if extractErr != nil {
		reply, err = p.complete(ctx, strictReaskPrompt(reply))
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

func (p *openaiProvider) EmbedText(ctx context.Context, text string, dim int) ([]float32, error) {
	body := embedRequest{Model: p.embedModel, Input: text, Dimensions: dim}

	var resp embedResponse
	if err := p.post(ctx, "/v1/embeddings", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, newProviderError(p.Name(), KindMalformedResponse, fmt.Errorf("empty embedding response"))
	}
	embedding := resp.Data[0].Embedding
	if len(embedding) != dim {
		return nil, newProviderError(p.Name(), KindMalformedResponse,
			fmt.Errorf("embedding dimension %d, expected %d", len(embedding), dim))
	}
	return embedding, nil
}

func (p *openaiProvider) OCRImage(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	return "", newProviderError(p.Name(), KindUnavailable, fmt.Errorf("vision OCR not supported"))
}

func (p *openaiProvider) complete(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	var resp chatResponse
	if err := p.post(ctx, "/v1/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", newProviderError(p.Name(), KindMalformedResponse, fmt.Errorf("empty completion response"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openaiProvider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return newProviderError(p.Name(), KindMalformedResponse, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return newProviderError(p.Name(), KindTransient, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return newProviderError(p.Name(), KindTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return newProviderError(p.Name(), KindTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return newProviderError(p.Name(), KindUnauthorized, apiErr)
		case resp.StatusCode == http.StatusTooManyRequests:
			if bytes.Contains(respBody, []byte("insufficient_quota")) {
				return newProviderError(p.Name(), KindQuotaExhausted, apiErr)
			}
			return newProviderError(p.Name(), KindRateLimited, apiErr)
		case resp.StatusCode >= 500:
			return newProviderError(p.Name(), KindTransient, apiErr)
		default:
			return newProviderError(p.Name(), KindMalformedResponse, apiErr)
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return newProviderError(p.Name(), KindMalformedResponse, err)
	}
	return nil
}

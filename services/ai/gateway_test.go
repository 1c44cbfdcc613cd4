package ai

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doc-catalog/config"
	"github.com/doc-catalog/models"
)

type stubProvider struct {
	name string
	caps map[Capability]bool

	analyzeCalls int
	embedCalls   int

	analyzeFn func() (*models.AIAnalysis, error)
	embedFn   func() ([]float32, error)
}

func (p *stubProvider) Name() string          { return p.name }
func (p *stubProvider) Has(c Capability) bool { return p.caps[c] }

func (p *stubProvider) Analyze(ctx context.Context, text string, vocabulary []string) (*models.AIAnalysis, error) {
	p.analyzeCalls++
	return p.analyzeFn()
}

func (p *stubProvider) EmbedText(ctx context.Context, text string, dim int) ([]float32, error) {
	p.embedCalls++
	return p.embedFn()
}

func (p *stubProvider) OCRImage(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	return "", newProviderError(p.name, KindUnavailable, errors.New("no vision"))
}

func testAIConfig() *config.AIConfig {
	return &config.AIConfig{
		VectorDim:        4,
		RequestTimeout:   5,
		RetryMaxAttempts: 3,
		RetryBaseSeconds: 0.001,
		RetryCapSeconds:  0.002,
		BreakerFailures:  2,
		BreakerCooldown:  60,
	}
}

func newTestGateway(cfg *config.AIConfig, providers ...Provider) *Gateway {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewGateway(cfg, providers, logrus.NewEntry(log))
}

func TestGatewayAnalyzeSuccess(t *testing.T) {
	p := &stubProvider{
		name: "primary",
		caps: map[Capability]bool{CapAnalyze: true},
		analyzeFn: func() (*models.AIAnalysis, error) {
			return &models.AIAnalysis{Summary: "a summary"}, nil
		},
	}
	g := newTestGateway(testAIConfig(), p)

	analysis, err := g.Analyze(context.Background(), "text", nil)
	require.NoError(t, err)
	assert.Equal(t, "a summary", analysis.Summary)
	assert.Equal(t, 1, p.analyzeCalls)
}

func TestGatewayRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	p := &stubProvider{
		name: "flaky",
		caps: map[Capability]bool{CapEmbed: true},
		embedFn: func() ([]float32, error) {
			calls++
			if calls < 3 {
				return nil, newProviderError("flaky", KindTransient, errors.New("blip"))
			}
			return []float32{1, 2, 3, 4}, nil
		},
	}
	g := newTestGateway(testAIConfig(), p)

	vec, err := g.EmbedText(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 3, p.embedCalls)
}

func TestGatewayNoRetryOnQuotaExhausted(t *testing.T) {
	p := &stubProvider{
		name: "broke",
		caps: map[Capability]bool{CapEmbed: true},
		embedFn: func() ([]float32, error) {
			return nil, newProviderError("broke", KindQuotaExhausted, errors.New("insufficient_quota"))
		},
	}
	g := newTestGateway(testAIConfig(), p)

	_, err := g.EmbedText(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, 1, p.embedCalls)
	assert.Equal(t, KindQuotaExhausted, KindOf(err))
}

func TestGatewayFallsThroughChain(t *testing.T) {
	failing := &stubProvider{
		name: "primary",
		caps: map[Capability]bool{CapEmbed: true},
		embedFn: func() ([]float32, error) {
			return nil, newProviderError("primary", KindUnauthorized, errors.New("bad key"))
		},
	}
	healthy := &stubProvider{
		name: "secondary",
		caps: map[Capability]bool{CapEmbed: true},
		embedFn: func() ([]float32, error) {
			return []float32{1, 2, 3, 4}, nil
		},
	}
	g := newTestGateway(testAIConfig(), failing, healthy)

	vec, err := g.EmbedText(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 1, failing.embedCalls)
	assert.Equal(t, 1, healthy.embedCalls)
}

func TestGatewaySkipsProvidersWithoutCapability(t *testing.T) {
	textOnly := &stubProvider{
		name: "text-only",
		caps: map[Capability]bool{CapAnalyze: true},
	}
	embedder := &stubProvider{
		name: "embedder",
		caps: map[Capability]bool{CapEmbed: true},
		embedFn: func() ([]float32, error) {
			return []float32{1, 2, 3, 4}, nil
		},
	}
	g := newTestGateway(testAIConfig(), textOnly, embedder)

	_, err := g.EmbedText(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, 0, textOnly.embedCalls)
	assert.Equal(t, 1, embedder.embedCalls)
}

func TestGatewayNoCapableProvider(t *testing.T) {
	p := &stubProvider{name: "text-only", caps: map[Capability]bool{CapAnalyze: true}}
	g := newTestGateway(testAIConfig(), p)

	_, err := g.OCRImage(context.Background(), []byte("img"), "image/png")
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestGatewayQuotaExhaustedStartsCooldown(t *testing.T) {
	quota := &stubProvider{
		name: "primary",
		caps: map[Capability]bool{CapEmbed: true},
		embedFn: func() ([]float32, error) {
			return nil, newProviderError("primary", KindQuotaExhausted, errors.New("insufficient_quota"))
		},
	}
	healthy := &stubProvider{
		name: "secondary",
		caps: map[Capability]bool{CapEmbed: true},
		embedFn: func() ([]float32, error) {
			return []float32{1, 2, 3, 4}, nil
		},
	}
	g := newTestGateway(testAIConfig(), quota, healthy)
	ctx := context.Background()

	vec, err := g.EmbedText(ctx, "text")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, 1, quota.embedCalls)

	// The quota failure puts the provider into cooldown: the next request
	// goes straight to the fallback without touching it again.
	_, err = g.EmbedText(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, 1, quota.embedCalls)
	assert.Equal(t, 2, healthy.embedCalls)
}

func TestGatewayBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := testAIConfig()
	cfg.RetryMaxAttempts = 1

	p := &stubProvider{
		name: "down",
		caps: map[Capability]bool{CapEmbed: true},
		embedFn: func() ([]float32, error) {
			return nil, newProviderError("down", KindUnauthorized, errors.New("denied"))
		},
	}
	g := newTestGateway(cfg, p)
	ctx := context.Background()

	// Two failures trip the breaker with BreakerFailures=2.
	_, err := g.EmbedText(ctx, "text")
	require.Error(t, err)
	_, err = g.EmbedText(ctx, "text")
	require.Error(t, err)

	callsBefore := p.embedCalls
	_, err = g.EmbedText(ctx, "text")
	require.Error(t, err)
	// The open breaker short-circuits without touching the provider.
	assert.Equal(t, callsBefore, p.embedCalls)
}

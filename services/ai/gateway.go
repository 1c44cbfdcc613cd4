package ai

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/sirupsen/logrus"

	"github.com/doc-catalog/config"
	"github.com/doc-catalog/models"
)

// Capability is an operation a provider can serve.
type Capability string

const (
	CapAnalyze   Capability = "analyze"
	CapEmbed     Capability = "embed"
	CapVisionOCR Capability = "vision_ocr"
)

// Provider is a single upstream AI service.
type Provider interface {
	Name() string
	Has(cap Capability) bool

	Analyze(ctx context.Context, text string, vocabulary []string) (*models.AIAnalysis, error)
	EmbedText(ctx context.Context, text string, dim int) ([]float32, error)
	OCRImage(ctx context.Context, imageData []byte, mimeType string) (string, error)
}

// Gateway fronts an ordered provider chain. Each provider sits behind a
// circuit breaker; a request walks the chain skipping open breakers and
// providers without the needed capability. Within a provider, transient
// and rate-limit failures are retried with jittered exponential backoff.
// A quota failure, or a rate limit that outlives the retry budget, puts
// the provider into an immediate cooldown: the breaker counts failures,
// the cooldown handles the single-error case.
type Gateway struct {
	providers []Provider
	breakers  map[string]*gobreaker.CircuitBreaker
	cfg       *config.AIConfig
	log       *logrus.Entry

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

func NewGateway(cfg *config.AIConfig, providers []Provider, log *logrus.Entry) *Gateway {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		name := p.Name()
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: time.Duration(cfg.BreakerCooldown) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.WithFields(logrus.Fields{
					"provider": name,
					"from":     from.String(),
					"to":       to.String(),
				}).Warn("provider breaker state change")
			},
		})
	}
	return &Gateway{
		providers: providers,
		breakers:  breakers,
		cfg:       cfg,
		log:       log,
		cooldowns: make(map[string]time.Time, len(providers)),
	}
}

func (g *Gateway) Analyze(ctx context.Context, text string, vocabulary []string) (*models.AIAnalysis, error) {
	result, err := g.call(ctx, CapAnalyze, func(ctx context.Context, p Provider) (any, error) {
		return p.Analyze(ctx, text, vocabulary)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.AIAnalysis), nil
}

func (g *Gateway) EmbedText(ctx context.Context, text string) ([]float32, error) {
	result, err := g.call(ctx, CapEmbed, func(ctx context.Context, p Provider) (any, error) {
		return p.EmbedText(ctx, text, g.cfg.VectorDim)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func (g *Gateway) OCRImage(ctx context.Context, imageData []byte, mimeType string) (string, error) {
	result, err := g.call(ctx, CapVisionOCR, func(ctx context.Context, p Provider) (any, error) {
		return p.OCRImage(ctx, imageData, mimeType)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (g *Gateway) call(ctx context.Context, cap Capability, fn func(context.Context, Provider) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.cfg.RequestTimeout)*time.Second)
	defer cancel()

	var lastErr error
	attempted := false
	for _, provider := range g.providers {
		if !provider.Has(cap) {
			continue
		}
		attempted = true
		name := provider.Name()

		if g.coolingDown(name) {
			lastErr = newProviderError(name, KindUnavailable, errors.New("quota cooldown active"))
			g.log.WithField("provider", name).Debug("provider cooling down, trying next")
			continue
		}

		breaker := g.breakers[name]
		result, err := breaker.Execute(func() (any, error) {
			return g.withRetry(ctx, provider, fn)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.log.WithField("provider", name).Debug("provider breaker open, trying next")
			continue
		}
		switch KindOf(err) {
		case KindQuotaExhausted, KindRateLimited:
			// One explicit quota (or retry-exhausted rate-limit) failure is
			// enough: skip this provider for the full cooldown window.
			g.startCooldown(name)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("AI request deadline exceeded: %w", lastErr)
		}
		g.log.WithError(err).WithField("provider", name).Warn("provider failed, trying next")
	}

	if !attempted {
		return nil, newProviderError("none", KindUnavailable, fmt.Errorf("no provider supports %s", cap))
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

func (g *Gateway) coolingDown(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Now().Before(g.cooldowns[name])
}

func (g *Gateway) startCooldown(name string) {
	until := time.Now().Add(time.Duration(g.cfg.BreakerCooldown) * time.Second)
	g.mu.Lock()
	g.cooldowns[name] = until
	g.mu.Unlock()
	g.log.WithFields(logrus.Fields{
		"provider": name,
		"until":    until.Format(time.RFC3339),
	}).Warn("provider quota exhausted, cooling down")
}

// withRetry retries retryable failures against one provider. A quota or
// auth failure returns immediately so the breaker absorbs it.
func (g *Gateway) withRetry(ctx context.Context, provider Provider, fn func(context.Context, Provider) (any, error)) (any, error) {
	maxAttempts := g.cfg.RetryMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := g.retryBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := fn(ctx, provider)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var pe *ProviderError
		if errors.As(err, &pe) && !pe.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (g *Gateway) retryBackoff(attempt int) time.Duration {
	base := g.cfg.RetryBaseSeconds
	if base <= 0 {
		base = 1
	}
	capS := g.cfg.RetryCapSeconds
	if capS <= 0 {
		capS = 15
	}

	seconds := base * float64(int(1)<<uint(attempt-1))
	if seconds > capS {
		seconds = capS
	}
	// Full jitter.
	seconds *= 0.5 + rand.Float64()*0.5
	return time.Duration(seconds * float64(time.Second))
}

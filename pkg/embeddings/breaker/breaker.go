// Package breaker wraps an [embeddings.Provider] with a circuit breaker so a
// failing embedding backend (rate limiting, an outage) fails fast instead of
// piling up slow timeouts on every ingestion and retrieval call.
package breaker

import (
	"context"

	"github.com/relaymem/core/internal/resilience"
	"github.com/relaymem/core/pkg/embeddings"
)

// Provider decorates an embeddings.Provider with a [resilience.CircuitBreaker].
// Once the breaker opens, Embed and EmbedBatch return
// [resilience.ErrCircuitOpen] immediately rather than invoking the inner
// provider.
type Provider struct {
	inner embeddings.Provider
	cb    *resilience.CircuitBreaker
}

// New wraps inner with a circuit breaker configured with cfg. cfg.Name
// defaults to "embeddings" if empty.
func New(inner embeddings.Provider, cfg resilience.CircuitBreakerConfig) *Provider {
	if cfg.Name == "" {
		cfg.Name = "embeddings"
	}
	return &Provider{inner: inner, cb: resilience.NewCircuitBreaker(cfg)}
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := p.cb.Execute(func() error {
		v, err := p.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := p.cb.Execute(func() error {
		v, err := p.inner.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p *Provider) Dimensions() int { return p.inner.Dimensions() }
func (p *Provider) ModelID() string { return p.inner.ModelID() }

// State returns the breaker's current state, mainly for health checks.
func (p *Provider) State() resilience.State { return p.cb.State() }

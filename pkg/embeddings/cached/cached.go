// Package cached wraps any [embeddings.Provider] with a Redis-backed cache,
// keyed on a hash of the input text plus the wrapped provider's model id so
// switching models never serves a stale vector.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaymem/core/pkg/embeddings"
)

// DefaultTTL is used when New is called with ttl <= 0.
const DefaultTTL = 30 * 24 * time.Hour

// Provider wraps an embeddings.Provider, caching individual Embed results in
// Redis. EmbedBatch caches each element independently, issuing one
// underlying EmbedBatch call for whatever subset of inputs misses the cache.
type Provider struct {
	inner embeddings.Provider
	rdb   *redis.Client
	ttl   time.Duration
}

var _ embeddings.Provider = (*Provider)(nil)

// New wraps inner with a cache backed by rdb. ttl <= 0 uses DefaultTTL.
func New(inner embeddings.Provider, rdb *redis.Client, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{inner: inner, rdb: rdb, ttl: ttl}
}

func (p *Provider) key(text string) string {
	sum := sha256.Sum256([]byte(p.inner.ModelID() + "\x00" + text))
	return "relaymem:embed:" + hex.EncodeToString(sum[:])
}

// Embed implements embeddings.Provider, consulting the cache before falling
// back to the wrapped provider. A cache write failure is logged-worthy but
// never fails the call — the freshly computed vector is still returned.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := p.key(text)
	if raw, err := p.rdb.Get(ctx, key).Bytes(); err == nil {
		var vec []float32
		if jsonErr := json.Unmarshal(raw, &vec); jsonErr == nil {
			return vec, nil
		}
	}

	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.store(ctx, key, vec)
	return vec, nil
}

// EmbedBatch implements embeddings.Provider. Cache hits are served directly;
// misses are batched into a single underlying EmbedBatch call.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		raw, err := p.rdb.Get(ctx, p.key(text)).Bytes()
		if err != nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
			continue
		}
		var vec []float32
		if jsonErr := json.Unmarshal(raw, &vec); jsonErr != nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
			continue
		}
		result[i] = vec
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	fresh, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("cached embeddings: embed batch miss fill: %w", err)
	}
	for j, idx := range missIdx {
		result[idx] = fresh[j]
		p.store(ctx, p.key(missTexts[j]), fresh[j])
	}
	return result, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.inner.Dimensions() }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.inner.ModelID() }

func (p *Provider) store(ctx context.Context, key string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	p.rdb.Set(ctx, key, raw, p.ttl)
}

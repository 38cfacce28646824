package embedding

import (
	"context"
	"fmt"
	"time"

	"esg-mcp/internal/resilience"

	"github.com/rs/zerolog/log"
)

// serviceName labels degradations reported by this package.
const serviceName = "embedding"

// Resilient retries a primary embedder under a policy and degrades to a local fallback when the
// primary keeps failing. Primary results are cached.
type Resilient struct {
	primary  Embedder
	fallback Embedder
	policy   resilience.Policy
	cache    *vectorCache
}

// NewResilient wraps primary. A nil primary means the fallback serves every call. A nil fallback
// defaults to a HashEmbedder of the primary's dimension.
func NewResilient(primary, fallback Embedder, policy resilience.Policy, cacheTTL time.Duration) *Resilient {
	if fallback == nil {
		dim := 768
		if primary != nil && primary.Dimension() > 0 {
			dim = primary.Dimension()
		}
		fallback = NewHashEmbedder(dim)
	}
	return &Resilient{
		primary:  primary,
		fallback: fallback,
		policy:   policy,
		cache:    newVectorCache(cacheTTL),
	}
}

func (r *Resilient) Dimension() int {
	if r.primary != nil {
		return r.primary.Dimension()
	}
	return r.fallback.Dimension()
}

// Model names the preferred vector space.
func (r *Resilient) Model() string {
	if r.primary != nil {
		return r.primary.Model()
	}
	return r.fallback.Model()
}

// Fallback returns the local embedder.
func (r *Resilient) Fallback() Embedder {
	return r.fallback
}

// Space returns an embedder that answers only in the given model's space: the retrying primary
// without fallback, or the fallback itself.
func (r *Resilient) Space(model string) (Embedder, bool) {
	switch {
	case r.primary != nil && model == r.primary.Model():
		return &retrying{r: r}, true
	case model == r.fallback.Model():
		return r.fallback, true
	}
	return nil, false
}

func (r *Resilient) Embed(ctx context.Context, text string) (Vector, error) {
	if r.primary != nil {
		v, err := r.embedPrimary(ctx, text)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return Vector{}, ctx.Err()
		}
		resilience.Report(ctx, serviceName, "embed", err)
	}
	return r.fallback.Embed(ctx, text)
}

func (r *Resilient) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if r.primary != nil {
		vs, err := r.embedPrimaryBatch(ctx, texts)
		if err == nil {
			return vs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resilience.Report(ctx, serviceName, "embed_batch", err)
	}
	return r.fallback.EmbedBatch(ctx, texts)
}

func (r *Resilient) cacheKey(text string) string {
	return r.primary.Model() + "\x00" + text
}

func (r *Resilient) embedPrimary(ctx context.Context, text string) (Vector, error) {
	key := r.cacheKey(text)
	if v, ok := r.cache.get(key); ok {
		return v, nil
	}

	var out Vector
	_, err := r.policy.Do(ctx, "embed", func(ctx context.Context) error {
		v, err := r.primary.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return Vector{}, err
	}
	r.cache.put(key, out)
	return out, nil
}

func (r *Resilient) embedPrimaryBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := r.cache.get(r.cacheKey(t)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	var fetched []Vector
	_, err := r.policy.Do(ctx, "embed_batch", func(ctx context.Context) error {
		vs, err := r.primary.EmbedBatch(ctx, missing)
		if err != nil {
			return err
		}
		if len(vs) != len(missing) {
			return resilience.Permanent(fmt.Errorf("%s returned %d vectors for %d texts", r.primary.Model(), len(vs), len(missing)))
		}
		fetched = vs
		return nil
	})
	if err != nil {
		return nil, err
	}

	for j, v := range fetched {
		out[missingIdx[j]] = v
		r.cache.put(r.cacheKey(missing[j]), v)
	}
	log.Debug().Int("requested", len(texts)).Int("fetched", len(missing)).Msg("Embedded batch")
	return out, nil
}

// retrying is the primary space without the fallback.
type retrying struct {
	r *Resilient
}

func (s *retrying) Dimension() int { return s.r.primary.Dimension() }
func (s *retrying) Model() string  { return s.r.primary.Model() }

func (s *retrying) Embed(ctx context.Context, text string) (Vector, error) {
	return s.r.embedPrimary(ctx, text)
}

func (s *retrying) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	return s.r.embedPrimaryBatch(ctx, texts)
}

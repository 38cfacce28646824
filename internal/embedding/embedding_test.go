package embedding

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"esg-mcp/internal/resilience"
)

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	h := NewHashEmbedder(256)
	ctx := context.Background()

	a, err := h.Embed(ctx, "CO2 emissions scope1")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, _ := h.Embed(ctx, "CO2 emissions scope1")

	if len(a.Values) != 256 || a.Model != HashModel {
		t.Fatalf("unexpected vector: len=%d model=%s", len(a.Values), a.Model)
	}
	if got := Cosine(a.Values, b.Values); math.Abs(got-1) > 1e-6 {
		t.Errorf("same text cosine = %v, want 1", got)
	}

	var norm float64
	for _, x := range a.Values {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

func TestHashEmbedder_RelatedTextsScoreHigher(t *testing.T) {
	h := NewHashEmbedder(768)
	ctx := context.Background()

	query, _ := h.Embed(ctx, "CO2_emissions_scope1")
	related, _ := h.Embed(ctx, "Scope 1 GHG Emissions. direct emissions, co2 emissions scope1")
	unrelated, _ := h.Embed(ctx, "Female employees share of workforce")

	r := Cosine(query.Values, related.Values)
	u := Cosine(query.Values, unrelated.Values)
	if r <= u {
		t.Errorf("related cosine %v should exceed unrelated %v", r, u)
	}
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	_, err := NewHashEmbedder(64).Embed(context.Background(), "  123 ,, ")
	if !errors.Is(err, ErrEmptyText) {
		t.Errorf("Embed() error = %v, want ErrEmptyText", err)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1, 0}, []float32{1}, 0},
		{nil, nil, 0},
		{[]float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// flakyEmbedder fails its first failures calls, then returns a constant vector.
type flakyEmbedder struct {
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flakyEmbedder) Dimension() int { return 2 }
func (f *flakyEmbedder) Model() string  { return "flaky" }

func (f *flakyEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return Vector{}, f.err
	}
	return Vector{Values: []float32{1, 0}, Model: "flaky"}, nil
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func testPolicy() resilience.Policy {
	return resilience.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, RateLimitMultiplier: 2}
}

func TestResilient_RetriesThenCaches(t *testing.T) {
	primary := &flakyEmbedder{failures: 1, err: errors.New("timeout")}
	r := NewResilient(primary, nil, testPolicy(), time.Minute)

	v, err := r.Embed(context.Background(), "water")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if v.Model != "flaky" {
		t.Errorf("Model = %s, want flaky", v.Model)
	}
	if got := primary.calls.Load(); got != 2 {
		t.Errorf("primary calls = %d, want 2", got)
	}

	if _, err := r.Embed(context.Background(), "water"); err != nil {
		t.Fatal(err)
	}
	if got := primary.calls.Load(); got != 2 {
		t.Errorf("cached call reached the primary: calls = %d", got)
	}
	if r.cache.len() != 1 {
		t.Errorf("cache size = %d, want 1", r.cache.len())
	}
}

func TestResilient_DegradesToFallback(t *testing.T) {
	primary := &flakyEmbedder{failures: 100, err: errors.New("unavailable")}
	r := NewResilient(primary, nil, testPolicy(), time.Minute)

	rec := &resilience.Recorder{}
	ctx := resilience.WithRecorder(context.Background(), rec)

	v, err := r.Embed(ctx, "water withdrawal")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if v.Model != HashModel {
		t.Errorf("Model = %s, want %s", v.Model, HashModel)
	}
	if got := primary.calls.Load(); got != 3 {
		t.Errorf("primary calls = %d, want 3", got)
	}
	if events := rec.Events(); len(events) != 1 || events[0].Service != "embedding" {
		t.Errorf("degradations = %+v, want one embedding event", events)
	}
}

func TestResilient_Space(t *testing.T) {
	primary := &flakyEmbedder{failures: 100, err: errors.New("down")}
	r := NewResilient(primary, nil, testPolicy(), 0)

	space, ok := r.Space("flaky")
	if !ok {
		t.Fatal("expected primary space")
	}
	if _, err := space.Embed(context.Background(), "x"); err == nil {
		t.Error("primary space must not fall back")
	}

	fb, ok := r.Space(HashModel)
	if !ok || fb.Model() != HashModel {
		t.Fatal("expected fallback space")
	}
	if _, ok := r.Space("other"); ok {
		t.Error("unknown space reported as available")
	}
}

func TestResilient_NoPrimary(t *testing.T) {
	r := NewResilient(nil, NewHashEmbedder(32), testPolicy(), time.Minute)
	vs, err := r.EmbedBatch(context.Background(), []string{"energy", "water"})
	if err != nil || len(vs) != 2 {
		t.Fatalf("EmbedBatch() = %d vectors, err %v", len(vs), err)
	}
	if r.Model() != HashModel || r.Dimension() != 32 {
		t.Errorf("Model/Dimension = %s/%d", r.Model(), r.Dimension())
	}
}

func TestVectorCache_Expires(t *testing.T) {
	c := newVectorCache(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.put("k", Vector{Model: "m"})
	if _, ok := c.get("k"); !ok {
		t.Fatal("expected hit")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.get("k"); ok {
		t.Error("expected expired entry to miss")
	}
}

// shortBatchEmbedder drops the last vector of every batch.
type shortBatchEmbedder struct {
	flakyEmbedder
}

func (s *shortBatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	vs, err := s.flakyEmbedder.EmbedBatch(ctx, texts)
	if err != nil || len(vs) == 0 {
		return vs, err
	}
	return vs[:len(vs)-1], nil
}

func TestResilient_ShortBatchFallsBack(t *testing.T) {
	primary := &shortBatchEmbedder{}
	r := NewResilient(primary, nil, testPolicy(), time.Minute)

	rec := &resilience.Recorder{}
	ctx := resilience.WithRecorder(context.Background(), rec)

	vs, err := r.EmbedBatch(ctx, []string{"energy", "water", "waste"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vs) != 3 {
		t.Fatalf("EmbedBatch() = %d vectors, want 3", len(vs))
	}
	for i, v := range vs {
		if v.Model != HashModel {
			t.Errorf("vector %d Model = %s, want %s", i, v.Model, HashModel)
		}
	}
	if got := primary.calls.Load(); got != 3 {
		t.Errorf("primary calls = %d, want 3 (one batch, no retries)", got)
	}
	if r.cache.len() != 0 {
		t.Errorf("cache size = %d, want 0", r.cache.len())
	}
	if events := rec.Events(); len(events) != 1 {
		t.Errorf("degradations = %+v, want one", events)
	}
}

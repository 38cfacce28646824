package matcher

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"esg-mcp/internal/classifier"
	"esg-mcp/internal/embedding"
	"esg-mcp/internal/resilience"
	"esg-mcp/internal/stats"
	"esg-mcp/internal/taxonomy"
	"esg-mcp/internal/units"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Review states of a mapping decision.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Candidate sources.
const (
	SourceEmbedding  = "embedding"
	SourceClassifier = "classifier"
)

// SimilarityCandidate is one scored taxonomy entry.
type SimilarityCandidate struct {
	KPI            taxonomy.KPIDefinition `json:"kpi"`
	Similarity     float64                `json:"similarity"`
	Distance       float64                `json:"distance"`
	BaseSimilarity float64                `json:"base_similarity"`
	Source         string                 `json:"source"`
	Breakdown      Breakdown              `json:"breakdown"`
}

// Breakdown itemises how a candidate's similarity was composed.
type Breakdown struct {
	Base         float64 `json:"base"`
	Unit         float64 `json:"unit"`
	Quality      float64 `json:"quality"`
	SampleSize   float64 `json:"sample_size"`
	Plausibility float64 `json:"plausibility"`
	Category     float64 `json:"category"`
	Classifier   float64 `json:"classifier"`
}

func (b Breakdown) total() float64 {
	return b.Base + b.Unit + b.Quality + b.SampleSize + b.Plausibility + b.Category + b.Classifier
}

// MappingDecision is the matcher's verdict for one raw label. BestMatch is nil when unresolved,
// and then Confidence is 0.
type MappingDecision struct {
	RawLabel          string                 `json:"raw_label"`
	BestMatch         *SimilarityCandidate   `json:"best_match,omitempty"`
	Alternatives      []SimilarityCandidate  `json:"alternatives,omitempty"`
	Confidence        float64                `json:"confidence"`
	RecordCount       int                    `json:"record_count"`
	CommonUnit        string                 `json:"common_unit,omitempty"`
	EstimatedCategory taxonomy.Category      `json:"estimated_category,omitempty"`
	EmbeddingModel    string                 `json:"embedding_model,omitempty"`
	Suggestion        *classifier.Suggestion `json:"classifier_suggestion,omitempty"`
	Review            string                 `json:"review"`
	Error             string                 `json:"error,omitempty"`
}

// Resolved reports whether a KPI was chosen.
func (d MappingDecision) Resolved() bool {
	return d.BestMatch != nil
}

// KPIID returns the chosen KPI id, or "".
func (d MappingDecision) KPIID() string {
	if d.BestMatch == nil {
		return ""
	}
	return d.BestMatch.KPI.ID
}

// Options configures a Matcher.
type Options struct {
	Weights    Weights
	Workers    int
	Classifier classifier.Classifier
	Units      *units.Registry
}

// spaces is implemented by embedders that can answer in more than one vector space.
type spaces interface {
	Space(model string) (embedding.Embedder, bool)
	Fallback() embedding.Embedder
}

type indexEntry struct {
	kpi    taxonomy.KPIDefinition
	vector []float32
}

// Matcher resolves raw labels to taxonomy entries. It is safe for concurrent use.
type Matcher struct {
	tax      *taxonomy.Taxonomy
	embedder embedding.Embedder
	opts     Options

	mu      sync.Mutex
	indexes map[string][]indexEntry
}

// New builds a matcher over an immutable taxonomy.
func New(tax *taxonomy.Taxonomy, embedder embedding.Embedder, opts Options) *Matcher {
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Weights.MaxAlternatives <= 0 {
		opts.Weights.MaxAlternatives = DefaultWeights().MaxAlternatives
	}
	return &Matcher{
		tax:      tax,
		embedder: embedder,
		opts:     opts,
		indexes:  make(map[string][]indexEntry),
	}
}

// Taxonomy returns the catalogue the matcher scores against.
func (m *Matcher) Taxonomy() *taxonomy.Taxonomy {
	return m.tax
}

// indexFor returns the taxonomy vectors in the given model space, embedding them on first use.
// A failed build is not cached, so the next call retries.
func (m *Matcher) indexFor(ctx context.Context, model string) ([]indexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, ok := m.indexes[model]; ok {
		return idx, nil
	}

	src := m.embedder
	if sp, ok := m.embedder.(spaces); ok {
		e, ok := sp.Space(model)
		if !ok {
			return nil, fmt.Errorf("no embedder for model %q", model)
		}
		src = e
	}

	var defs []taxonomy.KPIDefinition
	var texts []string
	for _, d := range m.tax.All() {
		if !d.Active() {
			continue
		}
		defs = append(defs, d)
		texts = append(texts, d.EmbeddingText())
	}

	vecs, err := src.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("build taxonomy index: %w", err)
	}
	if len(vecs) != len(defs) {
		return nil, fmt.Errorf("build taxonomy index: got %d vectors for %d KPIs", len(vecs), len(defs))
	}

	idx := make([]indexEntry, len(defs))
	for i, v := range vecs {
		if v.Model != model {
			return nil, fmt.Errorf("build taxonomy index: vector %d is in space %q, want %q", i, v.Model, model)
		}
		idx[i] = indexEntry{kpi: defs[i], vector: v.Values}
	}
	m.indexes[model] = idx
	log.Info().Str("model", model).Int("kpis", len(idx)).Msg("Built taxonomy index")
	return idx, nil
}

// lookup embeds text and returns the vector together with the index of the same space, degrading
// to the local fallback space when the preferred one is unavailable.
func (m *Matcher) lookup(ctx context.Context, text string) (embedding.Vector, []indexEntry, error) {
	vec, err := m.embedder.Embed(ctx, text)
	if err == nil {
		idx, ierr := m.indexFor(ctx, vec.Model)
		if ierr == nil {
			return vec, idx, nil
		}
		err = ierr
	}
	if ctx.Err() != nil {
		return embedding.Vector{}, nil, ctx.Err()
	}

	sp, ok := m.embedder.(spaces)
	if !ok || sp.Fallback() == nil || sp.Fallback().Model() == vec.Model {
		return embedding.Vector{}, nil, err
	}
	resilience.Report(ctx, "embedding", "index", err)

	fb := sp.Fallback()
	vec, err = fb.Embed(ctx, text)
	if err != nil {
		return embedding.Vector{}, nil, err
	}
	idx, err := m.indexFor(ctx, vec.Model)
	if err != nil {
		return embedding.Vector{}, nil, err
	}
	return vec, idx, nil
}

// Match resolves one group. It never fails: an embedding failure yields an unresolved decision.
func (m *Matcher) Match(ctx context.Context, g stats.RawKPIGroup) MappingDecision {
	w := m.opts.Weights
	d := MappingDecision{
		RawLabel:          g.RawLabel,
		RecordCount:       g.RecordCount,
		CommonUnit:        g.CommonUnit,
		EstimatedCategory: taxonomy.EstimateCategory(g.RawLabel, g.CommonUnit),
		Review:            ReviewPending,
	}

	// 1. Summary
	summary := Summarize(g)

	// 2. Embed
	vec, idx, err := m.lookup(ctx, summary)
	if err != nil {
		log.Warn().Err(err).Str("label", g.RawLabel).Msg("Embedding failed, mapping left unresolved")
		d.Error = err.Error()
		return d
	}
	d.EmbeddingModel = vec.Model

	// 3. Similarity
	var cands []SimilarityCandidate
	for _, e := range idx {
		sim := clamp01(embedding.Cosine(vec.Values, e.vector))
		if sim < w.Floor {
			continue
		}
		cands = append(cands, SimilarityCandidate{
			KPI:            e.kpi,
			BaseSimilarity: sim,
			Distance:       1 - sim,
			Source:         SourceEmbedding,
			Breakdown:      Breakdown{Base: sim},
		})
	}

	// 4. Bonuses
	for i := range cands {
		c := &cands[i]
		c.Breakdown.Unit = m.unitBonus(g.CommonUnit, c.KPI)
		c.Breakdown.Quality = m.qualityBonus(g)
		c.Breakdown.SampleSize = m.sampleBonus(g.RecordCount)
		c.Breakdown.Plausibility = m.plausibilityBonus(g, c.KPI)
		if d.EstimatedCategory != taxonomy.Unknown && d.EstimatedCategory == c.KPI.Category {
			c.Breakdown.Category = w.Category
		}
		c.Similarity = clamp01(c.Breakdown.total())
	}

	// 5. Classifier
	if m.opts.Classifier != nil {
		cands = m.applyClassifier(ctx, summary, cands, &d)
	}

	// 6. Rank
	m.rank(&d, cands)
	return d
}

func (m *Matcher) applyClassifier(ctx context.Context, summary string, cands []SimilarityCandidate, d *MappingDecision) []SimilarityCandidate {
	w := m.opts.Weights
	s, err := m.opts.Classifier.Classify(ctx, summary, m.activeNames())
	if err != nil {
		log.Debug().Err(err).Str("label", d.RawLabel).Msg("No classifier suggestion")
		return cands
	}
	d.Suggestion = &s

	kpi, ok := m.tax.Resolve(s.SuggestedName)
	if !ok || !kpi.Active() {
		return cands
	}

	for i := range cands {
		if cands[i].KPI.ID != kpi.ID {
			continue
		}
		if s.Confidence > w.ClassifierBoostMin {
			cands[i].Breakdown.Classifier = s.Confidence * w.ClassifierBoost
			cands[i].Similarity = clamp01(cands[i].Breakdown.total())
		}
		return cands
	}

	if s.Confidence > w.ClassifierInsertMin {
		cands = append(cands, SimilarityCandidate{
			KPI:            kpi,
			Similarity:     clamp01(s.Confidence),
			BaseSimilarity: clamp01(s.Confidence),
			Distance:       1 - clamp01(s.Confidence),
			Source:         SourceClassifier,
			Breakdown:      Breakdown{Base: clamp01(s.Confidence)},
		})
	}
	return cands
}

func (m *Matcher) rank(d *MappingDecision, cands []SimilarityCandidate) {
	slices.SortStableFunc(cands, func(a, b SimilarityCandidate) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.KPI.ID, b.KPI.ID)
	})
	if len(cands) == 0 {
		return
	}
	best := cands[0]
	d.BestMatch = &best
	d.Confidence = best.Similarity

	rest := cands[1:]
	if len(rest) > m.opts.Weights.MaxAlternatives {
		rest = rest[:m.opts.Weights.MaxAlternatives]
	}
	d.Alternatives = append([]SimilarityCandidate(nil), rest...)
}

// MatchLabel resolves a bare label with only the similarity and unit bonus.
func (m *Matcher) MatchLabel(ctx context.Context, label, unit string, samples []float64) MappingDecision {
	d := MappingDecision{
		RawLabel:          label,
		RecordCount:       len(samples),
		CommonUnit:        unit,
		EstimatedCategory: taxonomy.EstimateCategory(label, unit),
		Review:            ReviewPending,
	}

	vec, idx, err := m.lookup(ctx, labelText(label, unit, samples))
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.EmbeddingModel = vec.Model

	var cands []SimilarityCandidate
	for _, e := range idx {
		sim := clamp01(embedding.Cosine(vec.Values, e.vector))
		if sim < m.opts.Weights.Floor {
			continue
		}
		c := SimilarityCandidate{
			KPI:            e.kpi,
			BaseSimilarity: sim,
			Distance:       1 - sim,
			Source:         SourceEmbedding,
			Breakdown:      Breakdown{Base: sim, Unit: m.unitBonus(unit, e.kpi)},
		}
		c.Similarity = clamp01(c.Breakdown.total())
		cands = append(cands, c)
	}
	m.rank(&d, cands)
	return d
}

// MatchAll resolves groups concurrently on a bounded worker pool. Decisions come back in input
// order. Only context cancellation makes it fail.
func (m *Matcher) MatchAll(ctx context.Context, groups []stats.RawKPIGroup) ([]MappingDecision, error) {
	out := make([]MappingDecision, len(groups))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(m.opts.Workers)
	for i := range groups {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = m.Match(ctx, groups[i])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Matcher) activeNames() []string {
	var names []string
	for _, d := range m.tax.All() {
		if d.Active() {
			names = append(names, d.Name)
		}
	}
	return names
}

func (m *Matcher) unitBonus(unit string, kpi taxonomy.KPIDefinition) float64 {
	w := m.opts.Weights
	if unit == "" {
		return 0
	}
	if taxonomy.UnitsEquivalent(unit, kpi.CanonicalUnit) {
		return w.UnitEquivalent
	}
	if m.opts.Units != nil && m.opts.Units.CheckCompatibility(unit, kpi.CanonicalUnit).Compatible {
		return w.UnitConvertible
	}
	return 0
}

func (m *Matcher) qualityBonus(g stats.RawKPIGroup) float64 {
	w := m.opts.Weights
	if !g.UnitConsistency || w.QualitySaturation <= 0 {
		return 0
	}
	return w.Quality * math.Min(1, float64(g.RecordCount)/float64(w.QualitySaturation))
}

func (m *Matcher) sampleBonus(n int) float64 {
	w := m.opts.Weights
	switch {
	case n >= w.SampleLargeMin:
		return w.SampleLarge
	case n >= w.SampleMediumMin:
		return w.SampleMedium
	}
	return 0
}

// plausibilityBonus requires non-negative values, ratio values within [0,1] and an average no
// larger than PlausibilityFactor times the KPI's expected maximum. Values are compared in the
// canonical unit when the group's unit converts.
func (m *Matcher) plausibilityBonus(g stats.RawKPIGroup, kpi taxonomy.KPIDefinition) float64 {
	w := m.opts.Weights
	vr := g.ValueRange
	if m.opts.Units != nil && g.CommonUnit != "" {
		canonical := func(v float64) float64 {
			if r := m.opts.Units.Convert(v, g.CommonUnit, kpi.CanonicalUnit); r.IsValid {
				return r.Value
			}
			return v
		}
		vr.Min, vr.Max, vr.Avg = canonical(vr.Min), canonical(vr.Max), canonical(vr.Avg)
	}
	if vr.Min < 0 || vr.Avg < 0 {
		return 0
	}
	if kpi.IsProportion() && vr.Max > 1 {
		return 0
	}
	if kpi.ExpectedMax > 0 && vr.Avg > w.PlausibilityFactor*kpi.ExpectedMax {
		return 0
	}
	return w.Plausibility
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashModel identifies vectors produced by HashEmbedder.
const HashModel = "local-keyword-hash"

// Feature weights of the hashing embedder.
const (
	tokenWeight   = 1.0
	synonymWeight = 0.8
	trigramWeight = 0.3
)

// stopwords are dropped before hashing. They include the scaffolding words of the matcher's
// summaries and of the taxonomy descriptions, which would otherwise dominate every vector.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "by": true, "for": true, "in": true, "of": true,
	"on": true, "or": true, "the": true, "to": true, "per": true, "total": true, "with": true,
	"label": true, "value": true, "values": true, "unit": true, "units": true, "records": true,
	"record": true, "range": true, "min": true, "max": true, "avg": true, "consistent": true,
	"yes": true, "no": true, "category": true, "sample": true, "samples": true, "also": true,
	"known": true, "keywords": true, "estimated": true, "aggregated": true, "unknown": true,
}

// synonyms expands common ESG shorthand into shared concept tokens.
var synonyms = map[string][]string{
	"co2":         {"emissions", "carbon", "ghg"},
	"co2e":        {"emissions", "carbon", "ghg"},
	"ghg":         {"emissions", "carbon"},
	"carbon":      {"emissions", "ghg"},
	"emission":    {"emissions"},
	"scope1":      {"scope", "direct"},
	"scope2":      {"scope", "indirect", "electricity"},
	"scope3":      {"scope", "chain", "indirect"},
	"electricity": {"energy", "power"},
	"power":       {"energy", "electricity"},
	"kwh":         {"energy"},
	"mwh":         {"energy"},
	"gwh":         {"energy"},
	"headcount":   {"employees", "workforce"},
	"staff":       {"employees", "workforce"},
	"fte":         {"employees", "workforce"},
	"employee":    {"employees"},
	"women":       {"female", "gender"},
	"female":      {"women", "gender"},
	"h2o":         {"water"},
	"m3":          {"water", "volume"},
	"recycled":    {"recycling", "waste"},
	"recycling":   {"recycled", "waste"},
	"injuries":    {"injury", "safety"},
	"ltifr":       {"injury", "safety", "lost", "time"},
	"directors":   {"board"},
	"turnover":    {"attrition"},
	"sales":       {"revenue"},
	"capex":       {"capital", "expenditure"},
}

// HashEmbedder is the local fallback: a deterministic feature-hashing embedder over words,
// synonyms and character trigrams. It needs no network and never fails on non-empty input.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a hashing embedder of the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }
func (h *HashEmbedder) Model() string  { return HashModel }

func (h *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return Vector{}, err
	}
	words := Tokenize(text)
	if len(words) == 0 {
		return Vector{}, ErrEmptyText
	}

	v := make([]float32, h.dim)
	for _, w := range words {
		h.add(v, "w:"+w, tokenWeight)
		for _, s := range synonyms[w] {
			h.add(v, "w:"+s, synonymWeight)
		}
		padded := "#" + w + "#"
		for i := 0; i+3 <= len(padded); i++ {
			h.add(v, "c:"+padded[i:i+3], trigramWeight)
		}
	}
	Normalize(v)
	return Vector{Values: v, Model: HashModel}, nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// Tokenize lower-cases text and splits it into words, dropping stopwords and pure numbers.
// Letter-digit runs such as "scope1" stay whole.
func Tokenize(text string) []string {
	raw := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := raw[:0]
	for _, w := range raw {
		if stopwords[w] || isNumber(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

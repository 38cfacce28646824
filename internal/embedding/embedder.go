package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrEmptyText is returned for inputs that carry no embeddable content.
var ErrEmptyText = errors.New("nothing to embed")

// Vector is an embedding tagged with the model space it belongs to. Vectors from different
// models must never be compared.
type Vector struct {
	Values []float32
	Model  string
}

// Embedder turns text into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
	Dimension() int
	Model() string
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is empty, zero or the
// lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place. Zero vectors are left untouched.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

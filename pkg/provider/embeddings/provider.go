// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// A provider maps message text to dense float32 vectors. The conversation
// store indexes these vectors for cosine-similarity retrieval, so every
// vector persisted by Reservoir is L2-normalized first (see [Normalize]);
// providers themselves return raw model output.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"math"
)

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different providers
// must never be mixed in one similarity computation.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails
	// or ctx is cancelled. Text passes through verbatim; any model-specific
	// prompt formatting is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call. The returned slice has the same length as texts with
	// result[i] corresponding to texts[i]. Partial results are not returned:
	// on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging and
	// for stamping stored embeddings.
	ModelID() string
}

// Normalize scales vec to unit length in place and returns it. A zero vector
// is returned unchanged (it cannot be normalized and will simply never win a
// cosine ranking).
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}

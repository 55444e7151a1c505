package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension is the vector size of the hash embedder.
const DefaultHashDimension = 256

// HashEmbedder is a deterministic feature-hashing embedder.
// It needs no network and is used offline and in tests.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder. A non-positive dimension selects DefaultHashDimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	return &HashEmbedder{dim: dimension}
}

// ModelID identifies the hashing scheme and dimension.
func (e *HashEmbedder) ModelID() string {
	return fmt.Sprintf("hash/v1-%d", e.dim)
}

// Dimension returns the vector size.
func (e *HashEmbedder) Dimension() int {
	return e.dim
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}

// Embed hashes lower-cased tokens and character trigrams into buckets and
// L2-normalizes the result. Text without tokens maps to a fixed unit vector.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		e.add(vec, tok, 1.0)
		runes := []rune(tok)
		for j := 0; j+3 <= len(runes); j++ {
			e.add(vec, "#"+string(runes[j:j+3]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= inv
	}
	return vec
}

// add hashes feature into a bucket; a second hash bit chooses the sign.
func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(e.dim))
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	vec[bucket] += weight
}

var _ Embedder = (*HashEmbedder)(nil)

// Package mock provides deterministic embedders for tests and offline use.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/embermind/engram/memory"
)

// Embedder generates deterministic embeddings from a text hash. Identical
// text always yields the identical unit vector, so it is ideal for
// round-trip and persistence tests; it does not produce real semantic
// similarity between different texts.
type Embedder struct {
	dimensions int
}

// New creates a hash-based embedder. A non-positive dims defaults to 384
// to match all-MiniLM-L6-v2.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &Embedder{dimensions: dims}
}

// Embed creates a deterministic embedding from the text hash.
func (e *Embedder) Embed(ctx context.Context, text string) (memory.Vector, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	// Use the hash as an LCG seed for pseudo-random generation.
	seed := h.Sum64()
	vec := make(memory.Vector, e.dimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// TokenBag embeds text as a normalized bag of hashed tokens. Texts that
// share words score higher, which makes it useful when an example or test
// needs similarity that tracks word overlap without a real model.
type TokenBag struct {
	dimensions int
}

// NewTokenBag creates a token-bag embedder. A non-positive dims defaults
// to 384.
func NewTokenBag(dims int) *TokenBag {
	if dims <= 0 {
		dims = 384
	}
	return &TokenBag{dimensions: dims}
}

// Embed hashes each lowercased token into a bucket and normalizes.
func (e *TokenBag) Embed(ctx context.Context, text string) (memory.Vector, error) {
	vec := make(memory.Vector, e.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dimensions)]++
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (e *TokenBag) Dimensions() int {
	return e.dimensions
}

// normalize converts the vector to unit length.
func normalize(vec memory.Vector) memory.Vector {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

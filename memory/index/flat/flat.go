// Package flat implements memory.Index as a brute-force cosine scan over a
// single JSON file (embeddings.json, one vector per record id).
//
// Every query touches every vector, O(n·D). That is fine for corpora in the
// low thousands; a larger corpus should swap an approximate nearest-neighbor
// structure in behind memory.Index.
package flat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/embermind/engram/memory"
)

// TieBreak reports whether id a ranks before id b when two matches have
// equal similarity. The default orders by id ascending; callers with access
// to record timestamps can inject a recency-aware comparator.
type TieBreak func(a, b string) bool

// Option configures the index.
type Option func(*Index)

// WithTieBreak overrides the equal-similarity comparator.
func WithTieBreak(fn TieBreak) Option {
	return func(ix *Index) {
		ix.tieBreak = fn
	}
}

// Index is a file-backed brute-force cosine similarity index.
type Index struct {
	path     string
	dim      int
	tieBreak TieBreak
	mu       sync.RWMutex
	vecs     map[string]memory.Vector
}

// New opens the index at path with the given vector dimension. A document
// that fails to parse yields memory.ErrStoreCorrupt; a stored vector of the
// wrong length yields memory.ErrDimensionMismatch; a missing file yields an
// empty index.
func New(path string, dim int, opts ...Option) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("flat: dimension must be positive, got %d", dim)
	}
	ix := &Index{
		path:     path,
		dim:      dim,
		tieBreak: func(a, b string) bool { return a < b },
		vecs:     make(map[string]memory.Vector),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if err := ix.load(); err != nil {
		return nil, err
	}
	return ix, nil
}

// Dimension returns the configured vector dimension.
func (ix *Index) Dimension() int {
	return ix.dim
}

// Set stores the vector for an id, replacing any previous one.
func (ix *Index) Set(id string, vec memory.Vector) error {
	if id == "" {
		return fmt.Errorf("flat: vector id is required")
	}
	if len(vec) != ix.dim {
		return fmt.Errorf("%w: got %d, index configured for %d", memory.ErrDimensionMismatch, len(vec), ix.dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	prev, existed := ix.vecs[id]
	dup := make(memory.Vector, len(vec))
	copy(dup, vec)
	ix.vecs[id] = dup
	if err := ix.save(); err != nil {
		if existed {
			ix.vecs[id] = prev
		} else {
			delete(ix.vecs, id)
		}
		return err
	}
	return nil
}

// Get returns a copy of the vector, or memory.ErrNotFound.
func (ix *Index) Get(id string) (memory.Vector, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	vec, ok := ix.vecs[id]
	if !ok {
		return nil, fmt.Errorf("flat: get %s: %w", id, memory.ErrNotFound)
	}
	dup := make(memory.Vector, len(vec))
	copy(dup, vec)
	return dup, nil
}

// Remove deletes the vector, or returns memory.ErrNotFound.
func (ix *Index) Remove(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	vec, ok := ix.vecs[id]
	if !ok {
		return fmt.Errorf("flat: remove %s: %w", id, memory.ErrNotFound)
	}
	delete(ix.vecs, id)
	if err := ix.save(); err != nil {
		ix.vecs[id] = vec
		return err
	}
	return nil
}

// Search scans every stored vector and returns up to k matches ranked by
// cosine similarity descending. Equal similarities are ordered by the
// configured tie-break so results are reproducible.
func (ix *Index) Search(query memory.Vector, k int) ([]memory.Match, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d, index configured for %d", memory.ErrDimensionMismatch, len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	matches := make([]memory.Match, 0, len(ix.vecs))
	for id, vec := range ix.vecs {
		matches = append(matches, memory.Match{ID: id, Similarity: cosine(query, vec)})
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return ix.tieBreak(matches[i].ID, matches[j].ID)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// IDs returns every indexed id, sorted.
func (ix *Index) IDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ids := make([]string, 0, len(ix.vecs))
	for id := range ix.vecs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vecs)
}

// cosine computes cosine similarity with float64 accumulation. A zero
// vector scores 0 against everything.
func cosine(a, b memory.Vector) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// load reads and validates the document at ix.path.
func (ix *Index) load() error {
	data, err := os.ReadFile(ix.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("flat: read %s: %w", ix.path, err)
	}

	var vecs map[string]memory.Vector
	if err := json.Unmarshal(data, &vecs); err != nil {
		return fmt.Errorf("%w: parse %s: %v", memory.ErrStoreCorrupt, ix.path, err)
	}
	for id, vec := range vecs {
		if id == "" {
			return fmt.Errorf("%w: %s contains a vector without an id", memory.ErrStoreCorrupt, ix.path)
		}
		if len(vec) != ix.dim {
			return fmt.Errorf("%w: stored vector %s has %d dimensions, index configured for %d",
				memory.ErrDimensionMismatch, id, len(vec), ix.dim)
		}
	}
	ix.vecs = vecs
	return nil
}

// save writes the full document atomically. Caller holds the write lock.
func (ix *Index) save() error {
	data, err := json.MarshalIndent(ix.vecs, "", "  ")
	if err != nil {
		return fmt.Errorf("flat: marshal vectors: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(ix.path), ".embeddings-*.json")
	if err != nil {
		return fmt.Errorf("flat: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("flat: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("flat: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), ix.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("flat: rename temp file: %w", err)
	}
	return nil
}

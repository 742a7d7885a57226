package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/dgraph-io/ristretto"
)

// SearchOptions narrows a search.
type SearchOptions struct {
	// Category keeps only results of that category. Empty means no filter.
	Category Category
}

// Searcher ranks stored memories against a text query.
//
// The happy path embeds the query, pulls an oversampled candidate set from
// the index and joins it with the store. When the embedder fails or times
// out the searcher degrades to a case-insensitive substring match over the
// record contents; the degraded path is documented fallback behavior, not
// an error.
type Searcher struct {
	store    Store
	index    Index
	embedder Embedder
	cache    *ristretto.Cache
	config   *Config
}

// NewSearcher creates a searcher over the given store and index.
func NewSearcher(store Store, index Index, embedder Embedder, config *Config) (*Searcher, error) {
	cfg := config.withDefaults()
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.QueryCacheEntries * 10,
		MaxCost:     cfg.QueryCacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	return &Searcher{
		store:    store,
		index:    index,
		embedder: embedder,
		cache:    cache,
		config:   cfg,
	}, nil
}

// Search returns up to k memories ranked by relevance to the query.
// An empty store or k <= 0 yields an empty result, not an error. Every
// returned memory gets its access count bumped by one.
func (s *Searcher) Search(ctx context.Context, query string, k int, opts *SearchOptions) ([]Result, error) {
	if k <= 0 || s.store.Len() == 0 {
		return nil, nil
	}

	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		log.Printf("[MEMORY] embedding unavailable, using lexical fallback: %v", err)
		return s.lexical(query, k, opts)
	}

	// Oversample so category filtering and orphan drops still leave k hits.
	matches, err := s.index.Search(vec, k*s.config.OversampleFactor)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	results := make([]Result, 0, k)
	for _, m := range matches {
		if len(results) == k {
			break
		}
		if s.config.MinSimilarity > 0 && m.Similarity < s.config.MinSimilarity {
			break // matches are sorted by similarity descending
		}
		rec, err := s.store.Get(m.ID)
		if errors.Is(err, ErrNotFound) {
			s.repairOrphan(m.ID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("join candidate %s: %w", m.ID, err)
		}
		if opts != nil && opts.Category != "" && rec.Category != opts.Category {
			continue
		}
		results = append(results, Result{
			ID:         rec.ID,
			Content:    rec.Content,
			Category:   rec.Category,
			Metadata:   rec.Metadata,
			Similarity: m.Similarity,
		})
	}

	s.recordAccess(results)
	return results, nil
}

// embedQuery embeds the query text, consulting the cache first.
func (s *Searcher) embedQuery(ctx context.Context, query string) (Vector, error) {
	if cached, ok := s.cache.Get(query); ok {
		if vec, ok := cached.(Vector); ok {
			return vec, nil
		}
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	s.cache.Set(query, vec, 1)
	return vec, nil
}

// lexical is the degraded search path: case-insensitive substring match
// over content, ranked by match position (earliest first), then newest,
// then id. Matches report similarity 0. Only returned matches get an
// access bump; non-matches are untouched.
func (s *Searcher) lexical(query string, k int, opts *SearchOptions) ([]Result, error) {
	needle := strings.ToLower(query)

	type hit struct {
		rec *Record
		pos int
	}
	var hits []hit
	for _, rec := range s.store.All() {
		if opts != nil && opts.Category != "" && rec.Category != opts.Category {
			continue
		}
		pos := strings.Index(strings.ToLower(rec.Content), needle)
		if pos < 0 {
			continue
		}
		hits = append(hits, hit{rec: rec, pos: pos})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		if !hits[i].rec.Timestamp.Equal(hits[j].rec.Timestamp) {
			return hits[i].rec.Timestamp.After(hits[j].rec.Timestamp)
		}
		return hits[i].rec.ID < hits[j].rec.ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:       h.rec.ID,
			Content:  h.rec.Content,
			Category: h.rec.Category,
			Metadata: h.rec.Metadata,
		})
	}

	s.recordAccess(results)
	return results, nil
}

// recordAccess bumps the access count of every returned memory.
func (s *Searcher) recordAccess(results []Result) {
	for _, r := range results {
		if err := s.store.IncrementAccess(r.ID); err != nil {
			log.Printf("[MEMORY] record access for %s: %v", r.ID, err)
		}
	}
}

// repairOrphan removes an index entry that has no backing record. The
// inconsistency is self-healed, never surfaced to the caller.
func (s *Searcher) repairOrphan(id string) {
	log.Printf("[MEMORY] orphan embedding %s has no record, removing", id)
	if err := s.index.Remove(id); err != nil && !errors.Is(err, ErrNotFound) {
		log.Printf("[MEMORY] orphan embedding %s not removed: %v", id, err)
	}
}

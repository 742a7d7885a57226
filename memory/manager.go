package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// Manager owns the compound operations that must touch both the record
// store and the embedding index together, and exposes the thin
// Initialize/Finalize surface consumed by the session layer.
type Manager struct {
	store     Store
	index     Index
	embedder  Embedder
	extractor Extractor
	searcher  *Searcher
	policy    *RotationPolicy
	config    *Config
}

// Option configures the manager.
type Option func(*Manager)

// WithExtractor wires the draft extractor used by Finalize. Without one,
// Finalize is a no-op.
func WithExtractor(e Extractor) Option {
	return func(m *Manager) {
		m.extractor = e
	}
}

// WithConfig overrides the default configuration.
func WithConfig(c *Config) Option {
	return func(m *Manager) {
		m.config = c
	}
}

// NewManager creates a manager over the given store, index and embedder.
func NewManager(store Store, index Index, embedder Embedder, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:    store,
		index:    index,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.config = m.config.withDefaults()

	searcher, err := NewSearcher(store, index, embedder, m.config)
	if err != nil {
		return nil, fmt.Errorf("searcher: %w", err)
	}
	m.searcher = searcher
	m.policy = NewRotationPolicy(m.config)
	return m, nil
}

// Add ingests one draft: validates the category, embeds the content, and
// persists record and vector as one logical operation. Rotation runs
// before Add returns, so the store never ends an Add above the cap.
func (m *Manager) Add(ctx context.Context, draft Draft) (string, error) {
	rec, err := NewRecord(draft)
	if err != nil {
		return "", err
	}

	vec, err := m.embedder.Embed(ctx, rec.Content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	if err := m.store.Add(rec); err != nil {
		return "", fmt.Errorf("add record: %w", err)
	}
	if err := m.index.Set(rec.ID, vec); err != nil {
		// Roll back the record so the bijection holds.
		if rerr := m.store.Remove(rec.ID); rerr != nil {
			log.Printf("[MEMORY] rollback of %s failed, orphan left for repair: %v", rec.ID, rerr)
		}
		return "", fmt.Errorf("index embedding: %w", err)
	}

	m.policy.MaybeEvict(m.store, m.index)
	return rec.ID, nil
}

// Remove deletes a memory and its embedding together. Removing an absent
// id is a logged no-op, not an error.
func (m *Manager) Remove(id string) error {
	if err := m.store.Remove(id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("remove record %s: %w", id, err)
		}
		log.Printf("[MEMORY] remove %s: not found, nothing to do", id)
	}
	if err := m.index.Remove(id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("remove embedding %s: %w", id, err)
	}
	return nil
}

// Search ranks stored memories against a text query. See Searcher.Search.
func (m *Manager) Search(ctx context.Context, query string, k int, opts *SearchOptions) ([]Result, error) {
	return m.searcher.Search(ctx, query, k, opts)
}

// Initialize returns the memories most relevant to the opening query.
// Thin wrapper over Search with the configured k.
func (m *Manager) Initialize(ctx context.Context, query string) ([]Result, error) {
	return m.searcher.Search(ctx, query, m.config.RetrieveK, nil)
}

// Finalize extracts drafts from a finished conversation and ingests them.
// Extraction failure is non-fatal: nothing is added for the event and the
// store is left untouched. Invalid drafts are skipped with a log. Returns
// the ids actually inserted.
func (m *Manager) Finalize(ctx context.Context, turns []Turn) ([]string, error) {
	if m.extractor == nil {
		return nil, nil
	}
	drafts, err := m.extractor.Extract(ctx, turns)
	if err != nil {
		log.Printf("[MEMORY] extraction failed, nothing recorded: %v", err)
		return nil, nil
	}

	var ids []string
	for i, draft := range drafts {
		id, err := m.Add(ctx, draft)
		if err != nil {
			log.Printf("[MEMORY] skipping draft #%d: %v", i+1, err)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		log.Printf("[MEMORY] recorded %d memories (from %d drafts)", len(ids), len(drafts))
	}
	return ids, nil
}

// Repair runs the two-directional consistency scan: records without a
// vector and vectors without a record are both removed. Returns the number
// of orphans healed.
func (m *Manager) Repair() (int, error) {
	removed := 0

	for _, rec := range m.store.All() {
		if _, err := m.index.Get(rec.ID); errors.Is(err, ErrNotFound) {
			log.Printf("[MEMORY] repair: record %s has no embedding, removing", rec.ID)
			if err := m.store.Remove(rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return removed, fmt.Errorf("repair record %s: %w", rec.ID, err)
			}
			removed++
		}
	}

	for _, id := range m.index.IDs() {
		if _, err := m.store.Get(id); errors.Is(err, ErrNotFound) {
			log.Printf("[MEMORY] repair: embedding %s has no record, removing", id)
			if err := m.index.Remove(id); err != nil && !errors.Is(err, ErrNotFound) {
				return removed, fmt.Errorf("repair embedding %s: %w", id, err)
			}
			removed++
		}
	}

	return removed, nil
}

// Stats is a compact snapshot used by status reporting.
type Stats struct {
	Total      int              `json:"total"`
	Embeddings int              `json:"embeddings"`
	ByCategory map[Category]int `json:"by_category"`
}

// Stats summarizes the current store contents.
func (m *Manager) Stats() Stats {
	byCategory := make(map[Category]int, len(Categories))
	all := m.store.All()
	for _, rec := range all {
		byCategory[rec.Category]++
	}
	return Stats{
		Total:      len(all),
		Embeddings: m.index.Len(),
		ByCategory: byCategory,
	}
}

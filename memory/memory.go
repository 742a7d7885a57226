package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category classifies a memory. The set is closed: unknown values are
// rejected at the boundary and never stored.
type Category string

const (
	CategoryDecision    Category = "decision"
	CategoryPreference  Category = "preference"
	CategoryLearning    Category = "learning"
	CategoryIssueSolved Category = "issue_solved"
	CategoryPattern     Category = "pattern"
)

// Categories lists all valid categories in a stable order.
var Categories = []Category{
	CategoryDecision,
	CategoryPreference,
	CategoryLearning,
	CategoryIssueSolved,
	CategoryPattern,
}

// ParseCategory validates a raw category string.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

// Valid reports whether c is one of the five known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryDecision, CategoryPreference, CategoryLearning, CategoryIssueSolved, CategoryPattern:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown categories at the deserialization boundary.
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Vector is a fixed-dimension embedding. The dimension is enforced by the
// Index at write time; vectors of the wrong length are never stored.
type Vector []float32

// Record is a persisted memory.
//
// Timestamp is set once at creation and never mutated. AccessCount only
// ever increases.
type Record struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Category    Category          `json:"category"`
	Timestamp   time.Time         `json:"timestamp"`
	AccessCount int               `json:"access_count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so callers can hand out records without
// exposing internal state to mutation.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	dup := *r
	if r.Metadata != nil {
		dup.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

// Draft is a candidate memory supplied by the ingestion boundary.
// The store assigns id, timestamp and access count itself.
type Draft struct {
	Content  string            `json:"content"`
	Category Category          `json:"category"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewRecord turns a draft into a record, assigning a fresh id, the current
// time and a zero access count. The draft's category must be valid and its
// content non-empty.
func NewRecord(d Draft) (*Record, error) {
	if _, err := ParseCategory(string(d.Category)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(d.Content) == "" {
		return nil, fmt.Errorf("memory: draft content is empty")
	}
	var metadata map[string]string
	if d.Metadata != nil {
		metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			metadata[k] = v
		}
	}
	return &Record{
		ID:          uuid.New().String(),
		Content:     d.Content,
		Category:    d.Category,
		Timestamp:   time.Now(),
		AccessCount: 0,
		Metadata:    metadata,
	}, nil
}

// Store is the record persistence backend.
// Implementations: jsonfile.Store (local single file).
//
// Implementations must be safe for concurrent reads; writes take exclusive
// ownership. Cross-store compound operations (add+index, evict) are
// serialized by the caller, not by the Store.
type Store interface {
	// Add persists a new record. The record id must not already exist.
	Add(rec *Record) error

	// Get returns a copy of the record, or ErrNotFound.
	Get(id string) (*Record, error)

	// IncrementAccess bumps the record's access count by one.
	// Returns ErrNotFound if the id is absent.
	IncrementAccess(id string) error

	// Remove deletes the record. Returns ErrNotFound if the id is absent.
	Remove(id string) error

	// All returns a snapshot of every record, ordered by timestamp then id.
	All() []*Record

	// Len returns the number of stored records.
	Len() int
}

// Match is a raw similarity hit from the Index.
type Match struct {
	ID         string
	Similarity float64
}

// Index is the embedding storage backend.
// Implementations: flat.Index (brute-force cosine over a single file).
type Index interface {
	// Dimension returns the configured vector dimension.
	Dimension() int

	// Set stores the vector for an id, replacing any previous one.
	// Returns ErrDimensionMismatch if the vector has the wrong length.
	Set(id string, vec Vector) error

	// Get returns a copy of the vector, or ErrNotFound.
	Get(id string) (Vector, error)

	// Remove deletes the vector. Returns ErrNotFound if the id is absent.
	Remove(id string) error

	// Search returns up to k matches ranked by cosine similarity descending.
	Search(query Vector, k int) ([]Match, error)

	// IDs returns every indexed id, sorted. Used by consistency scans.
	IDs() []string

	// Len returns the number of stored vectors.
	Len() int
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local SDK), API-based (production).
type Embedder interface {
	// Embed converts a single text to an embedding vector. Callers bound
	// the call with the context; on failure the searcher degrades to a
	// lexical match rather than erroring.
	Embed(ctx context.Context, text string) (Vector, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Turn is one message of a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Extractor distills zero or more memory drafts from a transcript.
// A failure is non-fatal for the ingestion event: the store is left
// untouched and no drafts are added.
type Extractor interface {
	Extract(ctx context.Context, turns []Turn) ([]Draft, error)
}

// RecencyTieBreak returns an equal-similarity comparator backed by the
// store: the more recent record ranks first, then id ascending. Index
// implementations take it at construction to keep search results
// reproducible.
func RecencyTieBreak(store Store) func(a, b string) bool {
	return func(a, b string) bool {
		ra, errA := store.Get(a)
		rb, errB := store.Get(b)
		if errA != nil || errB != nil {
			return a < b
		}
		if !ra.Timestamp.Equal(rb.Timestamp) {
			return ra.Timestamp.After(rb.Timestamp)
		}
		return a < b
	}
}

// Result is one enriched search hit: the record joined with its similarity.
type Result struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Category   Category          `json:"category"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float64           `json:"similarity"`
}

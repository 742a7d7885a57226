// Package jsonfile persists memory records in a single JSON document.
//
// The document holds the record list plus rollup metadata (count, created,
// last_updated) and three derived lists over the learning, decision and
// issue_solved categories. Rollups are recomputed on every write, never
// mutated independently. Writes go to a temporary file in the same
// directory followed by a rename, so a crash mid-write never leaves a
// partially written document visible to readers.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/embermind/engram/memory"
)

const docVersion = "1.0"

// document is the on-disk layout of memory.json.
type document struct {
	Memories      []*memory.Record `json:"memories"`
	Metadata      docMetadata      `json:"metadata"`
	KeyLearnings  []string         `json:"key_learnings"`
	DecisionsMade []string         `json:"decisions_made"`
	IssuesSolved  []string         `json:"issues_solved"`
}

type docMetadata struct {
	Version     string    `json:"version"`
	Count       int       `json:"count"`
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"last_updated"`
}

// Store implements memory.Store over a single JSON file.
type Store struct {
	path    string
	mu      sync.RWMutex
	recs    map[string]*memory.Record
	created time.Time
}

// New opens the store at path, loading any existing document. A document
// that fails to parse or validate yields memory.ErrStoreCorrupt; a missing
// file yields an empty store.
func New(path string) (*Store, error) {
	s := &Store{
		path:    path,
		recs:    make(map[string]*memory.Record),
		created: time.Now(),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Add persists a new record. The id must not already exist and the
// category must be valid.
func (s *Store) Add(rec *memory.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("jsonfile: record id is required")
	}
	if !rec.Category.Valid() {
		return fmt.Errorf("%w: %q", memory.ErrInvalidCategory, rec.Category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recs[rec.ID]; exists {
		return fmt.Errorf("jsonfile: duplicate id %s", rec.ID)
	}
	s.recs[rec.ID] = rec.Clone()
	if err := s.save(); err != nil {
		delete(s.recs, rec.ID)
		return err
	}
	return nil
}

// Get returns a copy of the record, or memory.ErrNotFound.
func (s *Store) Get(id string) (*memory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[id]
	if !ok {
		return nil, fmt.Errorf("jsonfile: get %s: %w", id, memory.ErrNotFound)
	}
	return rec.Clone(), nil
}

// IncrementAccess bumps the record's access count by one and persists.
func (s *Store) IncrementAccess(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return fmt.Errorf("jsonfile: increment access %s: %w", id, memory.ErrNotFound)
	}
	rec.AccessCount++
	if err := s.save(); err != nil {
		rec.AccessCount--
		return err
	}
	return nil
}

// Remove deletes the record, or returns memory.ErrNotFound.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[id]
	if !ok {
		return fmt.Errorf("jsonfile: remove %s: %w", id, memory.ErrNotFound)
	}
	delete(s.recs, id)
	if err := s.save(); err != nil {
		s.recs[id] = rec
		return err
	}
	return nil
}

// All returns a snapshot of every record, ordered by timestamp then id.
func (s *Store) All() []*memory.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}

// snapshot clones and orders the records. Caller holds at least RLock.
func (s *Store) snapshot() []*memory.Record {
	out := make([]*memory.Record, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// load reads and validates the document at s.path.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jsonfile: read %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: parse %s: %v", memory.ErrStoreCorrupt, s.path, err)
	}

	for _, rec := range doc.Memories {
		if rec == nil || rec.ID == "" {
			return fmt.Errorf("%w: %s contains a record without an id", memory.ErrStoreCorrupt, s.path)
		}
		if _, dup := s.recs[rec.ID]; dup {
			return fmt.Errorf("%w: %s contains duplicate id %s", memory.ErrStoreCorrupt, s.path, rec.ID)
		}
		if rec.AccessCount < 0 {
			return fmt.Errorf("%w: %s record %s has negative access count", memory.ErrStoreCorrupt, s.path, rec.ID)
		}
		if rec.Timestamp.IsZero() {
			return fmt.Errorf("%w: %s record %s has no timestamp", memory.ErrStoreCorrupt, s.path, rec.ID)
		}
		s.recs[rec.ID] = rec
	}
	if !doc.Metadata.Created.IsZero() {
		s.created = doc.Metadata.Created
	}
	return nil
}

// save writes the full document atomically. Caller holds the write lock.
func (s *Store) save() error {
	memories := s.snapshot()
	doc := document{
		Memories: memories,
		Metadata: docMetadata{
			Version:     docVersion,
			Count:       len(memories),
			Created:     s.created,
			LastUpdated: time.Now(),
		},
		KeyLearnings:  rollup(memories, memory.CategoryLearning),
		DecisionsMade: rollup(memories, memory.CategoryDecision),
		IssuesSolved:  rollup(memories, memory.CategoryIssueSolved),
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".memory-*.json")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("jsonfile: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("jsonfile: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("jsonfile: rename temp file: %w", err)
	}
	return nil
}

// rollup builds the derived content list for one category. memories is
// already in timestamp order.
func rollup(memories []*memory.Record, cat memory.Category) []string {
	out := make([]string, 0)
	for _, rec := range memories {
		if rec.Category == cat {
			out = append(out, rec.Content)
		}
	}
	return out
}

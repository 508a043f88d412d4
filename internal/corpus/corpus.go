// Package corpus holds the recipe documents the service retrieves from:
// the templated dataset rows plus any extra files, with their embeddings.
package corpus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	SourceDataset = "dataset"
	SourceFile    = "file"
)

// Document is one retrievable unit of the corpus.
type Document struct {
	ID        string
	Text      string
	Embedding []float32
	Meta      Metadata
}

// Metadata describes where a document came from.
type Metadata struct {
	Source   string
	Title    string
	Category string
	Origin   string
}

var (
	// ErrNoContent marks a document with no usable text; ingestion refuses it.
	ErrNoContent = errors.New("document has no text content")
	// ErrNotFound is returned by Get for unknown document ids.
	ErrNotFound = errors.New("document not found")
)

// Store keeps documents in ingestion order. Ingest installs the corpus
// wholesale; documents are never mutated afterwards.
type Store struct {
	mu   sync.RWMutex
	docs []Document
	byID map[string]int
}

func NewStore() *Store {
	return &Store{byID: make(map[string]int)}
}

// Ingest validates docs and installs them as the corpus, replacing any
// previous contents. Ingesting the same set again yields the same store.
func (s *Store) Ingest(docs []Document) error {
	byID := make(map[string]int, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("ingest: document %d has no id", i)
		}
		if strings.TrimSpace(d.Text) == "" {
			return fmt.Errorf("ingest %s: %w", d.ID, ErrNoContent)
		}
		if _, dup := byID[d.ID]; dup {
			return fmt.Errorf("ingest: duplicate document id %s", d.ID)
		}
		byID[d.ID] = i
	}

	installed := make([]Document, len(docs))
	copy(installed, docs)

	s.mu.Lock()
	s.docs = installed
	s.byID = byID
	s.mu.Unlock()
	return nil
}

// Get returns the document with the given id.
func (s *Store) Get(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return Document{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return s.docs[i], nil
}

// Len reports the number of ingested documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// All returns the documents in ingestion order. The slice is a fresh copy;
// the documents share their embedding arrays and must be treated read-only.
func (s *Store) All() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// Package ingest prepares the corpus for retrieval: it resolves document
// embeddings from the cache where possible and embeds the rest in bounded
// concurrent batches.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/depie/maicookbook/internal/corpus"
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Cache persists embeddings across restarts, keyed by model and text hash.
// Implementations must be safe for concurrent use.
type Cache interface {
	Embedding(model, textHash string) ([]float32, bool, error)
	SaveEmbedding(model, textHash string, vec []float32) error
}

// Pipeline embeds documents before they enter the corpus store.
type Pipeline struct {
	embedder  Embedder
	cache     Cache
	model     string
	batchSize int
}

// New creates a Pipeline. cache may be nil, in which case every document is
// embedded fresh. If batchSize is <= 0, it defaults to 32.
func New(embedder Embedder, cache Cache, model string, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Pipeline{embedder: embedder, cache: cache, model: model, batchSize: batchSize}
}

// Run attaches an embedding to every document and returns the slice.
// Cached vectors are reused; the rest are embedded in batches of batchSize
// with at most four batches in flight.
func (p *Pipeline) Run(ctx context.Context, docs []corpus.Document) ([]corpus.Document, error) {
	var misses []int
	cached := 0
	for i := range docs {
		if p.cache == nil {
			misses = append(misses, i)
			continue
		}
		vec, ok, err := p.cache.Embedding(p.model, TextHash(docs[i].Text))
		if err != nil {
			return nil, fmt.Errorf("embedding cache lookup: %w", err)
		}
		if ok {
			docs[i].Embedding = vec
			cached++
			continue
		}
		misses = append(misses, i)
	}

	if len(misses) > 0 {
		if err := p.embedMisses(ctx, docs, misses); err != nil {
			return nil, err
		}
	}

	slog.Info("corpus embedded", "documents", len(docs), "cached", cached, "embedded", len(misses))
	return docs, nil
}

func (p *Pipeline) embedMisses(ctx context.Context, docs []corpus.Document, misses []int) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to stay polite to the endpoint.

	for start := 0; start < len(misses); start += p.batchSize {
		batch := misses[start:min(start+p.batchSize, len(misses))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, idx := range batch {
				texts[j] = docs[idx].Text
			}

			vecs, err := p.embedder.Embed(gCtx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch at %d: %w", batch[0], err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedding batch at %d: got %d vectors for %d texts", batch[0], len(vecs), len(batch))
			}

			for j, idx := range batch {
				docs[idx].Embedding = vecs[j]
				if p.cache == nil {
					continue
				}
				if err := p.cache.SaveEmbedding(p.model, TextHash(docs[idx].Text), vecs[j]); err != nil {
					slog.Warn("embedding cache write failed", "error", err)
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// TextHash is the cache key for a document text under a fixed model.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Package retrieval ranks corpus documents by similarity to a query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/depie/maicookbook/internal/corpus"
)

// ErrEmptyCorpus is returned when retrieval runs before any documents have
// been ingested.
var ErrEmptyCorpus = errors.New("corpus is empty")

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ScoredDocument is a retrieved document with its cosine similarity score.
type ScoredDocument struct {
	corpus.Document
	Score float64
}

// Retriever performs brute-force cosine similarity over the corpus store.
type Retriever struct {
	embedder Embedder
	store    *corpus.Store
}

func New(embedder Embedder, store *corpus.Store) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns exactly min(k, corpus size)
// documents in non-increasing score order; equal scores keep ingestion
// order. The corpus is never modified.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, fmt.Errorf("retrieve: k must be positive, got %d", k)
	}
	if r.store.Len() == 0 {
		return nil, ErrEmptyCorpus
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors, want 1", len(vecs))
	}
	qvec := vecs[0]
	qnorm := norm(qvec)

	docs := r.store.All()
	scored := make([]ScoredDocument, len(docs))
	for i, d := range docs {
		scored[i] = ScoredDocument{Document: d, Score: cosine(qvec, qnorm, d.Embedding)}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes dot(q,d) / (|q|*|d|) with float64 accumulation.
// Mismatched or zero vectors score 0 rather than failing the request.
func cosine(q []float32, qNorm float64, d []float32) float64 {
	if len(q) != len(d) || qNorm == 0 {
		return 0
	}
	var dot, dNormSq float64
	for i := range q {
		dot += float64(q[i]) * float64(d[i])
		dNormSq += float64(d[i]) * float64(d[i])
	}
	dNorm := math.Sqrt(dNormSq)
	if dNorm == 0 {
		return 0
	}
	return dot / (qNorm * dNorm)
}

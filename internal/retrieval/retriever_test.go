package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/depie/maicookbook/internal/corpus"
)

// vocabEmbedder is a deterministic fake: each vector dimension counts the
// occurrences of one vocabulary word.
type vocabEmbedder struct {
	vocab []string
	calls int
	err   error
}

func (e *vocabEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		vec := make([]float32, len(e.vocab))
		for j, w := range e.vocab {
			vec[j] = float32(strings.Count(lower, w))
		}
		out[i] = vec
	}
	return out, nil
}

func greekVocab() *vocabEmbedder {
	return &vocabEmbedder{vocab: []string{"μουσακά", "τζατζίκι", "μπακλαβά", "σαλάτα"}}
}

// ingestEmbedded builds a store whose documents are embedded with e.
func ingestEmbedded(t *testing.T, e *vocabEmbedder, texts []string) *corpus.Store {
	t.Helper()
	docs := make([]corpus.Document, len(texts))
	for i, text := range texts {
		vecs, err := e.Embed(context.Background(), []string{text})
		if err != nil {
			t.Fatal(err)
		}
		docs[i] = corpus.Document{
			ID:        string(rune('a' + i)),
			Text:      text,
			Embedding: vecs[0],
		}
	}
	e.calls = 0

	s := corpus.NewStore()
	if err := s.Ingest(docs); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRetrieveRanksBestMatchFirst(t *testing.T) {
	e := greekVocab()
	store := ingestEmbedded(t, e, []string{
		"συνταγή για τζατζίκι με γιαούρτι και σκόρδο",
		"συνταγή για μουσακά με μελιτζάνες και κιμά",
		"συνταγή για μπακλαβά με φύλλο και καρύδια",
	})

	got, err := New(e, store).Retrieve(context.Background(), "Πώς φτιάχνω μουσακά;", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if !strings.Contains(got[0].Text, "μουσακά") {
		t.Errorf("top result = %q, want the moussaka recipe", got[0].Text)
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v then %v", got[0].Score, got[1].Score)
	}
}

func TestRetrieveReturnsExactlyMinKCorpus(t *testing.T) {
	e := greekVocab()
	store := ingestEmbedded(t, e, []string{
		"μουσακά", "τζατζίκι", "μπακλαβά",
	})
	r := New(e, store)

	for _, tt := range []struct{ k, want int }{
		{1, 1},
		{3, 3},
		{10, 3},
	} {
		got, err := r.Retrieve(context.Background(), "μουσακά", tt.k)
		if err != nil {
			t.Fatalf("k=%d: unexpected error: %v", tt.k, err)
		}
		if len(got) != tt.want {
			t.Errorf("k=%d: got %d results, want %d", tt.k, len(got), tt.want)
		}
		for i := 1; i < len(got); i++ {
			if got[i-1].Score < got[i].Score {
				t.Errorf("k=%d: scores increase at %d", tt.k, i)
			}
		}
	}
}

func TestRetrieveTiesKeepIngestionOrder(t *testing.T) {
	e := greekVocab()
	// Two identical documents score identically for any query.
	store := ingestEmbedded(t, e, []string{
		"σαλάτα με ντομάτα",
		"συνταγή με μουσακά",
		"συνταγή με μουσακά",
	})

	got, err := New(e, store).Retrieve(context.Background(), "μουσακά", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].ID != "b" || got[1].ID != "c" {
		t.Errorf("tie order = %s, %s; want ingestion order b, c", got[0].ID, got[1].ID)
	}
	if got[0].Score != got[1].Score {
		t.Errorf("expected a tie, got %v and %v", got[0].Score, got[1].Score)
	}
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	e := greekVocab()
	r := New(e, corpus.NewStore())

	_, err := r.Retrieve(context.Background(), "μουσακά", 3)
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("error = %v, want ErrEmptyCorpus", err)
	}
	if e.calls != 0 {
		t.Errorf("embedder called %d times for empty corpus, want 0", e.calls)
	}
}

func TestRetrieveRejectsNonPositiveK(t *testing.T) {
	e := greekVocab()
	store := ingestEmbedded(t, e, []string{"μουσακά"})

	if _, err := New(e, store).Retrieve(context.Background(), "μουσακά", 0); err == nil {
		t.Fatal("expected error for k=0, got nil")
	}
}

func TestRetrievePropagatesEmbedderError(t *testing.T) {
	e := greekVocab()
	store := ingestEmbedded(t, e, []string{"μουσακά"})
	e.err = errors.New("endpoint down")

	if _, err := New(e, store).Retrieve(context.Background(), "μουσακά", 1); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestRetrieveStableAcrossReingest(t *testing.T) {
	e := greekVocab()
	texts := []string{
		"συνταγή για μουσακά",
		"συνταγή για τζατζίκι",
		"συνταγή για μπακλαβά",
	}
	store := ingestEmbedded(t, e, texts)
	r := New(e, store)

	first, err := r.Retrieve(context.Background(), "μουσακά και τζατζίκι", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Re-ingesting the same documents must not change retrieval results.
	store2 := ingestEmbedded(t, e, texts)
	second, err := New(e, store2).Retrieve(context.Background(), "μουσακά και τζατζίκι", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range first {
		if first[i].ID != second[i].ID || first[i].Score != second[i].Score {
			t.Errorf("result %d differs after re-ingest: %s/%v vs %s/%v",
				i, first[i].ID, first[i].Score, second[i].ID, second[i].Score)
		}
	}
}

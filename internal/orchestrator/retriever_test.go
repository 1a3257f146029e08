package orchestrator

import (
	"context"
	"errors"
	"testing"
)

func TestRetrieverEmptyKeywords(t *testing.T) {
	store := &fakeStore{snippets: []Snippet{{Title: "x"}}}
	r := NewRetriever(store, nil)

	if got := r.Search(context.Background(), nil, ModeConsulta); got != nil {
		t.Errorf("got %v, want nil for empty keywords", got)
	}
	if len(store.queries) != 0 {
		t.Error("store must not be queried without keywords")
	}
}

func TestRetrieverCapAndOrder(t *testing.T) {
	store := &fakeStore{snippets: []Snippet{
		{Title: "a", Relevance: 0.2},
		{Title: "b", Relevance: 0.9},
		{Title: "c", Relevance: 0.5},
		{Title: "d", Relevance: 0.9},
		{Title: "e", Relevance: 0.1},
		{Title: "f", Relevance: 0.7},
		{Title: "g", Relevance: 0.3},
	}}
	r := NewRetriever(store, nil)

	got := r.Search(context.Background(), []string{"suporte"}, ModeConsulta)

	if len(got) != 5 {
		t.Fatalf("got %d snippets, want 5", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Relevance > got[i-1].Relevance {
			t.Errorf("relevance order violated at %d: %v then %v", i, got[i-1].Relevance, got[i].Relevance)
		}
	}
	// Ties keep store order: b before d at 0.9
	if got[0].Title != "b" || got[1].Title != "d" {
		t.Errorf("tie order not stable: %s, %s", got[0].Title, got[1].Title)
	}
}

func TestRetrieverStoreErrorDegrades(t *testing.T) {
	store := &fakeStore{err: errors.New("disk gone")}
	r := NewRetriever(store, nil)

	if got := r.Search(context.Background(), []string{"suporte"}, ModeConsulta); got != nil {
		t.Errorf("got %v, want nil on store failure", got)
	}
}

// fakeSemantic implements SemanticSearcher.
type fakeSemantic struct {
	snippets []Snippet
	err      error
	queries  []string
}

func (f *fakeSemantic) Search(ctx context.Context, query string, limit int) ([]Snippet, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.snippets, nil
}

func TestRetrieverPrefersSemantic(t *testing.T) {
	store := &fakeStore{snippets: []Snippet{{Title: "keyword"}}}
	sem := &fakeSemantic{snippets: []Snippet{{Title: "semantic", Relevance: 1}}}
	r := NewRetriever(store, sem)

	got := r.Search(context.Background(), []string{"suporte", "winfut"}, ModeConsulta)

	if len(got) != 1 || got[0].Title != "semantic" {
		t.Errorf("got %v, want the semantic result", got)
	}
	if len(store.queries) != 0 {
		t.Error("keyword store must not be hit when semantic search succeeds")
	}
	if len(sem.queries) != 1 || sem.queries[0] != "suporte winfut" {
		t.Errorf("semantic query = %v, want joined keywords", sem.queries)
	}
}

func TestRetrieverSemanticFailureFallsBack(t *testing.T) {
	store := &fakeStore{snippets: []Snippet{{Title: "keyword"}}}
	sem := &fakeSemantic{err: errors.New("tei down")}
	r := NewRetriever(store, sem)

	got := r.Search(context.Background(), []string{"suporte"}, ModeConsulta)

	if len(got) != 1 || got[0].Title != "keyword" {
		t.Errorf("got %v, want the keyword fallback result", got)
	}
}

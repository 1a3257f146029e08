package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := testStore(t)

	st := s.Stats()
	if st.Snippets != 0 || st.Turns != 0 {
		t.Errorf("fresh store stats = %+v, want zeros", st)
	}
}

func TestAddAndQuerySnippets(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	seed := []Snippet{
		{Title: "Suporte e resistência", Content: "Zonas de preço.", Category: "analise_tecnica", Relevance: 0.8},
		{Title: "WINFUT", Content: "Contrato futuro de mini índice.", Tags: "b3,futuros", Relevance: 0.9},
		{Title: "Tesouro Direto", Content: "Renda fixa do governo.", Category: "renda_fixa", Relevance: 0.5},
	}
	for _, sn := range seed {
		if _, err := s.AddSnippet(ctx, sn); err != nil {
			t.Fatalf("AddSnippet: %v", err)
		}
	}

	// Substring match on title
	got, err := s.Query(ctx, []string{"suporte"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Suporte e resistência" {
		t.Errorf("title query got %v", got)
	}

	// Match on tags
	got, err = s.Query(ctx, []string{"futuros"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].Title != "WINFUT" {
		t.Errorf("tags query got %v", got)
	}

	// Multiple patterns OR together, relevance descending
	got, err = s.Query(ctx, []string{"índice", "renda"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d snippets, want 2", len(got))
	}
	if got[0].Title != "WINFUT" || got[1].Title != "Tesouro Direto" {
		t.Errorf("relevance order wrong: %s, %s", got[0].Title, got[1].Title)
	}
}

func TestQueryNoPatterns(t *testing.T) {
	s := testStore(t)

	got, err := s.Query(context.Background(), nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestSnippetsByIDsPreservesOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var ids []int64
	for _, title := range []string{"um", "dois", "três"} {
		id, err := s.AddSnippet(ctx, Snippet{Title: title, Content: "c"})
		if err != nil {
			t.Fatalf("AddSnippet: %v", err)
		}
		ids = append(ids, id)
	}

	got, err := s.SnippetsByIDs(ctx, []int64{ids[2], ids[0], 9999})
	if err != nil {
		t.Fatalf("SnippetsByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d snippets, want 2 (missing id skipped)", len(got))
	}
	if got[0].Title != "três" || got[1].Title != "um" {
		t.Errorf("input order not preserved: %s, %s", got[0].Title, got[1].Title)
	}
}

func TestAllSnippetRefs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.AddSnippet(ctx, Snippet{Title: "t", Content: "c"}); err != nil {
		t.Fatalf("AddSnippet: %v", err)
	}

	refs, err := s.AllSnippetRefs(ctx)
	if err != nil {
		t.Fatalf("AllSnippetRefs: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("got %d refs, want 1", len(refs))
	}
	if refs[0].ContentHash == "" {
		t.Error("content hash empty")
	}
}

func TestConversationTurns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, msg := range []string{"primeira", "segunda", "terceira", "quarta"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := s.AppendTurn(ctx, "room1", role, msg); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}
	// Another conversation must not leak in
	if err := s.AppendTurn(ctx, "room2", "user", "outra sala"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	turns, err := s.RecentTurns(ctx, "room1", 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	// Chronological order within the retained window
	want := []string{"segunda", "terceira", "quarta"}
	for i, turn := range turns {
		if turn.Content != want[i] {
			t.Errorf("turn[%d] = %q, want %q", i, turn.Content, want[i])
		}
	}
}

func TestRecentTurnsEmptyConversation(t *testing.T) {
	s := testStore(t)

	turns, err := s.RecentTurns(context.Background(), "nope", 5)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("got %d turns, want 0", len(turns))
	}
}

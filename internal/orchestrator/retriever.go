package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

const maxSnippets = 5

// SemanticSearcher is an optional retrieval upgrade (vector + keyword
// fusion). Implementations must degrade internally; an error here still
// falls back to the plain keyword query.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]Snippet, error)
}

// Retriever returns a bounded, ranked set of knowledge snippets for a
// message. Store failures degrade to an empty result — retrieval must
// never block response generation.
type Retriever struct {
	store    KnowledgeStore
	semantic SemanticSearcher // nil unless semantic retrieval is configured
}

// NewRetriever creates a retriever over the knowledge store. semantic
// may be nil.
func NewRetriever(store KnowledgeStore, semantic SemanticSearcher) *Retriever {
	return &Retriever{store: store, semantic: semantic}
}

// Search returns at most 5 snippets ordered by relevance descending,
// ties kept in store order. The mode is accepted for future
// category filtering and does not currently alter the query.
func (r *Retriever) Search(ctx context.Context, keywords []string, mode Mode) []Snippet {
	if len(keywords) == 0 {
		return nil
	}

	if r.semantic != nil {
		snippets, err := r.semantic.Search(ctx, joinKeywords(keywords), maxSnippets)
		if err == nil {
			return capSnippets(snippets)
		}
		slog.Warn("semantic retrieval failed, using keyword query", "error", err)
	}

	snippets, err := r.store.Query(ctx, keywords)
	if err != nil {
		slog.Warn("knowledge query failed, continuing without snippets",
			"keywords", len(keywords),
			"mode", string(mode),
			"error", err,
		)
		return nil
	}

	return capSnippets(snippets)
}

// capSnippets enforces the relevance ordering and the 5-item cap. The
// sort is stable so ties keep the store's original order.
func capSnippets(snippets []Snippet) []Snippet {
	sort.SliceStable(snippets, func(i, j int) bool {
		return snippets[i].Relevance > snippets[j].Relevance
	})
	if len(snippets) > maxSnippets {
		snippets = snippets[:maxSnippets]
	}
	return snippets
}

func joinKeywords(keywords []string) string {
	return strings.Join(keywords, " ")
}

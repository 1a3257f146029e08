package semantic

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ativo-labs/ativo/pkg/knowledge"
)

const (
	// rrfK is the smoothing constant for Reciprocal Rank Fusion
	// (Cormack et al., 2009).
	rrfK = 60
	// overFetchMultiplier fetches more results from each source for
	// better fusion.
	overFetchMultiplier = 3
)

// FusedResult holds a hybrid search result with combined RRF score.
type FusedResult struct {
	SnippetID int64
	Score     float64 // RRF score (higher = more relevant)
}

// Searcher runs hybrid snippet retrieval over the keyword store and
// the pgvector index.
type Searcher struct {
	kb    *knowledge.Store
	store *Store
	tei   *TEIClient
}

// NewSearcher creates a hybrid searcher.
func NewSearcher(kb *knowledge.Store, store *Store, tei *TEIClient) *Searcher {
	return &Searcher{kb: kb, store: store, tei: tei}
}

// Search combines vector similarity with the keyword query using
// Reciprocal Rank Fusion. Degrades gracefully: if embedding or vector
// search fails, keyword-only results are returned.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]knowledge.Snippet, error) {
	keywords := strings.Fields(query)

	queryEmbedding, err := s.tei.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("query embed failed, falling back to keyword-only", "error", err)
		return s.keywordOnly(ctx, keywords, limit)
	}

	fetchLimit := limit * overFetchMultiplier

	var vectorResults []SearchResult
	var keywordResults []knowledge.Snippet
	var vectorErr, keywordErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		vectorResults, vectorErr = s.store.Search(ctx, queryEmbedding, fetchLimit)
	}()

	go func() {
		defer wg.Done()
		keywordResults, keywordErr = s.kb.Query(ctx, keywords)
	}()

	wg.Wait()

	if vectorErr != nil && keywordErr != nil {
		return nil, vectorErr
	}

	if vectorErr != nil {
		slog.Warn("vector search failed, using keyword-only", "error", vectorErr)
		if len(keywordResults) > limit {
			keywordResults = keywordResults[:limit]
		}
		return keywordResults, nil
	}

	if keywordErr != nil {
		slog.Warn("keyword search failed, using vector-only", "error", keywordErr)
		ids := make([]int64, len(vectorResults))
		for i, r := range vectorResults {
			ids[i] = r.SnippetID
		}
		snippets, err := s.kb.SnippetsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(snippets) > limit {
			snippets = snippets[:limit]
		}
		return snippets, nil
	}

	vectorRanked := make([]FusedResult, len(vectorResults))
	for i, r := range vectorResults {
		vectorRanked[i] = FusedResult{SnippetID: r.SnippetID}
	}

	keywordRanked := make([]FusedResult, len(keywordResults))
	for i, sn := range keywordResults {
		keywordRanked[i] = FusedResult{SnippetID: sn.ID}
	}

	fused := reciprocalRankFusion([][]FusedResult{vectorRanked, keywordRanked}, rrfK)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	ids := make([]int64, len(fused))
	for i, r := range fused {
		ids[i] = r.SnippetID
	}
	return s.kb.SnippetsByIDs(ctx, ids)
}

func (s *Searcher) keywordOnly(ctx context.Context, keywords []string, limit int) ([]knowledge.Snippet, error) {
	snippets, err := s.kb.Query(ctx, keywords)
	if err != nil {
		return nil, err
	}
	if len(snippets) > limit {
		snippets = snippets[:limit]
	}
	return snippets, nil
}

// reciprocalRankFusion merges multiple ranked lists using RRF.
// Formula: RRF_score(d) = Σ 1/(k + rank_i(d))
func reciprocalRankFusion(lists [][]FusedResult, k int) []FusedResult {
	scores := make(map[int64]float64)

	for _, list := range lists {
		for rank, result := range list {
			// rank is 0-indexed, RRF uses 1-indexed
			scores[result.SnippetID] += 1.0 / (float64(k) + float64(rank+1))
		}
	}

	fused := make([]FusedResult, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, FusedResult{SnippetID: id, Score: score})
	}

	sort.Slice(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})

	return fused
}

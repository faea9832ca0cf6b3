package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/coreerr"
)

// vectorWeight and bm25Weight are the hybrid fusion weights: vector
// scores count fully, lexical scores are discounted.
const (
	vectorWeight = 1.0
	bm25Weight   = 0.8
)

// dedupKeyLen is how much of a chunk's text is used to detect the same
// passage surfaced by both the vector and lexical legs of a hybrid
// search.
const dedupKeyLen = 100

func dedupKey(text string) string {
	if len(text) <= dedupKeyLen {
		return text
	}
	return text[:dedupKeyLen]
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// VectorSearch ranks chunks by cosine similarity between queryVec and
// each chunk's embedding. Chunks without an embedding are skipped
// rather than scored as zero-similarity noise. maxPage, when >= 0,
// excludes chunks beyond the reader's current position (spoiler
// guard); a negative maxPage means no limit.
func (s *Store) VectorSearch(bookHash string, queryVec []float32, k, maxPage int) ([]ScoredChunk, error) {
	chunks, err := s.GetChunks(bookHash)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if maxPage >= 0 && c.PageNumber > maxPage {
			continue
		}
		scored = append(scored, ScoredChunk{
			Chunk:        c,
			Score:        cosineSimilarity(queryVec, c.Embedding),
			SearchMethod: "vector",
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// BM25Search ranks chunks by lexical match against the book's bleve
// index. A blank query returns coreerr.ErrInvalidQuery with no results
// (HybridSearch treats that as "no matches"); a query bleve fails to
// execute yields zero results and a nil error rather than surfacing
// the bleve error to callers.
func (s *Store) BM25Search(bookHash, queryText string, k, maxPage int) ([]ScoredChunk, error) {
	h, err := s.handle(bookHash)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	idx, openErr := h.openBleveLocked()
	h.mu.Unlock()
	if openErr != nil {
		// No BM25 index built yet for this book: empty, not an error.
		return nil, nil
	}

	if strings.TrimSpace(queryText) == "" {
		return nil, coreerr.ErrInvalidQuery
	}

	q := query.NewMatchQuery(queryText)
	req := bleve.NewSearchRequest(q)
	searchK := k
	if maxPage >= 0 {
		// Over-fetch so the page filter below still has enough
		// candidates to return up to k results.
		searchK = k * 4
	}
	if searchK <= 0 {
		searchK = 10
	}
	req.Size = searchK

	result, err := idx.Search(req)
	if err != nil {
		return nil, nil
	}

	chunksByID, err := s.chunksByID(bookHash)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredChunk, 0, len(result.Hits))
	for _, hit := range result.Hits {
		c, ok := chunksByID[hit.ID]
		if !ok {
			continue
		}
		if maxPage >= 0 && c.PageNumber > maxPage {
			continue
		}
		out = append(out, ScoredChunk{Chunk: c, Score: hit.Score, SearchMethod: "bm25"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *Store) chunksByID(bookHash string) (map[string]chunk.Chunk, error) {
	h, err := s.handle(bookHash)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	cache, err := h.loadChunksLocked()
	if err != nil {
		return nil, coreerr.NewStoreError("get_chunks", err)
	}
	out := make(map[string]chunk.Chunk, len(cache))
	for id, c := range cache {
		out[id] = c
	}
	return out, nil
}

// HybridSearch runs vector and BM25 search concurrently and fuses the
// two ranked lists: each list is max-normalized against its own top
// score, then weighted (vector x1.0, bm25 x0.8), then merged by
// dedupKey with the higher of the two scores winning on collision.
func (s *Store) HybridSearch(ctx context.Context, bookHash string, queryVec []float32, queryText string, k, maxPage int) ([]ScoredChunk, error) {
	overFetch := k * 3
	if overFetch <= 0 {
		overFetch = 30
	}

	var (
		vecResults  []ScoredChunk
		bm25Results []ScoredChunk
		vecErr      error
		bm25Err     error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vecResults, vecErr = s.VectorSearch(bookHash, queryVec, overFetch, maxPage)
	}()
	go func() {
		defer wg.Done()
		bm25Results, bm25Err = s.BM25Search(bookHash, queryText, overFetch, maxPage)
		if bm25Err == coreerr.ErrInvalidQuery {
			bm25Results, bm25Err = nil, nil
		}
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return nil, coreerr.ErrIndexingAborted
	}
	if vecErr != nil {
		return nil, vecErr
	}
	if bm25Err != nil {
		return nil, bm25Err
	}

	normalize(vecResults, vectorWeight)
	normalize(bm25Results, bm25Weight)

	merged := make(map[string]ScoredChunk)
	order := make([]string, 0, len(vecResults)+len(bm25Results))
	for _, c := range vecResults {
		key := dedupKey(c.Text)
		merged[key] = c
		order = append(order, key)
	}
	for _, c := range bm25Results {
		key := dedupKey(c.Text)
		if existing, ok := merged[key]; ok {
			if c.Score > existing.Score {
				existing.Score = c.Score
			}
			existing.SearchMethod = "hybrid"
			merged[key] = existing
			continue
		}
		merged[key] = c
		order = append(order, key)
	}

	seen := make(map[string]bool, len(order))
	out := make([]ScoredChunk, 0, len(merged))
	for _, key := range order {
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, merged[key])
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// normalize max-normalizes scores in place against the list's own top
// score, then applies weight. An empty or all-zero list is left as is.
func normalize(scored []ScoredChunk, weight float64) {
	if len(scored) == 0 {
		return
	}
	max := scored[0].Score
	for _, c := range scored {
		if c.Score > max {
			max = c.Score
		}
	}
	if max <= 0 {
		return
	}
	for i := range scored {
		scored[i].Score = (scored[i].Score / max) * weight
	}
}

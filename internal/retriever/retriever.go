// Package retriever is the public search surface chat orchestration
// consumes: isBookIndexed, hybridSearch, and page/chapter context
// lookups. It embeds queries itself and delegates the ranking work
// (vector scoring, BM25 query, weighted max-normalization fusion) to
// internal/store.
package retriever

import (
	"context"

	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/embedding"
	"github.com/readest-ai/rag-core/internal/store"
)

const defaultTopK = 10

// Retriever wraps a Store and an embedding.Provider used to embed
// incoming queries.
type Retriever struct {
	Store    *store.Store
	Embedder embedding.Provider
}

func New(st *store.Store, embedder embedding.Provider) *Retriever {
	return &Retriever{Store: st, Embedder: embedder}
}

// IsBookIndexed consults the Store's meta record.
func (r *Retriever) IsBookIndexed(bookHash string) bool {
	return r.Store.IsBookIndexed(bookHash)
}

// HybridSearch embeds the query (retry+timeout wrapped, EMBEDDING_SINGLE)
// and delegates to Store.HybridSearch. If query embedding fails for any
// non-cancellation reason, the search proceeds with a nil embedding —
// the fused search degrades to BM25-only rather than failing outright.
func (r *Retriever) HybridSearch(ctx context.Context, bookHash, query string, topK, maxPage int) ([]store.ScoredChunk, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	var queryVec []float32
	if r.Embedder != nil {
		err := embedding.WithRetryAndTimeout(ctx, embedding.TimeoutEmbeddingSingle, embedding.EmbeddingRetryConfig, func(attemptCtx context.Context) error {
			v, err := r.Embedder.EmbedOne(attemptCtx, query)
			if err != nil {
				return err
			}
			queryVec = v
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			queryVec = nil
		}
	}

	return r.Store.HybridSearch(ctx, bookHash, queryVec, query, topK, maxPage)
}

// GetPageContextChunks returns every chunk on the given page.
func (r *Retriever) GetPageContextChunks(bookHash string, pageNumber int) ([]store.ScoredChunk, error) {
	chunks, err := r.Store.GetChunksForPage(bookHash, pageNumber)
	if err != nil {
		return nil, err
	}
	return toContextScoredChunks(chunks), nil
}

// GetChapterContextChunks finds the section containing the first
// chunk on pageNumber, then returns every chunk in that section. If
// the page has no chunks (a purely illustrative page, say), it
// returns an empty slice rather than an error.
func (r *Retriever) GetChapterContextChunks(bookHash string, pageNumber int) ([]store.ScoredChunk, error) {
	pageChunks, err := r.Store.GetChunksForPage(bookHash, pageNumber)
	if err != nil {
		return nil, err
	}
	if len(pageChunks) == 0 {
		return nil, nil
	}

	// Page chunks come back in no particular order; the first chunk on
	// the page belongs to the lowest section index present on it.
	sectionIndex := pageChunks[0].SectionIndex
	for _, c := range pageChunks[1:] {
		if c.SectionIndex < sectionIndex {
			sectionIndex = c.SectionIndex
		}
	}

	sectionChunks, err := r.Store.GetChunksForSection(bookHash, sectionIndex)
	if err != nil {
		return nil, err
	}
	return toContextScoredChunks(sectionChunks), nil
}

// toContextScoredChunks wraps plain chunks as ScoredChunk with
// SearchMethod "context". Score 2.0 is above any normalized
// vector/bm25/hybrid score (max 1.0), so context chunks always
// outrank retrieved ones rather than merely tying the top result.
func toContextScoredChunks(chunks []chunk.Chunk) []store.ScoredChunk {
	out := make([]store.ScoredChunk, len(chunks))
	for i, c := range chunks {
		out[i] = store.ScoredChunk{Chunk: c, Score: 2.0, SearchMethod: "context"}
	}
	return out
}

// Package indexer drives an end-to-end index build for one book:
// chunk, embed, persist — with progress reporting, cooperative
// cancellation, retry-with-timeout, and an idempotency guard. Batches
// of embedBatchSize chunks are embedded one after another, each call
// retried with exponential backoff via embedding.WithRetryAndTimeout.
package indexer

import (
	"context"
	"log"

	"github.com/readest-ai/rag-core/internal/bookdoc"
	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/coreerr"
	"github.com/readest-ai/rag-core/internal/embedding"
	"github.com/readest-ai/rag-core/internal/ingeststate"
	"github.com/readest-ai/rag-core/internal/store"
)

// Phase names reported via ProgressFunc.
const (
	PhaseChunking  = "chunking"
	PhaseEmbedding = "embedding"
	PhaseIndexing  = "indexing"
)

// ProgressFunc is called with (current, total, phase) at each
// observation point within a phase.
type ProgressFunc func(current, total int, phase string)

// embedBatchSize is the number of chunk texts passed to one EmbedMany
// call (one retry/timeout unit), whatever the provider. Providers may
// split further: OpenAICompatProvider sends sub-batches of 5, while the
// native OpenAI provider sends the whole slice in one request.
const embedBatchSize = 200

// Indexer orchestrates the Chunker, an embedding.Provider, and the
// Store into one indexBook operation.
type Indexer struct {
	Chunker  *chunk.Chunker
	Embedder embedding.Provider
	Store    *store.Store
	States   *ingeststate.Registry
}

func New(chunker *chunk.Chunker, embedder embedding.Provider, st *store.Store, states *ingeststate.Registry) *Indexer {
	return &Indexer{Chunker: chunker, Embedder: embedder, Store: st, States: states}
}

// IndexBook runs the chunk → embed → persist pipeline for one book.
// If the book is already indexed, it returns immediately (idempotent).
// If another IndexBook is already in flight for bookHash, it returns
// immediately without error — callers either serialize or accept this
// no-op.
func (ix *Indexer) IndexBook(ctx context.Context, bookHash string, doc bookdoc.Document, settings chunk.Settings, onProgress ProgressFunc) error {
	if ix.Store.IsBookIndexed(bookHash) {
		return nil
	}
	if !ix.States.Begin(bookHash) {
		return nil
	}

	err := ix.runPipeline(ctx, bookHash, doc, settings, onProgress)
	if err != nil {
		ix.States.Fail(bookHash, err)
		return err
	}
	ix.States.Complete(bookHash)
	return nil
}

func (ix *Indexer) runPipeline(ctx context.Context, bookHash string, doc bookdoc.Document, settings chunk.Settings, onProgress ProgressFunc) error {
	if err := checkAborted(ctx); err != nil {
		return err
	}

	// Phase 1: chunking. Section count is known up front; the Chunker
	// itself has no suspension points, so this phase reports once at
	// start and once at completion.
	report(onProgress, 0, len(doc.Sections), PhaseChunking)
	chunker := ix.Chunker
	if chunker == nil {
		chunker = chunk.New(settings)
	}
	chunks := chunker.ChunkBook(bookHash, doc)
	report(onProgress, len(doc.Sections), len(doc.Sections), PhaseChunking)

	if len(chunks) == 0 {
		// Nothing to persist: no chunks means no indexed book.
		return nil
	}

	if err := checkAborted(ctx); err != nil {
		return err
	}

	// Phase 2: embedding. Skipped (total=0) when there's nothing to
	// embed, which can't happen here since len(chunks) > 0, but the
	// no-embedder-configured case reports the same zero total as a
	// skipped phase.
	embeddingFailed := false
	if ix.Embedder == nil {
		report(onProgress, 0, 0, PhaseEmbedding)
	} else {
		report(onProgress, 0, len(chunks), PhaseEmbedding)
		if err := ix.embedChunks(ctx, chunks, onProgress); err != nil {
			if coreerr.IsAborted(err) {
				return err
			}
			// Embedding-failure tolerance: proceed to persist chunks
			// and BM25 without vectors so lexical search stays
			// available.
			log.Printf("indexer: embedding failed for book %s, degrading to lexical-only: %v", bookHash, err)
			embeddingFailed = true
		}
	}

	if err := checkAborted(ctx); err != nil {
		return err
	}

	// Phase 3: indexing (chunks, then BM25, then meta).
	report(onProgress, 0, 2, PhaseIndexing)
	if err := ix.Store.SaveChunks(bookHash, chunks); err != nil {
		return err
	}
	report(onProgress, 1, 2, PhaseIndexing)

	if err := checkAborted(ctx); err != nil {
		return err
	}

	if err := ix.Store.BuildBM25(bookHash, chunks); err != nil {
		return err
	}
	report(onProgress, 2, 2, PhaseIndexing)

	meta := store.BookIndexMeta{
		BookHash:      bookHash,
		TotalSections: len(doc.Sections),
		TotalChunks:   len(chunks),
		PageSizeChars: chunker.Settings.PageSizeChars,
	}
	if embeddingFailed {
		meta.EmbeddingModel = "" // lexical-only: no embedding model to record
	}
	// Meta is written last and only once chunks/BM25 succeeded: the
	// book is "indexed" only after this call returns.
	return ix.Store.SaveMeta(bookHash, meta)
}

// embedChunks embeds every chunk's text in fixed-size batches, writing
// the resulting vector back onto each chunk in place. Each batch call
// is wrapped in embedding.WithRetryAndTimeout.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []chunk.Chunk, onProgress ProgressFunc) error {
	total := len(chunks)
	done := 0

	for start := 0; start < total; start += embedBatchSize {
		end := start + embedBatchSize
		if end > total {
			end = total
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		var vecs [][]float32
		err := embedding.WithRetryAndTimeout(ctx, embedding.TimeoutEmbeddingBatch, embedding.EmbeddingRetryConfig, func(attemptCtx context.Context) error {
			v, err := ix.Embedder.EmbedMany(attemptCtx, texts)
			if err != nil {
				return err
			}
			vecs = v
			return nil
		})
		if err != nil {
			return err
		}

		for i := range batch {
			if i < len(vecs) {
				chunks[start+i].Embedding = vecs[i]
			}
		}

		done += len(batch)
		report(onProgress, done, total, PhaseEmbedding)
	}
	return nil
}

func checkAborted(ctx context.Context) error {
	if ctx.Err() != nil {
		return coreerr.ErrIndexingAborted
	}
	return nil
}

func report(fn ProgressFunc, current, total int, phase string) {
	if fn != nil {
		fn(current, total, phase)
	}
}

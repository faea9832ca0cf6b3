package orchestration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/retriever"
	"github.com/readest-ai/rag-core/internal/store"
)

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeProvider struct {
	lastSources []store.ScoredChunk
}

func (p *fakeProvider) Answer(ctx context.Context, snapshot RequestSnapshot, sources []store.ScoredChunk) (string, error) {
	p.lastSources = sources
	return "answer", nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store, *fakeProvider) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "data"), 4)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	r := retriever.New(st, &fakeEmbedder{vec: []float32{1, 0}})
	p := &fakeProvider{}
	return New(r, p), st, p
}

func TestHandleTurn_UnindexedBookYieldsNoSources(t *testing.T) {
	o, _, p := newTestOrchestrator(t)
	_, err := o.HandleTurn(context.Background(), RequestSnapshot{BookHash: "book1", UserMessage: "hello"})
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if len(p.lastSources) != 0 {
		t.Fatalf("expected no sources for unindexed book, got %d", len(p.lastSources))
	}
}

func TestHandleTurn_MergesPageChunksFirst(t *testing.T) {
	o, st, p := newTestOrchestrator(t)
	chunks := []chunk.Chunk{
		{ID: "page-chunk", PageNumber: 1, Text: "on the current page", Embedding: []float32{1, 0}},
		{ID: "search-chunk", PageNumber: 5, Text: "elsewhere but relevant", Embedding: []float32{1, 0}},
	}
	if err := st.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := st.SaveMeta("book1", store.BookIndexMeta{BookHash: "book1", TotalChunks: 2}); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	if err := st.BuildBM25("book1", chunks); err != nil {
		t.Fatalf("BuildBM25: %v", err)
	}

	snapshot := RequestSnapshot{BookHash: "book1", CurrentPage: 1, TopK: 10, UserMessage: "relevant"}
	if _, err := o.HandleTurn(context.Background(), snapshot); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	if len(p.lastSources) == 0 {
		t.Fatal("expected at least one source")
	}
	if p.lastSources[0].ID != "page-chunk" {
		t.Errorf("expected page chunk to come first, got %s", p.lastSources[0].ID)
	}

	bookHash, sources := o.LastSources()
	if bookHash != "book1" {
		t.Errorf("expected last sources bookHash book1, got %s", bookHash)
	}
	if len(sources) != len(p.lastSources) {
		t.Errorf("expected LastSources to mirror what the provider received")
	}
}

func TestResetLastSources_ClearsCell(t *testing.T) {
	o, st, _ := newTestOrchestrator(t)
	chunks := []chunk.Chunk{{ID: "a", PageNumber: 1, Text: "alpha", Embedding: []float32{1, 0}}}
	if err := st.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := st.SaveMeta("book1", store.BookIndexMeta{BookHash: "book1", TotalChunks: 1}); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	if err := st.BuildBM25("book1", chunks); err != nil {
		t.Fatalf("BuildBM25: %v", err)
	}

	if _, err := o.HandleTurn(context.Background(), RequestSnapshot{BookHash: "book1", CurrentPage: 1, UserMessage: "alpha"}); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	o.ResetLastSources()
	bookHash, sources := o.LastSources()
	if bookHash != "" || len(sources) != 0 {
		t.Fatalf("expected cleared last sources, got bookHash=%q sources=%d", bookHash, len(sources))
	}
}

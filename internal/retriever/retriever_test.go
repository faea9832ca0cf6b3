package retriever

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/store"
)

type fakeEmbedder struct {
	vec     []float32
	failAll bool
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if f.failAll {
		return nil, context.DeadlineExceeded
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func newTestRetriever(t *testing.T, embedder *fakeEmbedder) (*Retriever, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "data"), 4)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return New(st, embedder), st
}

func TestIsBookIndexed_DelegatesToStore(t *testing.T) {
	r, st := newTestRetriever(t, &fakeEmbedder{vec: []float32{1}})
	if r.IsBookIndexed("book1") {
		t.Fatal("expected unindexed book to report false")
	}
	if err := st.SaveMeta("book1", store.BookIndexMeta{BookHash: "book1", TotalChunks: 1}); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	if !r.IsBookIndexed("book1") {
		t.Fatal("expected indexed book to report true")
	}
}

func TestGetPageContextChunks(t *testing.T) {
	r, st := newTestRetriever(t, &fakeEmbedder{vec: []float32{1}})
	chunks := []chunk.Chunk{
		{ID: "a", PageNumber: 1, Text: "on page 1"},
		{ID: "b", PageNumber: 2, Text: "on page 2"},
	}
	if err := st.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	got, err := r.GetPageContextChunks("book1", 1)
	if err != nil {
		t.Fatalf("GetPageContextChunks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only chunk a, got %+v", got)
	}
	if got[0].SearchMethod != "context" {
		t.Errorf("expected SearchMethod context, got %q", got[0].SearchMethod)
	}
	if got[0].Score != 2.0 {
		t.Errorf("expected Score 2.0 so context chunks outrank any normalized hybrid score, got %v", got[0].Score)
	}
}

func TestGetChapterContextChunks_ReturnsWholeSection(t *testing.T) {
	r, st := newTestRetriever(t, &fakeEmbedder{vec: []float32{1}})
	chunks := []chunk.Chunk{
		{ID: "a", SectionIndex: 0, PageNumber: 1, Text: "first"},
		{ID: "b", SectionIndex: 0, PageNumber: 2, Text: "second"},
		{ID: "c", SectionIndex: 1, PageNumber: 3, Text: "other section"},
	}
	if err := st.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	got, err := r.GetChapterContextChunks("book1", 1)
	if err != nil {
		t.Fatalf("GetChapterContextChunks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks from section 0, got %d", len(got))
	}
}

func TestGetChapterContextChunks_EmptyPageYieldsEmpty(t *testing.T) {
	r, st := newTestRetriever(t, &fakeEmbedder{vec: []float32{1}})
	if err := st.SaveChunks("book1", []chunk.Chunk{{ID: "a", PageNumber: 1}}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	got, err := r.GetChapterContextChunks("book1", 99)
	if err != nil {
		t.Fatalf("GetChapterContextChunks: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no chunks for an illustrative page, got %d", len(got))
	}
}

func TestHybridSearch_DegradesToBM25OnlyWhenEmbeddingFails(t *testing.T) {
	r, st := newTestRetriever(t, &fakeEmbedder{failAll: true})
	chunks := []chunk.Chunk{{ID: "a", Text: "the quick brown fox"}}
	if err := st.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := st.BuildBM25("book1", chunks); err != nil {
		t.Fatalf("BuildBM25: %v", err)
	}

	results, err := r.HybridSearch(context.Background(), "book1", "quick fox", 10, -1)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected BM25-only results despite embedding failure")
	}
}

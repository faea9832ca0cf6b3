package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/readest-ai/rag-core/internal/chunk"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data"), 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestVectorSearch_SkipsChunksWithoutEmbedding(t *testing.T) {
	s := newTestStore(t)
	chunks := []chunk.Chunk{
		{ID: "a", Text: "alpha", Embedding: []float32{1, 0}},
		{ID: "b", Text: "beta"},
	}
	if err := s.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	results, err := s.VectorSearch("book1", []float32{1, 0}, 10, -1)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected only chunk a, got %+v", results)
	}
}

func TestVectorSearch_RespectsMaxPage(t *testing.T) {
	s := newTestStore(t)
	chunks := []chunk.Chunk{
		{ID: "a", Text: "alpha", PageNumber: 1, Embedding: []float32{1, 0}},
		{ID: "b", Text: "beta", PageNumber: 5, Embedding: []float32{1, 0}},
	}
	if err := s.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	results, err := s.VectorSearch("book1", []float32{1, 0}, 10, 2)
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected only chunk a within maxPage, got %+v", results)
	}
}

func TestCosineSimilarity_MismatchedLengthIsZero(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Errorf("expected 0 for mismatched lengths, got %v", got)
	}
	if got := cosineSimilarity(nil, []float32{1}); got != 0 {
		t.Errorf("expected 0 for nil vector, got %v", got)
	}
}

func TestHybridSearch_DedupsByTextPrefix(t *testing.T) {
	s := newTestStore(t)
	chunks := []chunk.Chunk{
		{ID: "a", Text: "the quick brown fox", PageNumber: 1, Embedding: []float32{1, 0}},
	}
	if err := s.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := s.BuildBM25("book1", chunks); err != nil {
		t.Fatalf("BuildBM25: %v", err)
	}

	results, err := s.HybridSearch(context.Background(), "book1", []float32{1, 0}, "quick fox", 10, -1)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected a single deduped result, got %d: %+v", len(results), results)
	}
	if results[0].SearchMethod != "hybrid" {
		t.Errorf("expected SearchMethod hybrid, got %q", results[0].SearchMethod)
	}
}

func TestHybridSearch_NonCollidingResultsKeepOriginMethod(t *testing.T) {
	s := newTestStore(t)
	chunks := []chunk.Chunk{
		{ID: "a", Text: "the quick brown fox", PageNumber: 1, Embedding: []float32{1, 0}},
		{ID: "b", Text: "a lazy dog sleeps all day", PageNumber: 2},
	}
	if err := s.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := s.BuildBM25("book1", chunks); err != nil {
		t.Fatalf("BuildBM25: %v", err)
	}

	// Only chunk "a" has an embedding, so vector search finds "a" alone;
	// query text matches "lazy dog" terms that only appear in chunk "b",
	// so BM25 search finds "b" alone. Neither result
	// collides, so each should retain the label of the search that
	// found it instead of being stamped "hybrid".
	results, err := s.HybridSearch(context.Background(), "book1", []float32{1, 0}, "lazy dog", 10, -1)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected two non-colliding results, got %d: %+v", len(results), results)
	}

	methods := make(map[string]string, len(results))
	for _, r := range results {
		methods[r.ID] = r.SearchMethod
	}
	if methods["a"] != "vector" {
		t.Errorf("expected chunk a to keep SearchMethod vector, got %q", methods["a"])
	}
	if methods["b"] != "bm25" {
		t.Errorf("expected chunk b to keep SearchMethod bm25, got %q", methods["b"])
	}
}

func TestBM25Search_EmptyQueryIsInvalid(t *testing.T) {
	s := newTestStore(t)
	chunks := []chunk.Chunk{{ID: "a", Text: "alpha"}}
	if err := s.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := s.BuildBM25("book1", chunks); err != nil {
		t.Fatalf("BuildBM25: %v", err)
	}

	if _, err := s.BM25Search("book1", "   ", 10, -1); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestBM25Search_NoIndexYieldsEmptyNotError(t *testing.T) {
	s := newTestStore(t)
	results, err := s.BM25Search("unindexed-book", "anything", 10, -1)
	if err != nil {
		t.Fatalf("expected no error for unindexed book, got %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

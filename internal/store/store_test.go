package store

import (
	"testing"
	"time"

	"github.com/readest-ai/rag-core/internal/chunk"
)

func TestSaveAndGetChunks(t *testing.T) {
	s := newTestStore(t)
	chunks := []chunk.Chunk{
		{ID: "a", SectionIndex: 0, PageNumber: 1, Text: "alpha"},
		{ID: "b", SectionIndex: 1, PageNumber: 2, Text: "beta"},
	}
	if err := s.SaveChunks("book1", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	got, err := s.GetChunks("book1")
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}

	byPage, err := s.GetChunksForPage("book1", 1)
	if err != nil {
		t.Fatalf("GetChunksForPage: %v", err)
	}
	if len(byPage) != 1 || byPage[0].ID != "a" {
		t.Fatalf("expected only chunk a on page 1, got %+v", byPage)
	}

	bySection, err := s.GetChunksForSection("book1", 1)
	if err != nil {
		t.Fatalf("GetChunksForSection: %v", err)
	}
	if len(bySection) != 1 || bySection[0].ID != "b" {
		t.Fatalf("expected only chunk b in section 1, got %+v", bySection)
	}
}

func TestSaveChunks_ReplacesPriorSetWholesale(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveChunks("book1", []chunk.Chunk{{ID: "old", Text: "stale"}}); err != nil {
		t.Fatalf("SaveChunks (first): %v", err)
	}
	if err := s.SaveChunks("book1", []chunk.Chunk{{ID: "new", Text: "fresh"}}); err != nil {
		t.Fatalf("SaveChunks (second): %v", err)
	}

	got, err := s.GetChunks("book1")
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("expected only the new chunk set to survive, got %+v", got)
	}
}

func TestMeta_IsBookIndexed(t *testing.T) {
	s := newTestStore(t)
	if s.IsBookIndexed("book1") {
		t.Fatal("expected unindexed book to report false")
	}

	meta := BookIndexMeta{BookHash: "book1", TotalChunks: 3, LastUpdated: time.Now()}
	if err := s.SaveMeta("book1", meta); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	if !s.IsBookIndexed("book1") {
		t.Fatal("expected indexed book to report true")
	}

	got, err := s.GetMeta("book1")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got == nil || got.TotalChunks != 3 {
		t.Fatalf("expected meta with TotalChunks=3, got %+v", got)
	}
}

func TestClearBookIndex_LeavesConversationsIntact(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if err := s.SaveChunks("book1", []chunk.Chunk{{ID: "a", Text: "alpha"}}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	if err := s.SaveMeta("book1", BookIndexMeta{BookHash: "book1", TotalChunks: 1}); err != nil {
		t.Fatalf("SaveMeta: %v", err)
	}
	if err := s.SaveConversation(Conversation{ID: "c1", BookHash: "book1", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	if err := s.ClearBookIndex("book1"); err != nil {
		t.Fatalf("ClearBookIndex: %v", err)
	}

	chunks, err := s.GetChunks("book1")
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected chunks cleared, got %d", len(chunks))
	}
	if s.IsBookIndexed("book1") {
		t.Fatal("expected book to report unindexed after clear")
	}

	convs, err := s.GetConversations("book1")
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected conversation to survive index clear, got %d", len(convs))
	}
}

func TestHandle_EvictsLeastRecentlyTouched(t *testing.T) {
	s := newTestStore(t)
	s.capacity = 2

	for _, hash := range []string{"book1", "book2"} {
		if _, err := s.handle(hash); err != nil {
			t.Fatalf("handle(%s): %v", hash, err)
		}
	}
	// Touch book1 again so book2 becomes the least recently used.
	if _, err := s.handle("book1"); err != nil {
		t.Fatalf("re-handle book1: %v", err)
	}

	if _, err := s.handle("book3"); err != nil {
		t.Fatalf("handle book3: %v", err)
	}

	s.mu.Lock()
	_, book2Open := s.books["book2"]
	_, book1Open := s.books["book1"]
	_, book3Open := s.books["book3"]
	s.mu.Unlock()

	if book2Open {
		t.Error("expected book2 to be evicted as least recently used")
	}
	if !book1Open || !book3Open {
		t.Error("expected book1 and book3 to remain open")
	}
}

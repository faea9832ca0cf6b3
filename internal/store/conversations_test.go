package store

import (
	"testing"
	"time"
)

func TestConversations_SaveAndList(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	c1 := Conversation{ID: "c1", BookHash: "book1", Title: "First", CreatedAt: now, UpdatedAt: now}
	c2 := Conversation{ID: "c2", BookHash: "book1", Title: "Second", CreatedAt: now, UpdatedAt: now.Add(time.Minute)}

	if err := s.SaveConversation(c1); err != nil {
		t.Fatalf("SaveConversation c1: %v", err)
	}
	if err := s.SaveConversation(c2); err != nil {
		t.Fatalf("SaveConversation c2: %v", err)
	}

	convs, err := s.GetConversations("book1")
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
	if convs[0].ID != "c2" {
		t.Errorf("expected most recently updated conversation first, got %s", convs[0].ID)
	}
}

func TestUpdateConversationTitle(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if err := s.SaveConversation(Conversation{ID: "c1", BookHash: "book1", Title: "Old", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	if err := s.UpdateConversationTitle("book1", "c1", "New"); err != nil {
		t.Fatalf("UpdateConversationTitle: %v", err)
	}

	convs, err := s.GetConversations("book1")
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(convs) != 1 || convs[0].Title != "New" {
		t.Fatalf("expected updated title, got %+v", convs)
	}
}

func TestMessages_SavedInChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if err := s.SaveConversation(Conversation{ID: "c1", BookHash: "book1", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}

	msgs := []Message{
		{ID: "m2", ConversationID: "c1", Role: "assistant", Content: "second", CreatedAt: now.Add(time.Second)},
		{ID: "m1", ConversationID: "c1", Role: "user", Content: "first", CreatedAt: now},
	}
	for _, m := range msgs {
		if err := s.SaveMessage("book1", m); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	got, err := s.GetMessages("book1", "c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("expected chronological order m1,m2, got %s,%s", got[0].ID, got[1].ID)
	}
}

func TestDeleteConversation_CascadesMessages(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	if err := s.SaveConversation(Conversation{ID: "c1", BookHash: "book1", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("SaveConversation: %v", err)
	}
	if err := s.SaveMessage("book1", Message{ID: "m1", ConversationID: "c1", Role: "user", Content: "hi", CreatedAt: now}); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	if err := s.DeleteConversation("book1", "c1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}

	convs, err := s.GetConversations("book1")
	if err != nil {
		t.Fatalf("GetConversations: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("expected 0 conversations after delete, got %d", len(convs))
	}
	msgs, err := s.GetMessages("book1", "c1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected 0 messages after cascade delete, got %d", len(msgs))
	}
}

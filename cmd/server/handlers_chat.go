package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/readest-ai/rag-core/internal/idgen"
	"github.com/readest-ai/rag-core/internal/orchestration"
	"github.com/readest-ai/rag-core/internal/store"
)

// stubChatProvider stands in for the external collaborator that owns
// prompt construction and token streaming. It answers deterministically
// from whatever sources orchestration.HandleTurn gathered, so the
// wiring end-to-end is exercisable without a configured LLM.
type stubChatProvider struct{}

func (stubChatProvider) Answer(ctx context.Context, snapshot orchestration.RequestSnapshot, sources []store.ScoredChunk) (string, error) {
	if len(sources) == 0 {
		return "No indexed passages matched this question yet.", nil
	}
	return sources[0].Text, nil
}

type chatRequest struct {
	BookHash       string `json:"book_hash"`
	BookTitle      string `json:"book_title,omitempty"`
	CurrentPage    int    `json:"current_page"`
	TopK           int    `json:"top_k,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// handleChat runs one chat turn: gather sources via orchestration,
// persist the exchange if a conversation is named, and return the
// answer plus the sources it was grounded on.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookHash == "" || req.Message == "" {
		jsonErr(w, "book_hash and message are required", http.StatusBadRequest)
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	snapshot := orchestration.RequestSnapshot{
		BookHash:    req.BookHash,
		BookTitle:   req.BookTitle,
		CurrentPage: req.CurrentPage,
		TopK:        topK,
		UserMessage: req.Message,
	}

	answer, err := s.orchestrator.HandleTurn(r.Context(), snapshot)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_, sources := s.orchestrator.LastSources()

	if req.ConversationID != "" {
		_ = s.store.SaveMessage(req.BookHash, store.Message{
			ID:             idgen.NewUUID(),
			ConversationID: req.ConversationID,
			Role:           "user",
			Content:        req.Message,
			CreatedAt:      time.Now(),
		})
		_ = s.store.SaveMessage(req.BookHash, store.Message{
			ID:             idgen.NewUUID(),
			ConversationID: req.ConversationID,
			Role:           "assistant",
			Content:        answer,
			CreatedAt:      time.Now(),
		})
	}

	jsonResp(w, map[string]interface{}{
		"answer":  answer,
		"sources": sources,
	})
}

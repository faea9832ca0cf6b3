package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/readest-ai/rag-core/internal/idgen"
	"github.com/readest-ai/rag-core/internal/store"
)

// ========== Conversation endpoints ==========

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		bookHash := r.URL.Query().Get("book_hash")
		if bookHash == "" {
			jsonErr(w, "book_hash is required", http.StatusBadRequest)
			return
		}
		convs, err := s.store.GetConversations(bookHash)
		if err != nil {
			jsonErr(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonResp(w, convs)

	case http.MethodPost:
		var req struct {
			BookHash string `json:"book_hash"`
			Title    string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookHash == "" {
			jsonErr(w, "book_hash is required", http.StatusBadRequest)
			return
		}
		now := time.Now()
		conv := store.Conversation{
			ID:        idgen.NewUUID(),
			BookHash:  req.BookHash,
			Title:     req.Title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.store.SaveConversation(conv); err != nil {
			jsonErr(w, err.Error(), http.StatusInternalServerError)
			return
		}
		jsonResp(w, conv)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		BookHash       string `json:"book_hash"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookHash == "" || req.ConversationID == "" {
		jsonErr(w, "book_hash and conversation_id are required", http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteConversation(req.BookHash, req.ConversationID); err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		BookHash       string `json:"book_hash"`
		ConversationID string `json:"conversation_id"`
		Title          string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookHash == "" || req.ConversationID == "" {
		jsonErr(w, "book_hash and conversation_id are required", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateConversationTitle(req.BookHash, req.ConversationID, req.Title); err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, map[string]string{"status": "ok"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	bookHash := r.URL.Query().Get("book_hash")
	conversationID := r.URL.Query().Get("conversation_id")
	if bookHash == "" || conversationID == "" {
		jsonErr(w, "book_hash and conversation_id are required", http.StatusBadRequest)
		return
	}

	msgs, err := s.store.GetMessages(bookHash, conversationID)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResp(w, msgs)
}

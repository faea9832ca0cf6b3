package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/readest-ai/rag-core/internal/embedding"
)

// ========== Settings endpoint ==========

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.mu.RLock()
		resp := map[string]interface{}{
			"embed_provider":  s.embedProvider,
			"openai_key":      maskKey(s.providerKeys["openai"]),
			"huggingface_key": maskKey(s.providerKeys["huggingface"]),
		}
		s.mu.RUnlock()
		jsonResp(w, resp)

	case http.MethodPost:
		var req struct {
			OpenAIKey      string `json:"openai_key"`
			HuggingFaceKey string `json:"huggingface_key"`
			EmbedProvider  string `json:"embed_provider"`
			EmbedBaseURL   string `json:"embed_base_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, "Invalid request", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		if req.OpenAIKey != "" && !strings.Contains(req.OpenAIKey, "...") {
			s.providerKeys["openai"] = req.OpenAIKey
		}
		if req.HuggingFaceKey != "" && !strings.Contains(req.HuggingFaceKey, "...") {
			s.providerKeys["huggingface"] = req.HuggingFaceKey
		}
		if req.EmbedProvider != "" {
			s.embedProvider = req.EmbedProvider
			switch req.EmbedProvider {
			case "openai", "openai-compat":
				s.embedAPIKey = s.providerKeys["openai"]
			case "huggingface":
				s.embedAPIKey = s.providerKeys["huggingface"]
			}
		}

		newProvider, err := newEmbeddingProvider(s.embedProvider, s.embedAPIKey, req.EmbedBaseURL)
		if err != nil {
			s.mu.Unlock()
			jsonErr(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.swapEmbedder(newProvider)

		saved := SavedSettings{
			OpenAIKey:      s.providerKeys["openai"],
			HuggingFaceKey: s.providerKeys["huggingface"],
			EmbedProvider:  s.embedProvider,
			EmbedBaseURL:   req.EmbedBaseURL,
		}
		s.mu.Unlock()

		if err := persistSettings(saved); err != nil {
			log.Printf("Failed to persist settings: %v", err)
		}

		log.Printf("Settings updated: embed_provider=%s", req.EmbedProvider)
		jsonResp(w, map[string]string{"status": "saved"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// swapEmbedder rewires the indexer/retriever to a newly configured
// embedding provider. Callers must hold s.mu.
func (s *Server) swapEmbedder(p embedding.Provider) {
	s.indexer.Embedder = p
	s.retriever.Embedder = p
}

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/readest-ai/rag-core/internal/embedding"
	"github.com/readest-ai/rag-core/internal/indexer"
	"github.com/readest-ai/rag-core/internal/ingeststate"
	"github.com/readest-ai/rag-core/internal/orchestration"
	"github.com/readest-ai/rag-core/internal/retriever"
	"github.com/readest-ai/rag-core/internal/store"

	"github.com/gorilla/websocket"
)

// Server holds all shared state wiring the core packages into an
// HTTP+WS demo. One Store serves every book; callers address a book
// by its bookHash, passed as book_hash in the query string (GET) or
// the JSON body (POST).
type Server struct {
	mu sync.RWMutex

	store        *store.Store
	indexer      *indexer.Indexer
	retriever    *retriever.Retriever
	orchestrator *orchestration.Orchestrator
	states       *ingeststate.Registry

	embedProvider string
	embedAPIKey   string
	providerKeys  map[string]string
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ========== Settings persistence ==========

const settingsFile = "data/settings.json"

type SavedSettings struct {
	OpenAIKey      string `json:"openai_key"`
	HuggingFaceKey string `json:"huggingface_key"`
	EmbedProvider  string `json:"embed_provider"`
	EmbedBaseURL   string `json:"embed_base_url,omitempty"`
}

func maskKey(key string) string {
	if len(key) <= 8 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// ========== Middleware ==========

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ========== Helpers ==========

func jsonResp(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// newEmbeddingProvider builds the configured embedding.Provider, or
// nil if no key is configured (lexical-only indexing still works
// without one).
func newEmbeddingProvider(name, apiKey, baseURL string) (embedding.Provider, error) {
	if apiKey == "" {
		return nil, nil
	}
	switch name {
	case "huggingface":
		return embedding.NewHuggingFaceProvider(apiKey, "")
	case "openai-compat":
		if baseURL == "" {
			return nil, fmt.Errorf("embed_base_url is required for openai-compat provider")
		}
		return embedding.NewOpenAICompatProvider(baseURL, apiKey, "")
	default:
		return embedding.NewOpenAIProvider(apiKey, "")
	}
}

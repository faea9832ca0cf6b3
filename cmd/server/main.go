package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/crypto"
	"github.com/readest-ai/rag-core/internal/indexer"
	"github.com/readest-ai/rag-core/internal/ingeststate"
	"github.com/readest-ai/rag-core/internal/orchestration"
	"github.com/readest-ai/rag-core/internal/retriever"
	"github.com/readest-ai/rag-core/internal/store"

	"github.com/joho/godotenv"
)

func loadSavedSettings() *SavedSettings {
	data, err := os.ReadFile(settingsFile)
	if err != nil {
		return nil
	}
	var s SavedSettings
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("Warning: could not parse %s: %v", settingsFile, err)
		return nil
	}
	s.OpenAIKey = decryptOrPassthrough(s.OpenAIKey)
	s.HuggingFaceKey = decryptOrPassthrough(s.HuggingFaceKey)
	return &s
}

// decryptOrPassthrough tries to decrypt a value; if it fails (e.g.
// legacy plaintext settings.json), returns the original value
// unchanged.
func decryptOrPassthrough(val string) string {
	if val == "" {
		return ""
	}
	decrypted, err := crypto.Decrypt(val)
	if err != nil {
		return val
	}
	return decrypted
}

func persistSettings(s SavedSettings) error {
	_ = os.MkdirAll("data", 0755)

	toSave := s
	var err error
	if toSave.OpenAIKey, err = crypto.Encrypt(s.OpenAIKey); err != nil {
		log.Printf("Warning: failed to encrypt OpenAI key: %v", err)
		toSave.OpenAIKey = s.OpenAIKey
	}
	if toSave.HuggingFaceKey, err = crypto.Encrypt(s.HuggingFaceKey); err != nil {
		log.Printf("Warning: failed to encrypt HuggingFace key: %v", err)
		toSave.HuggingFaceKey = s.HuggingFaceKey
	}

	data, err := json.MarshalIndent(toSave, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(settingsFile, data, 0644)
}

func main() {
	_ = godotenv.Load()

	embedProvider := os.Getenv("EMBEDDING_PROVIDER")
	embedAPIKey := os.Getenv("EMBEDDING_API_KEY")
	if embedAPIKey == "" {
		embedAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	embedBaseURL := os.Getenv("EMBEDDING_BASE_URL")

	providerKeys := map[string]string{
		"openai":      os.Getenv("OPENAI_API_KEY"),
		"huggingface": os.Getenv("HUGGINGFACE_API_KEY"),
	}

	if saved := loadSavedSettings(); saved != nil {
		log.Printf("Loading saved settings from %s", settingsFile)
		if saved.OpenAIKey != "" {
			providerKeys["openai"] = saved.OpenAIKey
		}
		if saved.HuggingFaceKey != "" {
			providerKeys["huggingface"] = saved.HuggingFaceKey
		}
		if saved.EmbedProvider != "" {
			embedProvider = saved.EmbedProvider
			embedBaseURL = saved.EmbedBaseURL
			switch saved.EmbedProvider {
			case "openai", "openai-compat":
				embedAPIKey = providerKeys["openai"]
			case "huggingface":
				embedAPIKey = providerKeys["huggingface"]
			}
		}
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	st, err := store.New(dataDir, 8)
	if err != nil {
		log.Fatalf("Failed to init store: %v", err)
	}

	embedder, err := newEmbeddingProvider(embedProvider, embedAPIKey, embedBaseURL)
	if err != nil {
		log.Printf("Warning: embedding provider not configured: %v (BM25-only indexing)", err)
	}

	states := ingeststate.NewRegistry()
	idx := indexer.New(chunk.New(chunk.DefaultSettings), embedder, st, states)
	ret := retriever.New(st, embedder)
	orch := orchestration.New(ret, &stubChatProvider{})

	srv := &Server{
		store:         st,
		indexer:       idx,
		retriever:     ret,
		orchestrator:  orch,
		states:        states,
		embedProvider: embedProvider,
		embedAPIKey:   embedAPIKey,
		providerKeys:  providerKeys,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/books/index", srv.handleIndexBook)
	mux.HandleFunc("/api/books/index/status", srv.handleIndexStatus)
	mux.HandleFunc("/api/books/index/ws", srv.handleIndexWS)
	mux.HandleFunc("/api/books/reindex", srv.handleClearIndex)

	mux.HandleFunc("/api/chat", srv.handleChat)

	mux.HandleFunc("/api/conversations", srv.handleConversations)
	mux.HandleFunc("/api/conversations/delete", srv.handleDeleteConversation)
	mux.HandleFunc("/api/conversations/rename", srv.handleRenameConversation)
	mux.HandleFunc("/api/conversations/messages", srv.handleMessages)

	mux.HandleFunc("/api/settings", srv.handleSettings)

	mux.Handle("/", http.FileServer(http.Dir("web")))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("rag-core server starting on http://localhost:%s", port)
	if err := http.ListenAndServe(":"+port, corsMiddleware(mux)); err != nil {
		log.Fatal(err)
	}
}

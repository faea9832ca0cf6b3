package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/readest-ai/rag-core/internal/bookdoc"
	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/embedding"
	"github.com/readest-ai/rag-core/internal/indexer"
	"github.com/readest-ai/rag-core/internal/ingeststate"
	"github.com/readest-ai/rag-core/internal/store"

	"github.com/joho/godotenv"
)

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

// One-shot CLI ingestion: every .txt file under corpusDir is treated
// as one book, its bookHash taken from the filename, and its
// paragraphs (blank-line separated) become linear sections. Real
// EPUB/PDF/DOCX parsing is a reader client's job, out of scope here.
func main() {
	_ = godotenv.Load()

	embedProvider := os.Getenv("EMBEDDING_PROVIDER")
	embedAPIKey := os.Getenv("EMBEDDING_API_KEY")
	if embedAPIKey == "" {
		embedAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	embedBaseURL := os.Getenv("EMBEDDING_BASE_URL")

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	st, err := store.New(dataDir, 4)
	if err != nil {
		log.Fatalf("Failed to init store: %v", err)
	}

	embedder, err := newEmbeddingProvider(embedProvider, embedAPIKey, embedBaseURL)
	if err != nil {
		log.Fatalf("Failed to init embedding provider: %v", err)
	}
	if embedder == nil {
		log.Printf("No embedding provider configured — indexing BM25-only")
	}

	idx := indexer.New(chunk.New(chunk.DefaultSettings), embedder, st, ingeststate.NewRegistry())

	corpusDir := "corpus"
	files, err := os.ReadDir(corpusDir)
	if err != nil {
		log.Fatalf("Failed to read corpus directory: %v", err)
	}

	start := time.Now()
	for _, file := range files {
		if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), ".txt") {
			continue
		}

		path := filepath.Join(corpusDir, file.Name())
		bookHash := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))

		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Failed to read %s: %v", file.Name(), err)
			continue
		}

		fmt.Printf("Indexing %s (book_hash=%s)...\n", file.Name(), bookHash)
		doc := documentFromText(bookHash, string(data))

		err = idx.IndexBook(context.Background(), bookHash, doc, chunk.DefaultSettings, func(current, total int, phase string) {
			fmt.Printf("  %s: %d/%d\n", phase, current, total)
		})
		if err != nil {
			log.Printf("Failed to index %s: %v", file.Name(), err)
			continue
		}
	}

	fmt.Printf("Finished ingestion in %v.\n", time.Since(start))
}

// documentFromText splits on blank lines into linear sections, one
// section per paragraph.
func documentFromText(bookHash, text string) bookdoc.Document {
	paragraphs := strings.Split(text, "\n\n")
	sections := make([]bookdoc.Section, 0, len(paragraphs))
	cumulative := 0
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sections = append(sections, bookdoc.Section{
			Linear:          true,
			Size:            len(p),
			CumulativeStart: cumulative,
			DOM:             bookdoc.NewText(p),
		})
		cumulative += len(p)
	}
	return bookdoc.Document{
		Sections: sections,
		Metadata: bookdoc.Metadata{Title: bookHash},
	}
}

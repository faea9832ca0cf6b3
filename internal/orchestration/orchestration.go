// Package orchestration is the chat-turn contract the reader UI
// drives: snapshot the request's configuration, gather context chunks
// and hybrid search results in parallel, merge and publish them as
// the "last sources" for the turn, then hand off to an external chat
// provider for prompt construction and streaming.
//
// The single-slot last-sources cell is a mu sync.RWMutex guarding a
// snapshot()/reset() pair, so LastSources always reflects the most
// recently completed turn.
package orchestration

import (
	"context"
	"sync"

	"github.com/readest-ai/rag-core/internal/retriever"
	"github.com/readest-ai/rag-core/internal/store"
)

// RequestSnapshot is the configuration captured at the moment a chat
// turn starts, so later UI state changes never affect an in-flight
// request.
type RequestSnapshot struct {
	BookHash    string
	BookTitle   string
	CurrentPage int
	TopK        int
	UserMessage string
}

// ChatProvider is the external collaborator responsible for prompt
// construction and token streaming. This module only forwards
// context.Context for cancellation; it never builds or sends a
// prompt itself.
type ChatProvider interface {
	Answer(ctx context.Context, snapshot RequestSnapshot, sources []store.ScoredChunk) (string, error)
}

// lastSourcesCell is the single-slot, process-wide snapshot of the
// most recent turn's sources. Safe for concurrent use.
type lastSourcesCell struct {
	mu       sync.RWMutex
	sources  []store.ScoredChunk
	bookHash string
}

func (c *lastSourcesCell) set(bookHash string, sources []store.ScoredChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bookHash = bookHash
	c.sources = sources
}

func (c *lastSourcesCell) snapshot() (string, []store.ScoredChunk) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]store.ScoredChunk, len(c.sources))
	copy(out, c.sources)
	return c.bookHash, out
}

func (c *lastSourcesCell) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bookHash = ""
	c.sources = nil
}

// Orchestrator drives one chat turn: gather context, publish last
// sources, delegate answering to a ChatProvider.
type Orchestrator struct {
	Retriever *retriever.Retriever
	Provider  ChatProvider

	lastSources lastSourcesCell
}

func New(r *retriever.Retriever, provider ChatProvider) *Orchestrator {
	return &Orchestrator{Retriever: r, Provider: provider}
}

// LastSources returns the bookHash and sources published by the most
// recently completed turn, or ("", nil) if none have run or the cell
// was reset.
func (o *Orchestrator) LastSources() (string, []store.ScoredChunk) {
	return o.lastSources.snapshot()
}

// ResetLastSources clears the single-slot cell.
func (o *Orchestrator) ResetLastSources() {
	o.lastSources.reset()
}

// HandleTurn gathers context for one chat turn and hands off to the
// configured ChatProvider. If the book is indexed, page-context
// chunks and hybrid search results are fetched concurrently and
// merged with page-context chunks first, deduplicated by chunk ID.
func (o *Orchestrator) HandleTurn(ctx context.Context, snapshot RequestSnapshot) (string, error) {
	sources, err := o.gatherSources(ctx, snapshot)
	if err != nil {
		return "", err
	}
	o.lastSources.set(snapshot.BookHash, sources)
	return o.Provider.Answer(ctx, snapshot, sources)
}

func (o *Orchestrator) gatherSources(ctx context.Context, snapshot RequestSnapshot) ([]store.ScoredChunk, error) {
	if !o.Retriever.IsBookIndexed(snapshot.BookHash) {
		return nil, nil
	}

	var (
		pageChunks   []store.ScoredChunk
		searchChunks []store.ScoredChunk
		pageErr      error
		searchErr    error
		wg           sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		pageChunks, pageErr = o.Retriever.GetPageContextChunks(snapshot.BookHash, snapshot.CurrentPage)
	}()
	go func() {
		defer wg.Done()
		searchChunks, searchErr = o.Retriever.HybridSearch(ctx, snapshot.BookHash, snapshot.UserMessage, snapshot.TopK, snapshot.CurrentPage)
	}()
	wg.Wait()

	if pageErr != nil {
		return nil, pageErr
	}
	if searchErr != nil {
		return nil, searchErr
	}

	return mergeDeduped(pageChunks, searchChunks), nil
}

// mergeDeduped merges page chunks (first) and search chunks,
// dropping any search chunk whose ID already appears among the page
// chunks.
func mergeDeduped(pageChunks, searchChunks []store.ScoredChunk) []store.ScoredChunk {
	seen := make(map[string]bool, len(pageChunks))
	out := make([]store.ScoredChunk, 0, len(pageChunks)+len(searchChunks))
	for _, c := range pageChunks {
		seen[c.ID] = true
		out = append(out, c)
	}
	for _, c := range searchChunks {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

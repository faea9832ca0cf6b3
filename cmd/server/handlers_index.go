package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/readest-ai/rag-core/internal/bookdoc"
	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/ingeststate"
)

// ========== Indexing endpoints ==========

// sectionInput is the wire shape for one book section. Parsing an
// actual EPUB/PDF/DOCX into a full bookdoc.Node tree is the reader
// client's job; this endpoint accepts plain section text and wraps
// each one in a single text node.
type sectionInput struct {
	Text string `json:"text"`
}

type tocEntryInput struct {
	SectionID int    `json:"section_id"`
	Label     string `json:"label"`
}

type indexRequest struct {
	BookHash string          `json:"book_hash"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	Sections []sectionInput  `json:"sections"`
	TOC      []tocEntryInput `json:"toc,omitempty"`
}

func (req indexRequest) toDocument() bookdoc.Document {
	sections := make([]bookdoc.Section, len(req.Sections))
	cumulative := 0
	for i, sec := range req.Sections {
		sections[i] = bookdoc.Section{
			Linear:          true,
			Size:            len(sec.Text),
			CumulativeStart: cumulative,
			DOM:             bookdoc.NewText(sec.Text),
		}
		cumulative += len(sec.Text)
	}
	toc := make([]bookdoc.TOCEntry, len(req.TOC))
	for i, e := range req.TOC {
		toc[i] = bookdoc.TOCEntry{SectionID: e.SectionID, Label: e.Label}
	}
	return bookdoc.Document{
		Sections: sections,
		TOC:      toc,
		Metadata: bookdoc.Metadata{Title: req.Title, Author: req.Author},
	}
}

// handleIndexBook kicks off indexing for one book in the background
// and returns immediately; progress is polled via handleIndexStatus
// or streamed via handleIndexWS.
func (s *Server) handleIndexBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookHash == "" || len(req.Sections) == 0 {
		jsonErr(w, "book_hash and sections are required", http.StatusBadRequest)
		return
	}

	doc := req.toDocument()
	bookHash := req.BookHash

	go func() {
		start := time.Now()
		// The request context is cancelled as soon as this handler
		// returns, so the background run gets its own.
		err := s.indexer.IndexBook(context.Background(), bookHash, doc, chunk.DefaultSettings, func(current, total int, phase string) {
			s.states.Update(bookHash, phase, current, total)
		})
		if err != nil {
			log.Printf("indexing %s failed after %v: %v", bookHash, time.Since(start), err)
			return
		}
		log.Printf("indexing %s complete in %v", bookHash, time.Since(start))
	}()

	jsonResp(w, map[string]string{"status": "started"})
}

// handleIndexStatus polls the ephemeral ingest state for one book.
func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	bookHash := r.URL.Query().Get("book_hash")
	if bookHash == "" {
		jsonErr(w, "book_hash is required", http.StatusBadRequest)
		return
	}
	jsonResp(w, s.states.Snapshot(bookHash))
}

// handleIndexWS streams ingeststate.State updates for one book over a
// websocket until indexing completes, errors, or the client
// disconnects.
func (s *Server) handleIndexWS(w http.ResponseWriter, r *http.Request) {
	bookHash := r.URL.Query().Get("book_hash")
	if bookHash == "" {
		http.Error(w, "book_hash is required", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last ingeststate.State
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			cur := s.states.Snapshot(bookHash)
			if cur == last {
				continue
			}
			last = cur
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
			if cur.Status == ingeststate.StatusComplete || cur.Status == ingeststate.StatusError {
				return
			}
		}
	}
}

// handleClearIndex drops a book's persisted index so it can be
// re-ingested from scratch.
func (s *Server) handleClearIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		BookHash string `json:"book_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookHash == "" {
		jsonErr(w, "book_hash is required", http.StatusBadRequest)
		return
	}

	if err := s.store.ClearBookIndex(req.BookHash); err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.states.Clear(req.BookHash)
	jsonResp(w, map[string]string{"status": "cleared"})
}

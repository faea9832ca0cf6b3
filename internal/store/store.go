// Package store is the per-book persistent layer: chunks, a
// serialized BM25 index, book metadata, and conversations, each
// namespaced to its own book so clearing one book never touches
// another.
//
// Two storage engines are used side by side: bbolt (go.etcd.io/bbolt,
// promoted here from an indirect bleve dependency to a direct one) is
// the per-book embedded key-value store for chunks/meta/conversations/
// messages, and bleve is the BM25 engine for lexical search.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/coreerr"
)

const dbPrefix = "readest-ai-"

var (
	bucketChunks         = []byte("chunks")
	bucketBookMeta       = []byte("bookMeta")
	bucketBM25Indices    = []byte("bm25Indices")
	bucketConversations  = []byte("conversations")
	bucketMessages       = []byte("messages")
	bucketMessagesByConv = []byte("messagesByConversation")
)

// BookIndexMeta is the L0 record marking a book as indexed.
type BookIndexMeta struct {
	BookHash       string    `json:"book_hash"`
	BookTitle      string    `json:"book_title"`
	AuthorName     string    `json:"author_name"`
	TotalSections  int       `json:"total_sections"`
	TotalChunks    int       `json:"total_chunks"`
	EmbeddingModel string    `json:"embedding_model"`
	PageSizeChars  int       `json:"page_size_chars"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Indexed reports whether this meta marks the book as indexed.
func (m BookIndexMeta) Indexed() bool { return m.TotalChunks > 0 }

// ScoredChunk is a chunk.Chunk plus retrieval metadata. Transient —
// never persisted.
type ScoredChunk struct {
	chunk.Chunk
	Score        float64 `json:"score"`
	SearchMethod string  `json:"search_method"` // vector, bm25, hybrid, context
}

// bm25Marker is the small opaque record kept in bbolt noting that a
// book's bleve index was built. Nothing in this package reads it back;
// IsBookIndexed answers from the meta record instead.
type bm25Marker struct {
	DocCount int       `json:"doc_count"`
	BuiltAt  time.Time `json:"built_at"`
}

// bookHandles bundles the open resources and warm caches for one
// book.
type bookHandles struct {
	mu sync.RWMutex

	db       *bolt.DB
	bleveIdx bleve.Index
	bleveDir string

	chunksCache        map[string]chunk.Chunk
	metaCache          *BookIndexMeta
	conversationsCache []Conversation
	cacheValid         bool

	lastTouch time.Time
}

// Store is the process-wide persistence capability, holding a bounded
// set of warm per-book handles. Construct one with New and share it;
// it has no other global state, an explicit passed-around resource
// rather than package-level state.
type Store struct {
	mu       sync.Mutex
	dataDir  string
	books    map[string]*bookHandles
	capacity int
}

// New creates a Store rooted at dataDir. capacity bounds the number of
// books kept open concurrently; books beyond that are closed (not
// deleted) on a simple least-recently-touched basis.
func New(dataDir string, capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = 8
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, coreerr.NewStoreError("init", err)
	}
	return &Store{
		dataDir:  dataDir,
		books:    make(map[string]*bookHandles),
		capacity: capacity,
	}, nil
}

func (s *Store) dbPath(bookHash string) string {
	return filepath.Join(s.dataDir, dbPrefix+bookHash+".db")
}

func (s *Store) blevePath(bookHash string) string {
	return filepath.Join(s.dataDir, dbPrefix+bookHash+".bleve")
}

// handle returns (opening if necessary) the resources for bookHash.
func (s *Store) handle(bookHash string) (*bookHandles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.books[bookHash]; ok {
		h.lastTouch = time.Now()
		return h, nil
	}

	if len(s.books) >= s.capacity {
		s.evictLRULocked()
	}

	db, err := bolt.Open(s.dbPath(bookHash), 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, coreerr.NewStoreError("open", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketChunks, bucketBookMeta, bucketBM25Indices, bucketConversations, bucketMessages, bucketMessagesByConv} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, coreerr.NewStoreError("open", err)
	}

	h := &bookHandles{db: db, bleveDir: s.blevePath(bookHash), lastTouch: time.Now()}
	s.books[bookHash] = h
	return h, nil
}

// evictLRULocked closes the least-recently-touched open book's
// handles to make room for a new one. Callers hold s.mu.
func (s *Store) evictLRULocked() {
	var oldestHash string
	var oldestTouch time.Time
	for hash, h := range s.books {
		if oldestHash == "" || h.lastTouch.Before(oldestTouch) {
			oldestHash = hash
			oldestTouch = h.lastTouch
		}
	}
	if oldestHash == "" {
		return
	}
	s.books[oldestHash].close()
	delete(s.books, oldestHash)
}

func (h *bookHandles) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db != nil {
		_ = h.db.Close()
	}
	if h.bleveIdx != nil {
		_ = h.bleveIdx.Close()
	}
	h.chunksCache = nil
	h.metaCache = nil
	h.conversationsCache = nil
	h.cacheValid = false
}

// RecoverFromError closes every open handle and drops every cache.
// Subsequent operations reopen books lazily.
func (s *Store) RecoverFromError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, h := range s.books {
		h.close()
		delete(s.books, hash)
	}
	return nil
}

// ==================== Chunks ====================

// SaveChunks writes every chunk for a book in a single transaction
// and, on success, replaces the chunk cache wholesale.
func (s *Store) SaveChunks(bookHash string, chunks []chunk.Chunk) error {
	h, err := s.handle(bookHash)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	err = h.db.Update(func(tx *bolt.Tx) error {
		// Replace the bucket wholesale so the write is all-or-nothing.
		if err := tx.DeleteBucket(bucketChunks); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(c.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return coreerr.NewStoreError("save_chunks", err)
	}

	cache := make(map[string]chunk.Chunk, len(chunks))
	for _, c := range chunks {
		cache[c.ID] = c
	}
	h.chunksCache = cache
	h.cacheValid = true
	return nil
}

// loadChunksLocked returns the chunk cache, populating it from bbolt
// if necessary. Callers hold h.mu.
func (h *bookHandles) loadChunksLocked() (map[string]chunk.Chunk, error) {
	if h.cacheValid && h.chunksCache != nil {
		return h.chunksCache, nil
	}
	cache := make(map[string]chunk.Chunk)
	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		return b.ForEach(func(k, v []byte) error {
			var c chunk.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			cache[c.ID] = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	h.chunksCache = cache
	h.cacheValid = true
	return cache, nil
}

// GetChunks returns every cached chunk for a book.
func (s *Store) GetChunks(bookHash string) ([]chunk.Chunk, error) {
	h, err := s.handle(bookHash)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	cache, err := h.loadChunksLocked()
	if err != nil {
		return nil, coreerr.NewStoreError("get_chunks", err)
	}
	out := make([]chunk.Chunk, 0, len(cache))
	for _, c := range cache {
		out = append(out, c)
	}
	return out, nil
}

// GetChunksForPage returns all chunks on the given page, from cache.
func (s *Store) GetChunksForPage(bookHash string, pageNumber int) ([]chunk.Chunk, error) {
	all, err := s.GetChunks(bookHash)
	if err != nil {
		return nil, err
	}
	var out []chunk.Chunk
	for _, c := range all {
		if c.PageNumber == pageNumber {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetChunksForSection returns all chunks belonging to the given
// section index, from cache.
func (s *Store) GetChunksForSection(bookHash string, sectionIndex int) ([]chunk.Chunk, error) {
	all, err := s.GetChunks(bookHash)
	if err != nil {
		return nil, err
	}
	var out []chunk.Chunk
	for _, c := range all {
		if c.SectionIndex == sectionIndex {
			out = append(out, c)
		}
	}
	return out, nil
}

// ==================== Book meta ====================

// SaveMeta writes book meta, marking the commit point of an indexing
// run. Invalidates the meta cache.
func (s *Store) SaveMeta(bookHash string, meta BookIndexMeta) error {
	h, err := s.handle(bookHash)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.Marshal(meta)
	if err != nil {
		return coreerr.NewStoreError("save_meta", err)
	}
	err = h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBookMeta).Put([]byte(bookHash), data)
	})
	if err != nil {
		return coreerr.NewStoreError("save_meta", err)
	}
	m := meta
	h.metaCache = &m
	return nil
}

// GetMeta returns the book's meta, or nil if the book has never been
// indexed.
func (s *Store) GetMeta(bookHash string) (*BookIndexMeta, error) {
	h, err := s.handle(bookHash)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.metaCache != nil {
		m := *h.metaCache
		return &m, nil
	}

	var meta *BookIndexMeta
	err = h.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBookMeta).Get([]byte(bookHash))
		if data == nil {
			return nil
		}
		var m BookIndexMeta
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		meta = &m
		return nil
	})
	if err != nil {
		return nil, coreerr.NewStoreError("get_meta", err)
	}
	h.metaCache = meta
	return meta, nil
}

// IsBookIndexed consults meta: a book is indexed once its meta record
// exists and names at least one chunk.
func (s *Store) IsBookIndexed(bookHash string) bool {
	meta, err := s.GetMeta(bookHash)
	if err != nil || meta == nil {
		return false
	}
	return meta.Indexed()
}

// ClearBookIndex deletes all persisted state for a book: chunks,
// meta, BM25 index, and caches. Conversations and messages are left
// untouched — clearing the index is not the same as deleting the
// book's chat history.
func (s *Store) ClearBookIndex(bookHash string) error {
	h, err := s.handle(bookHash)
	if err != nil {
		return err
	}
	h.mu.Lock()
	bleveDir := h.bleveDir
	bleveIdx := h.bleveIdx
	h.bleveIdx = nil
	h.mu.Unlock()

	if bleveIdx != nil {
		_ = bleveIdx.Close()
	}
	if err := os.RemoveAll(bleveDir); err != nil {
		return coreerr.NewStoreError("clear_index", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	err = h.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketChunks, bucketBookMeta, bucketBM25Indices} {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return coreerr.NewStoreError("clear_index", err)
	}
	h.chunksCache = nil
	h.metaCache = nil
	h.cacheValid = false
	return nil
}

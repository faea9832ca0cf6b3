package store

import (
	"encoding/json"
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	bolt "go.etcd.io/bbolt"

	"github.com/readest-ai/rag-core/internal/chunk"
	"github.com/readest-ai/rag-core/internal/coreerr"
)

// noStemAnalyzerName is registered once per bleve index mapping. It
// tokenizes and lowercases like bleve's standard "en" analyzer but
// skips the snowball stemmer and stop-word filter, so words are
// matched as stored after tokenization, with stemming disabled across
// both the indexing and query pipelines.
const noStemAnalyzerName = "no_stem"

func registerNoStemAnalyzer(cache *registry.Cache) error {
	_, err := cache.DefineAnalyzer(noStemAnalyzerName, map[string]interface{}{
		"type":      "custom",
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	return err
}

// bm25Doc is what gets indexed per chunk: fields "text" and
// "chapterTitle", keyed by "id".
type bm25Doc struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	ChapterTitle string `json:"chapterTitle"`
}

func buildBleveMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if err := registerNoStemAnalyzer(im.Cache); err != nil {
		return nil, err
	}

	fieldMapping := bleve.NewTextFieldMapping()
	fieldMapping.Analyzer = noStemAnalyzerName
	fieldMapping.Store = false
	fieldMapping.Index = true

	idMapping := bleve.NewTextFieldMapping()
	idMapping.Analyzer = "keyword"
	idMapping.Store = true
	idMapping.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("text", fieldMapping)
	docMapping.AddFieldMappingsAt("chapterTitle", fieldMapping)
	docMapping.AddFieldMappingsAt("id", idMapping)

	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = noStemAnalyzerName
	return im, nil
}

// BuildBM25 (re)builds the BM25 index for a book from its full chunk
// set and persists a small marker record. Replaced wholesale on
// re-index.
func (s *Store) BuildBM25(bookHash string, chunks []chunk.Chunk) error {
	h, err := s.handle(bookHash)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.bleveIdx != nil {
		_ = h.bleveIdx.Close()
		h.bleveIdx = nil
	}
	if err := os.RemoveAll(h.bleveDir); err != nil {
		return coreerr.NewStoreError("build_bm25", err)
	}

	im, err := buildBleveMapping()
	if err != nil {
		return coreerr.NewStoreError("build_bm25", err)
	}
	idx, err := bleve.New(h.bleveDir, im)
	if err != nil {
		return coreerr.NewStoreError("build_bm25", err)
	}

	batch := idx.NewBatch()
	for _, c := range chunks {
		doc := bm25Doc{ID: c.ID, Text: c.Text, ChapterTitle: c.ChapterTitle}
		if err := batch.Index(c.ID, doc); err != nil {
			idx.Close()
			return coreerr.NewStoreError("build_bm25", err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		idx.Close()
		return coreerr.NewStoreError("build_bm25", err)
	}

	marker := bm25Marker{DocCount: len(chunks), BuiltAt: time.Now()}
	data, err := json.Marshal(marker)
	if err != nil {
		idx.Close()
		return coreerr.NewStoreError("build_bm25", err)
	}
	err = h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBM25Indices).Put([]byte(bookHash), data)
	})
	if err != nil {
		idx.Close()
		return coreerr.NewStoreError("build_bm25", err)
	}

	h.bleveIdx = idx
	return nil
}

// openBleveLocked lazily opens the bleve index for a book. Callers
// hold h.mu.
func (h *bookHandles) openBleveLocked() (bleve.Index, error) {
	if h.bleveIdx != nil {
		return h.bleveIdx, nil
	}
	idx, err := bleve.Open(h.bleveDir)
	if err != nil {
		return nil, err
	}
	h.bleveIdx = idx
	return idx, nil
}

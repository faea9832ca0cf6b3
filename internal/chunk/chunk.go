// Package chunk turns a book's linear sections into overlapping,
// page-anchored text chunks with stable identifiers, ready for
// embedding and BM25 indexing.
package chunk

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/readest-ai/rag-core/internal/bookdoc"
)

// Chunk is a contiguous passage of book text, the atomic unit of
// retrieval.
type Chunk struct {
	ID           string    `json:"id"`
	BookHash     string    `json:"book_hash"`
	SectionIndex int       `json:"section_index"`
	ChapterTitle string    `json:"chapter_title"`
	PageNumber   int       `json:"page_number"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"embedding,omitempty"`
}

// Settings controls chunk sizing. Zero-value Settings are replaced
// with DefaultSettings by Chunker.
type Settings struct {
	// TargetChunkChars is the approximate size of a chunk window.
	TargetChunkChars int
	// OverlapChars is the approximate overlap between consecutive
	// windows within a section.
	OverlapChars int
	// PageSizeChars derives page numbers from cumulative character
	// offsets. Recorded in BookIndexMeta so a book always re-derives
	// identical page numbers on re-chunk.
	PageSizeChars int
	// MinSectionChars is the extracted-text length below which a
	// section is skipped entirely.
	MinSectionChars int
}

// DefaultSettings: ~1000-char windows, ~17.5% overlap, a 1800-char
// nominal page.
var DefaultSettings = Settings{
	TargetChunkChars: 1000,
	OverlapChars:     175,
	PageSizeChars:    1800,
	MinSectionChars:  100,
}

func (s Settings) withDefaults() Settings {
	out := s
	if out.TargetChunkChars <= 0 {
		out.TargetChunkChars = DefaultSettings.TargetChunkChars
	}
	if out.OverlapChars <= 0 {
		out.OverlapChars = DefaultSettings.OverlapChars
	}
	if out.PageSizeChars <= 0 {
		out.PageSizeChars = DefaultSettings.PageSizeChars
	}
	if out.MinSectionChars <= 0 {
		out.MinSectionChars = DefaultSettings.MinSectionChars
	}
	return out
}

// Chunker produces chunks for a whole book document.
type Chunker struct {
	Settings Settings
}

// New creates a Chunker with the given settings (zero values fall
// back to DefaultSettings).
func New(settings Settings) *Chunker {
	return &Chunker{Settings: settings.withDefaults()}
}

// ChunkBook chunks every section of doc for the given book hash.
// Individual section failures (malformed DOM) are logged and skipped;
// they never abort the whole book.
func (c *Chunker) ChunkBook(bookHash string, doc bookdoc.Document) []Chunk {
	var out []Chunk
	for i, section := range doc.Sections {
		chunks, err := c.chunkSection(bookHash, doc.TOC, i, section)
		if err != nil {
			log.Printf("chunker: skipping section %d of book %s: %v", i, bookHash, err)
			continue
		}
		out = append(out, chunks...)
	}
	return out
}

func (c *Chunker) chunkSection(bookHash string, toc []bookdoc.TOCEntry, sectionIndex int, section bookdoc.Section) (chunks []Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed section DOM: %v", r)
		}
	}()

	text := bookdoc.ExtractText(section.DOM)
	if len(text) < c.Settings.MinSectionChars {
		return nil, nil
	}

	chapterTitle := bookdoc.ChapterTitle(toc, sectionIndex)
	windows := splitWindows(text, c.Settings.TargetChunkChars, c.Settings.OverlapChars)

	out := make([]Chunk, 0, len(windows))
	for ordinal, w := range windows {
		pageNumber := (section.CumulativeStart + w.start) / c.Settings.PageSizeChars
		out = append(out, Chunk{
			ID:           chunkID(bookHash, sectionIndex, ordinal),
			BookHash:     bookHash,
			SectionIndex: sectionIndex,
			ChapterTitle: chapterTitle,
			PageNumber:   pageNumber,
			Text:         w.text,
		})
	}
	return out, nil
}

// chunkID is deterministic in (bookHash, sectionIndex, ordinal), so
// re-chunking identical input always yields the same id set.
func chunkID(bookHash string, sectionIndex, ordinal int) string {
	return fmt.Sprintf("%s_s%d_c%d", bookHash, sectionIndex, ordinal)
}

type window struct {
	start int
	end   int
	text  string
}

var sentenceBoundaryRe = regexp.MustCompile(`[.!?]+(?:\s+|$)`)

// splitWindows packs text into overlapping windows of approximately
// targetSize characters, preferring to split at sentence boundaries,
// falling back to word boundaries for any single sentence longer than
// targetSize, and never splitting mid-word.
func splitWindows(text string, targetSize, overlap int) []window {
	spans := sentenceSpans(text, targetSize)
	if len(spans) == 0 {
		return nil
	}

	var windows []window
	i := 0
	for i < len(spans) {
		start := spans[i].start
		end := spans[i].end
		j := i + 1
		for j < len(spans) && spans[j].end-start <= targetSize {
			end = spans[j].end
			j++
		}
		windows = append(windows, window{start: start, end: end, text: strings.TrimSpace(text[start:end])})

		if j >= len(spans) {
			break
		}

		// Back up from j to find the first span that keeps roughly
		// `overlap` characters of the just-finished window in the
		// next one, so consecutive windows share context.
		k := j - 1
		for k > i && end-spans[k].start < overlap {
			k--
		}
		if k <= i {
			k = j
		}
		i = k
	}
	return windows
}

// sentenceSpans splits text into byte-offset spans at sentence
// boundaries. Any span still longer than targetSize (a paragraph with
// no terminal punctuation) is further split at word boundaries.
func sentenceSpans(text string, targetSize int) []window {
	var spans []window
	prev := 0
	for _, m := range sentenceBoundaryRe.FindAllStringIndex(text, -1) {
		if m[1] > prev {
			spans = append(spans, window{start: prev, end: m[1]})
			prev = m[1]
		}
	}
	if prev < len(text) {
		spans = append(spans, window{start: prev, end: len(text)})
	}

	var out []window
	for _, s := range spans {
		if s.end-s.start <= targetSize {
			out = append(out, s)
			continue
		}
		out = append(out, wordSpans(text, s.start, s.end, targetSize)...)
	}
	return out
}

var wordBoundaryRe = regexp.MustCompile(`\s+`)

func wordSpans(text string, start, end, targetSize int) []window {
	segment := text[start:end]
	bounds := wordBoundaryRe.FindAllStringIndex(segment, -1)

	var wordStarts []int
	pos := 0
	for _, b := range bounds {
		wordStarts = append(wordStarts, pos)
		pos = b[1]
	}
	wordStarts = append(wordStarts, pos)

	var out []window
	wsStart := 0
	for idx := 1; idx < len(wordStarts); idx++ {
		if wordStarts[idx]-wordStarts[wsStart] > targetSize {
			out = append(out, window{start: start + wordStarts[wsStart], end: start + wordStarts[idx-1]})
			wsStart = idx - 1
		}
	}
	out = append(out, window{start: start + wordStarts[wsStart], end: end})
	return out
}

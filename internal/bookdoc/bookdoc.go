// Package bookdoc defines the book-document contract the Chunker
// consumes. Parsing an actual book file (EPUB/PDF/DOCX) into this
// shape is an external collaborator's job — out of scope here — so
// this package only models the structure a parsed book must present:
// an ordered list of sections, each with a small DOM-like node tree,
// plus a table of contents and basic metadata.
package bookdoc

import (
	"strconv"
	"strings"
)

// skipTags are dropped wholesale during text extraction, the
// document-tree equivalent of script/style elements in an HTML DOM.
var skipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"head":     true,
	"noscript": true,
}

// Node is a minimal DOM node: either a text leaf or an element with
// children. Tag is empty for text nodes.
type Node struct {
	Tag      string
	Text     string
	Children []*Node
}

// NewText builds a text leaf node.
func NewText(s string) *Node { return &Node{Text: s} }

// NewElement builds an element node with the given tag and children.
func NewElement(tag string, children ...*Node) *Node {
	return &Node{Tag: tag, Children: children}
}

// ExtractText walks the node tree in document order, concatenating
// visible text and dropping script/style-equivalent subtrees. Runs of
// whitespace collapse to a single space and the result is trimmed.
func ExtractText(n *Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	walk(n, &sb)
	return collapseWhitespace(sb.String())
}

func walk(n *Node, sb *strings.Builder) {
	if n == nil {
		return
	}
	if n.Tag != "" && skipTags[strings.ToLower(n.Tag)] {
		return
	}
	if n.Text != "" {
		sb.WriteString(n.Text)
		sb.WriteString(" ")
	}
	for _, c := range n.Children {
		walk(c, sb)
	}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.TrimSpace(strings.Join(fields, " "))
}

// TOCEntry is one entry of the table of contents: the section it
// starts at and its display label.
type TOCEntry struct {
	SectionID int
	Label     string
}

// Metadata carries book-level display fields. Title/Author may come
// from a language map upstream; by the time they reach the core they
// are resolved to a single display string.
type Metadata struct {
	Title  string
	Author string
}

// Section is one linear section of the book, with the cumulative
// character offset of its start from the beginning of the book (used
// for page-number derivation) and its resolved DOM.
type Section struct {
	Linear          bool
	Size            int
	CumulativeStart int
	DOM             *Node
}

// Document is the full book document the Chunker consumes.
type Document struct {
	Sections []Section
	TOC      []TOCEntry
	Metadata Metadata
}

// ChapterTitle resolves the chapter title for section i: the label of
// the last TOC entry whose SectionID <= i, or "Section {i+1}" if the
// TOC is empty or has no entry at or before i.
func ChapterTitle(toc []TOCEntry, sectionIndex int) string {
	label := ""
	bestID := -1
	for _, e := range toc {
		if e.SectionID <= sectionIndex && e.SectionID > bestID {
			bestID = e.SectionID
			label = e.Label
		}
	}
	if bestID == -1 {
		return "Section " + strconv.Itoa(sectionIndex+1)
	}
	return label
}

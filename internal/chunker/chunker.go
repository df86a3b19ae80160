// Package chunker splits extracted document text into overlapping
// fixed-width fragments, the unit of indexing and retrieval.
package chunker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Defaults match the ingestion parameters the index manifest records.
const (
	DefaultWidth   = 500
	DefaultOverlap = 50
)

// ErrBadChunkParams reports an unusable width/overlap combination.
var ErrBadChunkParams = errors.New("chunker: overlap must be smaller than width")

// Page is one page of extracted text, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// Chunk is a bounded fragment of a document.
type Chunk struct {
	Text     string `json:"text"`
	Document string `json:"document"`
	Page     int    `json:"page"`
	Seq      int    `json:"seq"`
}

// Chunker produces chunks with a fixed window width and overlap.
// The zero value is not usable; construct with New.
type Chunker struct {
	width   int
	overlap int
}

// New validates the window parameters. Overlap must be strictly smaller
// than width or every window would re-emit the previous one.
func New(width, overlap int) (*Chunker, error) {
	if width <= 0 || overlap < 0 || overlap >= width {
		return nil, fmt.Errorf("%w (width=%d overlap=%d)", ErrBadChunkParams, width, overlap)
	}
	return &Chunker{width: width, overlap: overlap}, nil
}

// Width returns the window width in characters.
func (c *Chunker) Width() int { return c.width }

// Overlap returns the window overlap in characters.
func (c *Chunker) Overlap() int { return c.overlap }

// Split concatenates the page texts and slides a window of Width characters
// across the result, advancing Width-Overlap per step. Width and Overlap
// count runes, not bytes, so a window never cuts through a multi-byte
// character. Each non-blank window becomes one Chunk tagged with the page
// containing its first character. Identical input always yields identical
// output.
func (c *Chunker) Split(document string, pages []Page) []Chunk {
	type pageStart struct {
		offset int // rune offset of the page's first character
		number int
	}
	var text []rune
	starts := make([]pageStart, 0, len(pages))
	for _, p := range pages {
		starts = append(starts, pageStart{offset: len(text), number: p.Number})
		text = append(text, []rune(p.Text)...)
	}

	pageAt := func(offset int) int {
		// Last page whose start is <= offset.
		i := sort.Search(len(starts), func(i int) bool { return starts[i].offset > offset })
		if i == 0 {
			return 1
		}
		return starts[i-1].number
	}

	step := c.width - c.overlap
	var chunks []Chunk
	seq := 0
	for off := 0; off < len(text); off += step {
		end := off + c.width
		if end > len(text) {
			end = len(text)
		}
		window := strings.TrimSpace(string(text[off:end]))
		if window == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Text:     window,
			Document: document,
			Page:     pageAt(off),
			Seq:      seq,
		})
		seq++
	}
	return chunks
}

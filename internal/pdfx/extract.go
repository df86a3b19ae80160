// Package pdfx extracts per-page plain text from PDF files so downstream
// chunks can carry page numbers.
package pdfx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/udayk/docqa/internal/chunker"
)

// ExtractFile reads a PDF from disk and returns one Page per PDF page, in
// order. Pages whose text cannot be decoded are returned with empty text
// rather than failing the whole document; the chunker drops them.
func ExtractFile(path string) ([]chunker.Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pdfx: open %s: %w", path, err)
	}
	defer f.Close()
	return extract(r)
}

// ExtractReader extracts pages from an in-memory or seekable PDF stream.
func ExtractReader(ra io.ReaderAt, size int64) ([]chunker.Page, error) {
	r, err := pdf.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("pdfx: read pdf: %w", err)
	}
	return extract(r)
}

// ExtractBytes is a convenience for HTTP uploads that arrive fully buffered.
func ExtractBytes(data []byte) ([]chunker.Page, error) {
	tmp, err := os.CreateTemp("", "docqa-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("pdfx: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()
	if _, err := tmp.Write(data); err != nil {
		return nil, fmt.Errorf("pdfx: temp file: %w", err)
	}
	return ExtractFile(tmp.Name())
}

func extract(r *pdf.Reader) ([]chunker.Page, error) {
	total := r.NumPage()
	pages := make([]chunker.Page, 0, total)
	for i := 1; i <= total; i++ {
		text := pageText(r, i)
		pages = append(pages, chunker.Page{Number: i, Text: text})
	}
	return pages, nil
}

// pageText isolates the library's per-page decoding. It panics on some
// malformed content streams, so a bad page degrades to empty text instead
// of killing the ingestion.
func pageText(r *pdf.Reader, n int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	p := r.Page(n)
	if p.V.IsNull() {
		return ""
	}
	s, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

package pdfx

import (
	"bytes"
	"testing"
)

func TestExtractFileMissing(t *testing.T) {
	if _, err := ExtractFile("testdata/does-not-exist.pdf"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestExtractReaderRejectsNonPDF(t *testing.T) {
	data := []byte("this is not a pdf")
	if _, err := ExtractReader(bytes.NewReader(data), int64(len(data))); err == nil {
		t.Fatal("expected error for non-PDF input")
	}
}

func TestExtractBytesRejectsNonPDF(t *testing.T) {
	if _, err := ExtractBytes([]byte("%PDF-garbage")); err == nil {
		t.Fatal("expected error for truncated PDF")
	}
}

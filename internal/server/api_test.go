package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/udayk/docqa/internal/chunker"
	"github.com/udayk/docqa/internal/rag"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	ingested  map[string]int
	ingestErr map[string]error
	answer    *rag.Answer
	askErr    error
	lastQuery string
	lastDocs  []string
	lastK     int
	docs      []string
	removed   []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{ingested: make(map[string]int), ingestErr: make(map[string]error)}
}

func (f *fakeEngine) Ingest(_ context.Context, document string, pages []chunker.Page) (int, error) {
	if err := f.ingestErr[document]; err != nil {
		return 0, err
	}
	f.ingested[document] = len(pages)
	return 3, nil
}

func (f *fakeEngine) Ask(_ context.Context, query string, allowed []string, k int) (*rag.Answer, error) {
	f.lastQuery, f.lastDocs, f.lastK = query, allowed, k
	if f.askErr != nil {
		return nil, f.askErr
	}
	return f.answer, nil
}

func (f *fakeEngine) Remove(_ context.Context, document string) error {
	f.removed = append(f.removed, document)
	return nil
}

func (f *fakeEngine) Documents(context.Context) ([]string, error) {
	return f.docs, nil
}

func apiMux(engine Engine) *http.ServeMux {
	s := NewAPIServer(engine, nil)
	s.extract = func(data []byte) ([]chunker.Page, error) {
		if !bytes.HasPrefix(data, []byte("%PDF")) {
			return nil, errors.New("bad pdf")
		}
		return []chunker.Page{{Number: 1, Text: string(data)}}, nil
	}
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		fmt.Fprint(part, content)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func TestIngestEndpoint(t *testing.T) {
	engine := newFakeEngine()
	engine.ingestErr["blank.pdf"] = fmt.Errorf("%w: blank.pdf", rag.ErrEmptyDocument)
	mux := apiMux(engine)

	body, contentType := multipartBody(t, map[string]string{
		"report.pdf": "%PDF report text",
		"blank.pdf":  "%PDF ",
		"notes.txt":  "plain text, not a pdf",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", w.Code, w.Body.String())
	}
	var resp ingestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Files) != 3 {
		t.Fatalf("files = %d, want 3", len(resp.Files))
	}

	byName := make(map[string]ingestFileResult)
	for _, f := range resp.Files {
		byName[f.Document] = f
	}
	if r := byName["report.pdf"]; r.Chunks != 3 || r.Error != "" {
		t.Errorf("report.pdf = %+v", r)
	}
	if r := byName["blank.pdf"]; r.Error != "no extractable text" {
		t.Errorf("blank.pdf = %+v", r)
	}
	if r := byName["notes.txt"]; r.Error != "not a readable PDF" {
		t.Errorf("notes.txt = %+v", r)
	}
	// One bad file must not block the good one.
	if _, ok := engine.ingested["report.pdf"]; !ok {
		t.Error("report.pdf was not ingested")
	}
}

func TestIngestEndpointNoFiles(t *testing.T) {
	mux := apiMux(newFakeEngine())

	body, contentType := multipartBody(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

func TestAskEndpoint(t *testing.T) {
	engine := newFakeEngine()
	engine.answer = &rag.Answer{
		Answer:   "Grounded answer.",
		Sources:  []rag.Source{{Document: "a.pdf", Page: 2}},
		Snippets: []string{"snippet"},
	}
	mux := apiMux(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/ask",
		strings.NewReader(`{"query":"what is X?","documents":["a.pdf"],"k":6}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", w.Code, w.Body.String())
	}
	if engine.lastQuery != "what is X?" || engine.lastK != 6 {
		t.Errorf("engine called with query=%q k=%d", engine.lastQuery, engine.lastK)
	}
	if len(engine.lastDocs) != 1 || engine.lastDocs[0] != "a.pdf" {
		t.Errorf("allowed docs = %v", engine.lastDocs)
	}

	var ans rag.Answer
	if err := json.NewDecoder(w.Body).Decode(&ans); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ans.Answer != "Grounded answer." {
		t.Errorf("answer = %q", ans.Answer)
	}
}

func TestAskEndpointValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"missing query", `{"k":3}`, "query is required"},
		{"negative k", `{"query":"x","k":-1}`, "k must not be negative"},
		{"bad json", `{"query"`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := apiMux(newFakeEngine())
			req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("code = %d, want 400", w.Code)
			}
			if tt.wantMsg != "" && !strings.Contains(w.Body.String(), tt.wantMsg) {
				t.Errorf("body = %q, want it to mention %q", w.Body.String(), tt.wantMsg)
			}
		})
	}
}

func TestAskEndpointZeroKAccepted(t *testing.T) {
	engine := newFakeEngine()
	engine.answer = &rag.Answer{Answer: "ok"}
	mux := apiMux(engine)

	// k of zero means "use the server default", not an invalid request.
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"query":"x","k":0}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if engine.lastK != 0 {
		t.Errorf("engine received k = %d, want 0", engine.lastK)
	}
}

func TestAskEndpointEngineError(t *testing.T) {
	engine := newFakeEngine()
	engine.askErr = errors.New("store closed")
	mux := apiMux(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"query":"x"}`))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", w.Code)
	}
}

func TestListDocumentsEndpoint(t *testing.T) {
	engine := newFakeEngine()
	engine.docs = []string{"a.pdf", "b.pdf"}
	mux := apiMux(engine)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	var resp map[string][]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := resp["documents"]; len(got) != 2 || got[0] != "a.pdf" {
		t.Errorf("documents = %v", got)
	}
}

func TestListDocumentsEndpointEmpty(t *testing.T) {
	mux := apiMux(newFakeEngine())

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	// An empty index serializes as [], not null.
	if body := strings.TrimSpace(w.Body.String()); body != `{"documents":[]}` {
		t.Errorf("body = %s", body)
	}
}

func TestDeleteDocumentEndpoint(t *testing.T) {
	engine := newFakeEngine()
	mux := apiMux(engine)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/a.pdf", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("code = %d, want 204", w.Code)
	}
	if len(engine.removed) != 1 || engine.removed[0] != "a.pdf" {
		t.Errorf("removed = %v", engine.removed)
	}
}

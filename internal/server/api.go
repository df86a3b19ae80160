package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/udayk/docqa/internal/chunker"
	"github.com/udayk/docqa/internal/pdfx"
	"github.com/udayk/docqa/internal/rag"
)

// maxUploadBytes bounds one ingest request body.
const maxUploadBytes = 64 << 20

// Engine is the slice of the pipeline the API needs.
type Engine interface {
	Ingest(ctx context.Context, document string, pages []chunker.Page) (int, error)
	Ask(ctx context.Context, query string, allowed []string, k int) (*rag.Answer, error)
	Remove(ctx context.Context, document string) error
	Documents(ctx context.Context) ([]string, error)
}

// APIServer serves the question-answering endpoints.
type APIServer struct {
	engine  Engine
	logger  *slog.Logger
	extract func(data []byte) ([]chunker.Page, error)
}

// NewAPIServer creates the API around an engine.
func NewAPIServer(engine Engine, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIServer{engine: engine, logger: logger, extract: pdfx.ExtractBytes}
}

// Register attaches the API routes to mux.
func (s *APIServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("DELETE /api/documents/{document}", s.handleDeleteDocument)
}

type ingestFileResult struct {
	Document string `json:"document"`
	Chunks   int    `json:"chunks,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ingestResponse struct {
	Files []ingestFileResult `json:"files"`
}

// handleIngest accepts one or more PDFs as multipart "files" parts. Each
// file is indexed independently: a document with no extractable text is
// reported in its slot without aborting the rest of the batch.
func (s *APIServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer r.MultipartForm.RemoveAll()

	parts := r.MultipartForm.File["files"]
	if len(parts) == 0 {
		parts = r.MultipartForm.File["file"]
	}
	if len(parts) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	resp := ingestResponse{Files: make([]ingestFileResult, 0, len(parts))}
	for _, part := range parts {
		result := ingestFileResult{Document: filepath.Base(part.Filename)}

		f, err := part.Open()
		if err != nil {
			result.Error = "unreadable upload"
			resp.Files = append(resp.Files, result)
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			result.Error = "unreadable upload"
			resp.Files = append(resp.Files, result)
			continue
		}

		pages, err := s.extract(data)
		if err != nil {
			s.logger.Warn("pdf extraction failed", "document", result.Document, "error", err)
			result.Error = "not a readable PDF"
			resp.Files = append(resp.Files, result)
			continue
		}

		n, err := s.engine.Ingest(r.Context(), result.Document, pages)
		switch {
		case errors.Is(err, rag.ErrEmptyDocument):
			result.Error = "no extractable text"
		case err != nil:
			s.logger.Error("ingest failed", "document", result.Document, "error", err)
			result.Error = "ingestion failed"
		default:
			result.Chunks = n
		}
		resp.Files = append(resp.Files, result)
	}

	writeJSON(w, http.StatusOK, resp)
}

type askRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents,omitempty"`
	K         int      `json:"k,omitempty"`
}

func (s *APIServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K < 0 {
		writeError(w, http.StatusBadRequest, "k must not be negative")
		return
	}

	answer, err := s.engine.Ask(r.Context(), req.Query, req.Documents, req.K)
	if err != nil {
		s.logger.Error("ask failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *APIServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.engine.Documents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "index unavailable")
		return
	}
	if docs == nil {
		docs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"documents": docs})
}

func (s *APIServer) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	document := r.PathValue("document")
	if document == "" {
		writeError(w, http.StatusBadRequest, "document is required")
		return
	}
	if err := s.engine.Remove(r.Context(), document); err != nil {
		s.logger.Error("delete failed", "document", document, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

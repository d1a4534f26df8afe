package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"policyreader/internal/aliases"
	"policyreader/internal/export"
	"policyreader/internal/models"
	"policyreader/internal/pipeline"
	"policyreader/internal/prompts"
	"policyreader/internal/providers"
	"policyreader/internal/schema"
	"policyreader/internal/util"

	"github.com/google/uuid"
)

type Documents interface {
	Create(ctx context.Context, d models.Document) (models.Document, error)
	Get(ctx context.Context, id string) (models.Document, error)
	List(ctx context.Context, status models.Status, limit int) ([]models.Document, error)
}

type Processor interface {
	Request(ctx context.Context, documentID string) (pipeline.Handle, error)
	Reset(ctx context.Context, documentID string) (models.Document, error)
}

// ProgressSource answers step-level progress for a running attempt.
type ProgressSource interface {
	Progress(ctx context.Context, job pipeline.Job) (models.Progress, error)
}

type Deps struct {
	Documents Documents
	Processor Processor
	Progress  ProgressSource
	Schema    *schema.Registry
	Aliases   *aliases.Dictionary
	Prompts   *prompts.Resolver
	Export    *export.Service
	Providers *providers.Manager
	UploadDir string
	Log       *slog.Logger
}

type Server struct {
	Deps
	now func() time.Time
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Server{Deps: d, now: time.Now}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /documents", s.handleListDocuments)
	mux.HandleFunc("POST /documents", s.handleCreateDocument)
	mux.HandleFunc("GET /documents/export.xlsx", s.handleExport)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("POST /documents/{id}/process", s.handleProcess)
	mux.HandleFunc("POST /documents/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /documents/{id}/progress", s.handleProgress)
	mux.HandleFunc("GET /categories", s.handleCategories)
	mux.HandleFunc("GET /categories/{category}/aliases", s.handleAliases)
	mux.HandleFunc("GET /categories/{category}/prompt", s.handlePrompt)
	mux.HandleFunc("POST /categories/{category}/schema-changed", s.handleSchemaChanged)
	mux.HandleFunc("GET /providers/health", s.handleProviderHealth)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status %q", status))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	docs, err := s.Documents.List(r.Context(), status, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleCreateDocument accepts either JSON naming an existing source file or
// a multipart upload of the PDF itself.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title      string `json:"title"`
		SourceFile string `json:"source_file"`
		Category   string `json:"category"`
		Owner      string `json:"owner"`
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
			return
		}
		_, fh, err := r.FormFile("file")
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("no file provided"))
			return
		}
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("only pdf files are accepted"))
			return
		}
		path, err := saveUploadedFile(s.UploadDir, fh)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		req.SourceFile = path
		req.Title = r.FormValue("title")
		if strings.TrimSpace(req.Title) == "" {
			req.Title = util.TitleFromPath(fh.Filename)
		}
		req.Category = r.FormValue("category")
		req.Owner = r.FormValue("owner")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}

	if c := strings.TrimSpace(req.Category); c != "" && s.Schema != nil {
		if _, err := s.Schema.FieldsOf(c); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
	}
	doc := models.NewDocument(uuid.NewString(), req.Owner, req.Title, req.SourceFile, req.Category, s.now().UTC())
	out, err := s.Documents.Create(r.Context(), doc)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	s.Log.Info("api.document.created", "document_id", out.ID, "category", out.Category)
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h, err := s.Processor.Request(r.Context(), id)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": id,
		"run_id":      h.ID(),
		"status":      string(models.StatusProcessing),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Processor.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	if doc.Status == models.StatusProcessing && s.Progress != nil {
		p, err := s.Progress.Progress(r.Context(), pipeline.Job{DocumentID: doc.ID, AttemptID: doc.AttemptID})
		if err == nil {
			writeJSON(w, http.StatusOK, p)
			return
		}
		s.Log.Warn("api.progress.query_failed", "document_id", doc.ID, "error", err)
	}
	// fall back to what the document itself records
	writeJSON(w, http.StatusOK, models.Progress{
		DocumentID: doc.ID,
		AttemptID:  doc.AttemptID,
		Step:       strings.ToLower(string(doc.Status)),
		Status:     string(doc.Status),
		Steps:      map[string]string{},
		Message:    doc.ErrorMessage,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid status %q", status))
		return
	}
	out, err := s.Export.DocumentsXLSX(r.Context(), status, 0)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="policy-documents.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"categories": s.Schema.Categories()})
}

func (s *Server) handleAliases(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	if _, err := s.Schema.FieldsOf(category); err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	m := s.Aliases.Get(r.Context(), category)
	writeJSON(w, http.StatusOK, map[string]any{
		"category":    m.Category,
		"fingerprint": m.Fingerprint,
		"built_at":    m.BuiltAt,
		"entries":     m.Entries,
	})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	t, source := s.Prompts.Template(r.Context(), category)
	writeJSON(w, http.StatusOK, map[string]any{
		"category":    category,
		"source":      source,
		"fingerprint": t.Fingerprint,
		"template":    t.Text(),
	})
}

// handleSchemaChanged rebuilds the alias map of category and drops its cached
// prompt so the next extraction sees the new fields.
func (s *Server) handleSchemaChanged(w http.ResponseWriter, r *http.Request) {
	category := r.PathValue("category")
	if _, err := s.Schema.FieldsOf(category); err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	m := s.Aliases.Invalidate(r.Context(), category)
	s.Prompts.Invalidate(r.Context(), category)
	s.Log.Info("api.schema_changed", "category", category, "aliases", m.Len())
	writeJSON(w, http.StatusOK, map[string]any{
		"category":    category,
		"aliases":     m.Len(),
		"fingerprint": m.Fingerprint,
	})
}

func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	health := s.Providers.Health(r.Context(), 20*time.Second)
	code := http.StatusOK
	healthy := 0
	for _, h := range health {
		if h.Healthy {
			healthy++
		}
	}
	if healthy == 0 {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"providers": health, "healthy": healthy})
}

func saveUploadedFile(dstDir string, fh *multipart.FileHeader) (string, error) {
	if err := util.EnsureDir(dstDir); err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
	}()
	if _, err := io.Copy(tmp, src); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	finalPath := filepath.Join(dstDir, uuid.NewString()[:8]+"-"+filepath.Base(fh.Filename))
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", fmt.Errorf("atomic move upload: %w", err)
	}
	return finalPath, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrAlreadyProcessing), errors.Is(err, util.ErrAlreadyCompleted):
		return http.StatusConflict
	case errors.Is(err, util.ErrMissingSourceFile), errors.Is(err, util.ErrMissingCategory),
		errors.Is(err, util.ErrSourceUnreadable), errors.Is(err, util.ErrNotConfigured),
		errors.Is(err, util.ErrUnknownCategory):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrPoolClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "PR-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusServiceUnavailable:
		return apiError{Code: "PR-API-5030", Message: "Processing capacity is exhausted. Retry shortly."}
	case status >= 500:
		switch {
		case strings.Contains(raw, "no such table"), strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{Code: "PR-DB-5001", Message: "Database schema is not initialized. Run migrations and retry."}
		case strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{Code: "PR-DB-5002", Message: "Database connection is unavailable. Check local services and retry."}
		default:
			return apiError{Code: "PR-API-5000", Message: "Internal server error. Please retry or check service logs."}
		}
	case status == http.StatusBadRequest:
		code = "PR-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "PR-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "PR-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusUnprocessableEntity:
		code = "PR-API-4022"
		msg = "Document cannot be processed."
	}

	// For 4xx, surface the rejection reasons the caller can act on.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case errors.Is(err, util.ErrAlreadyProcessing):
			msg = "Document is already processing."
		case errors.Is(err, util.ErrAlreadyCompleted):
			msg = "Document is completed. Reset it before processing again."
		case errors.Is(err, util.ErrMissingSourceFile):
			msg = "Document has no source file."
		case errors.Is(err, util.ErrMissingCategory):
			msg = "Document has no category."
		case errors.Is(err, util.ErrSourceUnreadable):
			msg = "Source file is not accessible."
		case errors.Is(err, util.ErrNotConfigured):
			msg = "LLM credentials are not configured."
		case errors.Is(err, util.ErrUnknownCategory):
			msg = "Unknown category."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		case strings.Contains(raw, "invalid status"):
			msg = "Unknown document status."
		case strings.Contains(raw, "no file provided"), strings.Contains(raw, "only pdf"):
			msg = "A PDF file is required."
		}
	}
	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

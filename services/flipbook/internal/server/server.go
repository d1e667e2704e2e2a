package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"flipbook/internal/util"
	"flipbook/pkg/domain"
	"flipbook/services/flipbook/internal/app"
)

// RateLimiter throttles uploads per client.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	UploadLimiter  RateLimiter
	TrustedProxies *util.TrustedProxies
	// LocalFilesDir serves stored blobs under /uploads/ when set.
	LocalFilesDir string
}

// Server exposes HTTP endpoints for the flipbook service.
type Server struct {
	app            *app.App
	uploadLimiter  RateLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
}

const assetPrefix = "/uploads/"

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	s := &Server{
		app:            cfg.App,
		uploadLimiter:  cfg.UploadLimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: cfg.App.MaxUploadBytes(),
	}
	s.routes(strings.TrimSpace(cfg.LocalFilesDir))
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("flipbook", util.WithSecurityHeaders(assetPrefix, util.WithCORS(s.mux))))
}

func (s *Server) routes(localFilesDir string) {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// admin
	s.mux.HandleFunc("/api/flipbooks", s.handleFlipbooks)
	s.mux.HandleFunc("/api/flipbooks/", s.handleFlipbookByID)

	// public viewer
	s.mux.HandleFunc("/api/public/flipbooks/", s.handlePublicFlipbook)

	if localFilesDir != "" {
		s.mux.Handle(assetPrefix, http.StripPrefix(strings.TrimSuffix(assetPrefix, "/"), http.FileServer(http.Dir(localFilesDir))))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFlipbooks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.handleList(w, r)
}

// /api/flipbooks/upload, /api/flipbooks/jobs/{jobId}, /api/flipbooks/{id}[/status|/process|/extract-text]
func (s *Server) handleFlipbookByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/flipbooks/"), "/")
	parts := strings.Split(path, "/")
	if parts[0] == "" || len(parts) > 2 {
		notFound(w, "not found")
		return
	}
	switch {
	case len(parts) == 1 && parts[0] == "upload":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleUpload(w, r)
		return
	case parts[0] == "jobs":
		if len(parts) != 2 || parts[1] == "" {
			notFound(w, "not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleJob(w, r, parts[1])
		return
	}

	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGet(w, r, id)
		case http.MethodPatch:
			s.handlePatch(w, r, id)
		case http.MethodDelete:
			s.handleDelete(w, r, id)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[1] {
	case "status":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleStatus(w, r, id)
	case "process":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleReprocess(w, r, id)
	case "extract-text":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleExtractText(w, r, id)
	default:
		notFound(w, "not found")
	}
}

type uploadResponse struct {
	Success          bool            `json:"success"`
	Document         uploadedSummary `json:"document"`
	JobID            string          `json:"job_id"`
	Message          string          `json:"message"`
	EstimatedSeconds int             `json:"estimated_seconds"`
}

type uploadedSummary struct {
	ID     string                `json:"id"`
	Slug   string                `json:"slug"`
	Title  string                `json:"title"`
	Status domain.DocumentStatus `json:"status"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.uploadLimiter != nil && !s.uploadLimiter.Allow(r.Context(), util.ClientIP(r, s.trustedProxies)) {
		if ra, ok := s.uploadLimiter.(interface{ RetryAfter() time.Duration }); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(ra.RetryAfter().Seconds())))
		}
		writeError(w, http.StatusTooManyRequests, "too many uploads, try again later")
		return
	}
	// multipart framing on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	res, err := s.app.UploadDocument(r.Context(), app.UploadRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		ProjectID:   r.FormValue("project_id"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{
		Success: true,
		Document: uploadedSummary{
			ID:     res.Document.ID,
			Slug:   res.Document.Slug,
			Title:  res.Document.Title,
			Status: res.Document.Status,
		},
		JobID:            res.Job.ID,
		Message:          "PDF uploaded, processing started",
		EstimatedSeconds: res.EstimatedSeconds,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	status, err := s.app.GetStatus(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePublicFlipbook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/public/flipbooks/"), "/")
	if slug == "" || strings.Contains(slug, "/") {
		notFound(w, "not found")
		return
	}
	doc, err := s.app.GetPublished(r.Context(), slug)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.DocumentFilter{}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := domain.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	docs, total, err := s.app.ListDocuments(r.Context(), filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := s.app.GetDocument(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type patchRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	ProjectID   *string `json:"project_id"`
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, id string) {
	var req patchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	update := domain.DocumentUpdate{
		Title:       req.Title,
		Description: req.Description,
		ProjectID:   req.ProjectID,
	}
	if req.Status != nil {
		status, ok := domain.ParseStatus(*req.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		update.Status = &status
	}
	doc, err := s.app.UpdateDocument(r.Context(), id, update)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.app.DeleteDocument(r.Context(), id); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.app.Reprocess(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleExtractText(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.app.ExtractText(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := s.app.GetJob(r.Context(), jobID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

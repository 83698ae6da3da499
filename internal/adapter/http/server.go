package http

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cwygoda/imgingest/internal/domain"
)

// OwnerHeader carries the submitting owner's identity.
const OwnerHeader = "X-Owner"

// maxRequestBytes bounds the JSON body of a submission.
const maxRequestBytes = 1 << 20

// Server is the HTTP adapter for job submission and status.
type Server struct {
	svc    *domain.JobService
	mux    *http.ServeMux
	server *http.Server
	log    logrus.FieldLogger
}

// Options configures optional routes.
type Options struct {
	// ObjectsDir, when set, is served read-only under /objects/ so that
	// filesystem-backed public URLs resolve.
	ObjectsDir string
}

// NewServer creates a new HTTP server.
func NewServer(svc *domain.JobService, addr string, log logrus.FieldLogger, opts Options) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		svc: svc,
		mux: http.NewServeMux(),
		log: log,
	}
	s.routes(opts)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(opts Options) {
	s.mux.HandleFunc("POST /jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("GET /jobs/{id}/images", s.handleListImages)
	s.mux.HandleFunc("GET /urls", s.handleListURLs)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if opts.ObjectsDir != "" {
		s.mux.Handle("GET /objects/", http.StripPrefix("/objects/", http.FileServer(filesOnly{root: http.Dir(opts.ObjectsDir)})))
	}
}

// filesOnly hides directories so stored keys cannot be listed.
type filesOnly struct {
	root http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil || info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

// createJobRequest is the request body for POST /jobs.
type createJobRequest struct {
	URLs []string `json:"urls"`
}

// jobResponse is the JSON response for job endpoints.
type jobResponse struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// imageResponse is the JSON form of one image outcome.
type imageResponse struct {
	Index         int    `json:"index"`
	OriginalURL   string `json:"original_url"`
	ResolvedURL   string `json:"resolved_url,omitempty"`
	PublicURL     string `json:"public_url,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	Format        string `json:"format,omitempty"`
	Width         *int   `json:"width,omitempty"`
	Height        *int   `json:"height,omitempty"`
	FileSizeBytes *int64 `json:"file_size_bytes,omitempty"`
	DPI           *int   `json:"dpi,omitempty"`
	Error         string `json:"error,omitempty"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job, err := s.svc.CreateJob(r.Context(), r.Header.Get(OwnerHeader), req.URLs)
	switch {
	case errors.Is(err, domain.ErrEmptyRequest), errors.Is(err, domain.ErrInvalidOwner):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.log.WithError(err).Error("create job")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusAccepted, jobToResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, err, "get job")
		return
	}
	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.svc.ListOutcomes(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, err, "list images")
		return
	}

	resp := make([]imageResponse, 0, len(outcomes))
	for _, o := range outcomes {
		resp = append(resp, outcomeToResponse(o))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	jobs, err := s.svc.ListJobs(r.Context(), owner)
	if err != nil {
		s.log.WithError(err).Error("list jobs")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		resp = append(resp, jobToResponse(&jobs[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListURLs(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	urls, err := s.svc.ListPublicURLs(r.Context(), owner)
	if err != nil {
		s.log.WithError(err).Error("list public urls")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if urls == nil {
		urls = []string{}
	}
	s.writeJSON(w, http.StatusOK, urls)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// owner reads the owner from the query string, falling back to the header.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		owner = strings.TrimSpace(r.Header.Get(OwnerHeader))
	}
	if owner == "" {
		s.writeError(w, http.StatusBadRequest, domain.ErrInvalidOwner.Error())
		return "", false
	}
	return owner, true
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, domain.ErrJobNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.log.WithError(err).Error(op)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:        job.ID,
		Owner:     job.Owner,
		Status:    string(job.Status),
		Total:     job.Total,
		Processed: job.Processed,
		Succeeded: job.Succeeded,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func outcomeToResponse(o domain.ImageOutcome) imageResponse {
	return imageResponse{
		Index:         o.ItemIndex,
		OriginalURL:   o.OriginalURL,
		ResolvedURL:   o.ResolvedURL,
		PublicURL:     o.PublicURL,
		ContentType:   o.ContentType,
		Format:        o.Format,
		Width:         o.Width,
		Height:        o.Height,
		FileSizeBytes: o.FileSizeBytes,
		DPI:           o.DPI,
		Error:         o.ErrorMessage,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

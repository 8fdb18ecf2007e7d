// Package api exposes the dashboard HTTP surface and the MCP tool server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/datamill/internal/ingest"
	"github.com/kalambet/datamill/internal/ml"
	"github.com/kalambet/datamill/internal/report"
	"github.com/kalambet/datamill/internal/storage"
	"github.com/kalambet/datamill/internal/worker"
)

const maxUploadSize = 10 << 20 // 10MB

// Ingestor stores uploaded bytes as a File + Document pair.
type Ingestor interface {
	Process(ctx context.Context, filename string, data []byte, sourceType string) (*ingest.Result, error)
}

type AppDeps struct {
	Store    *storage.Store
	Ingestor Ingestor
	Reporter *report.Reporter
	Trainer  *ml.Trainer
	Token    string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/files", handleUpload(deps))
		r.Get("/files", handleListFiles(deps))
		r.Get("/files/{id}", handleGetFile(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Get("/search", handleSearch(deps))
		r.Post("/crawl", handleEnqueueCrawl(deps))
		r.Post("/etl/run", handleEnqueueETL(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/quality", handleQuality(deps))
		r.Post("/ml/cluster", handleCluster(deps))
		r.Post("/ml/anomalies", handleAnomalies(deps))
		r.Post("/ml/sentiment", handleSentiment(deps))
	})

	return r
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "missing file field: %v", err)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		result, err := deps.Ingestor.Process(r.Context(), header.Filename, data, ingest.SourceUpload)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "processing_error", "processing %s: %v", header.Filename, err)
			return
		}

		writeJSON(w, http.StatusCreated, result)
	}
}

type fileResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	SourceType string    `json:"source_type"`
	UploadedAt time.Time `json:"uploaded_at"`
	Processed  bool      `json:"processed"`
}

func toFileResponse(f storage.File) fileResponse {
	return fileResponse{
		ID:         f.ID,
		Filename:   f.Filename,
		FileType:   f.FileType,
		FileSize:   f.FileSize,
		SourceType: f.SourceType,
		UploadedAt: f.UploadedAt,
		Processed:  f.Processed,
	}
}

func handleListFiles(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", s)
				return
			}
			limit = n
		}

		files, err := deps.Store.ListFiles(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing files: %v", err)
			return
		}

		out := make([]fileResponse, len(files))
		for i, f := range files {
			out[i] = toFileResponse(f)
		}
		writeJSON(w, http.StatusOK, map[string]any{"files": out})
	}
}

func handleGetFile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := deps.Store.GetFile(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "file not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading file: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toFileResponse(f))
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Store.GetDocument(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading document: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":             d.ID,
			"file_id":        d.FileID,
			"content_type":   d.ContentType,
			"extracted_text": d.ExtractedText,
			"word_count":     d.WordCount,
			"char_count":     d.CharCount,
			"processed_at":   d.ProcessedAt,
		})
	}
}

func handleSearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := 10
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit %q", s)
				return
			}
			limit = n
		}

		docs, err := deps.Store.SearchDocuments(query, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "searching documents: %v", err)
			return
		}

		type match struct {
			ID        string `json:"id"`
			FileID    string `json:"file_id"`
			Snippet   string `json:"snippet"`
			WordCount int    `json:"word_count"`
		}
		matches := make([]match, len(docs))
		for i, d := range docs {
			snippet := d.ExtractedText
			if len(snippet) > 200 {
				snippet = snippet[:200] + "..."
			}
			matches[i] = match{ID: d.ID, FileID: d.FileID, Snippet: snippet, WordCount: d.WordCount}
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": matches})
	}
}

func handleEnqueueCrawl(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload worker.CrawlPayload
		if err := decodeBody(r, &payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if payload.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
			return
		}
		enqueue(w, deps, worker.JobTypeCrawl, payload)
	}
}

func handleEnqueueETL(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload worker.ETLPayload
		if err := decodeBody(r, &payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if payload.BatchSize < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "batch_size must be positive")
			return
		}
		enqueue(w, deps, worker.JobTypeETL, payload)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":         job.ID,
			"type":       job.Type,
			"status":     job.Status,
			"attempts":   job.Attempts,
			"last_error": job.LastError,
			"created_at": job.CreatedAt,
			"updated_at": job.UpdatedAt,
		})
	}
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dash, err := deps.Reporter.Generate(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "generating dashboard: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, dash)
	}
}

func handleQuality(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overview, err := deps.Store.QualityOverview()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading quality overview: %v", err)
			return
		}

		grouped := make(map[string]map[string]int)
		for _, qc := range overview {
			if grouped[qc.CheckType] == nil {
				grouped[qc.CheckType] = make(map[string]int)
			}
			grouped[qc.CheckType][qc.Status] = qc.Count
		}
		writeJSON(w, http.StatusOK, map[string]any{"quality_overview": grouped})
	}
}

type clusterRequest struct {
	K     int `json:"k"`
	Limit int `json:"limit"`
}

func handleCluster(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req clusterRequest
		if err := decodeBody(r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.K == 0 {
			req.K = 5
		}

		texts, err := loadTexts(deps, req.Limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading documents: %v", err)
			return
		}

		result, err := deps.Trainer.TrainClustering(r.Context(), texts, req.K)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "training_error", "training clustering: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type corpusRequest struct {
	Limit int `json:"limit"`
}

func handleAnomalies(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req corpusRequest
		if err := decodeBody(r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		texts, err := loadTexts(deps, req.Limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading documents: %v", err)
			return
		}

		result, err := deps.Trainer.DetectAnomalies(texts)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "training_error", "detecting anomalies: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleSentiment(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req corpusRequest
		if err := decodeBody(r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		texts, err := loadTexts(deps, req.Limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading documents: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, deps.Trainer.ScoreSentiment(texts))
	}
}

func loadTexts(deps AppDeps, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	docs, err := deps.Store.ListDocumentTexts(limit)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	return texts, nil
}

func enqueue(w http.ResponseWriter, deps AppDeps, jobType string, payload any) {
	jobID := uuid.New().String()
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "marshalling payload: %v", err)
		return
	}

	err = deps.Store.EnqueueJob(storage.Job{
		ID:          jobID,
		Type:        jobType,
		PayloadJSON: string(data),
	})
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "enqueueing job: %v", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "pending"})
}

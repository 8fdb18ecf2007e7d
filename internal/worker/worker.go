// Package worker executes crawl and ETL jobs from the SQLite job queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/datamill/internal/storage"
)

// Job types the worker claims.
const (
	JobTypeCrawl = "crawl"
	JobTypeETL   = "etl_run"
)

// CrawlPayload is the payload of a crawl job.
type CrawlPayload struct {
	URL            string   `json:"url"`
	MaxPages       int      `json:"max_pages"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
}

// ETLPayload is the payload of an etl_run job.
type ETLPayload struct {
	BatchSize int `json:"batch_size"`
}

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// CrawlRunner runs a website crawl.
type CrawlRunner interface {
	Crawl(ctx context.Context, baseURL string, maxPages int, allowedDomains []string) (int, error)
}

// PipelineRunner runs one ETL batch pass.
type PipelineRunner interface {
	Run(ctx context.Context, batchSize int) error
}

// Worker processes crawl and etl_run jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	crawler  CrawlRunner
	pipeline PipelineRunner
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, crawler CrawlRunner, pipeline PipelineRunner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		crawler:  crawler,
		pipeline: pipeline,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeCrawl, JobTypeETL})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobTypeCrawl:
		var payload CrawlPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing crawl payload: %w", err)
		}
		if payload.URL == "" {
			return fmt.Errorf("crawl payload has no url")
		}
		if payload.MaxPages <= 0 {
			payload.MaxPages = 50
		}
		pages, err := w.crawler.Crawl(ctx, payload.URL, payload.MaxPages, payload.AllowedDomains)
		if err != nil {
			return fmt.Errorf("crawling %s: %w", payload.URL, err)
		}
		w.logger.Info("crawl job done", "job_id", job.ID, "url", payload.URL, "pages", pages)
		return nil

	case JobTypeETL:
		var payload ETLPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing etl payload: %w", err)
		}
		if payload.BatchSize <= 0 {
			payload.BatchSize = 100
		}
		if err := w.pipeline.Run(ctx, payload.BatchSize); err != nil {
			return fmt.Errorf("running pipeline: %w", err)
		}
		w.logger.Info("etl job done", "job_id", job.ID, "batch_size", payload.BatchSize)
		return nil

	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// Package etl implements the batch pipeline: extract unanalyzed documents,
// transform them through the quality checker and analytics, and load the
// results back into the store.
package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/datamill/internal/analytics"
	"github.com/kalambet/datamill/internal/quality"
	"github.com/kalambet/datamill/internal/storage"
)

// AnalysisTypeBasic tags the analytics rows this pipeline produces.
const AnalysisTypeBasic = "basic_analytics"

// Store is the persistence surface the pipeline needs.
type Store interface {
	ListPendingAnalytics(batchSize int) ([]storage.PendingRecord, error)
	SaveAnalytics(res storage.AnalyticsResult, metrics []storage.QualityMetric) error
}

// Pipeline runs one extract-transform-load pass per invocation. It holds no
// state between runs; rerunning never reprocesses a document that already has
// an analytics result, because the extraction join excludes them.
type Pipeline struct {
	store   Store
	checker *quality.Checker
	logger  *slog.Logger
}

func NewPipeline(store Store, checker *quality.Checker) *Pipeline {
	return &Pipeline{
		store:   store,
		checker: checker,
		logger:  slog.Default(),
	}
}

// results is the payload stored in analytics_results.results.
type results struct {
	analytics.Summary
	Features analytics.Features `json:"features"`
}

// record is one document surviving the transform phase.
type record struct {
	pending storage.PendingRecord
	summary analytics.Summary
	report  quality.Report
	payload string
}

// Run executes one batch pass. An extraction failure aborts the run and is
// returned to the caller; transform and load failures on individual records
// are logged and skipped, so the run can complete partially. Callers that
// need to detect partial completion must inspect row counts.
func (p *Pipeline) Run(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.logger.Debug("pipeline extracting", "batch_size", batchSize)
	pending, err := p.store.ListPendingAnalytics(batchSize)
	if err != nil {
		return fmt.Errorf("extracting unprocessed records: %w", err)
	}
	if len(pending) == 0 {
		p.logger.Info("no unprocessed records found")
		return nil
	}

	p.logger.Debug("pipeline transforming", "records", len(pending))
	records := p.transform(pending)

	p.logger.Debug("pipeline loading", "records", len(records))
	loaded := p.load(records)

	p.logger.Info("pipeline completed", "extracted", len(pending), "transformed", len(records), "loaded", loaded)
	return nil
}

func (p *Pipeline) transform(pending []storage.PendingRecord) []record {
	records := make([]record, 0, len(pending))
	for _, pr := range pending {
		report := p.checker.Check(quality.Input{
			Text:        pr.ExtractedText,
			FileType:    pr.FileType,
			ContentType: pr.ContentType,
		})
		if report.Failed() {
			p.logger.Warn("quality check degraded, skipping record", "file_id", pr.FileID, "document_id", pr.DocumentID)
			continue
		}

		summary := analytics.Analyze(pr.ExtractedText)
		payload, err := json.Marshal(results{
			Summary:  summary,
			Features: analytics.ExtractFeatures(pr.ExtractedText),
		})
		if err != nil {
			p.logger.Warn("marshalling analytics, skipping record", "file_id", pr.FileID, "error", err)
			continue
		}

		records = append(records, record{
			pending: pr,
			summary: summary,
			report:  report,
			payload: string(payload),
		})
	}
	return records
}

// load writes one analytics result and five quality metric rows per record.
// Each record is its own transaction; a fault partway through leaves earlier
// records loaded, and the skipped ones are rediscovered by the next extract.
func (p *Pipeline) load(records []record) int {
	loaded := 0
	for _, r := range records {
		now := time.Now().UTC()

		res := storage.AnalyticsResult{
			ID:              uuid.New().String(),
			DocumentID:      r.pending.DocumentID,
			AnalysisType:    AnalysisTypeBasic,
			ResultsJSON:     r.payload,
			Insights:        fmt.Sprintf("Processed file with %d words", r.summary.WordCount),
			ConfidenceScore: r.summary.SentimentScore,
			CreatedAt:       now,
		}

		metrics := make([]storage.QualityMetric, 0, len(r.report))
		for check, result := range r.report {
			metrics = append(metrics, storage.QualityMetric{
				ID:         uuid.New().String(),
				FileID:     r.pending.FileID,
				CheckType:  string(check),
				CheckValue: result.Value,
				Status:     string(result.Status),
				CheckedAt:  now,
			})
		}

		if err := p.store.SaveAnalytics(res, metrics); err != nil {
			p.logger.Warn("loading analytics, skipping record", "file_id", r.pending.FileID, "document_id", r.pending.DocumentID, "error", err)
			continue
		}
		loaded++
	}
	return loaded
}

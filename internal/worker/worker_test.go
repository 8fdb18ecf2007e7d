package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/datamill/internal/storage"
)

type mockCrawler struct {
	crawlFn func(ctx context.Context, baseURL string, maxPages int, allowedDomains []string) (int, error)
	calls   int
}

func (m *mockCrawler) Crawl(ctx context.Context, baseURL string, maxPages int, allowedDomains []string) (int, error) {
	m.calls++
	if m.crawlFn != nil {
		return m.crawlFn(ctx, baseURL, maxPages, allowedDomains)
	}
	return 1, nil
}

type mockPipeline struct {
	runFn func(ctx context.Context, batchSize int) error
	calls int
	batch int
}

func (m *mockPipeline) Run(ctx context.Context, batchSize int) error {
	m.calls++
	m.batch = batchSize
	if m.runFn != nil {
		return m.runFn(ctx, batchSize)
	}
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueue(t *testing.T, store *storage.Store, id, jobType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshalling payload: %v", err)
	}
	if err := store.EnqueueJob(storage.Job{ID: id, Type: jobType, PayloadJSON: string(data)}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

func TestRunOnceNoJobs(t *testing.T) {
	w := NewWorker(openTestStore(t), &mockCrawler{}, &mockPipeline{}, 0)
	did, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if did {
		t.Error("RunOnce = true, want false with empty queue")
	}
}

func TestRunOnceProcessesETLJob(t *testing.T) {
	store := openTestStore(t)
	enqueue(t, store, "job-1", JobTypeETL, ETLPayload{BatchSize: 25})

	pipeline := &mockPipeline{}
	w := NewWorker(store, &mockCrawler{}, pipeline, 0)

	did, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !did {
		t.Fatal("RunOnce = false, want true")
	}
	if pipeline.calls != 1 || pipeline.batch != 25 {
		t.Errorf("pipeline calls = %d batch = %d, want 1 and 25", pipeline.calls, pipeline.batch)
	}

	job, err := store.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("job status = %q, want completed", job.Status)
	}
}

func TestRunOnceDefaultsBatchSize(t *testing.T) {
	store := openTestStore(t)
	enqueue(t, store, "job-1", JobTypeETL, ETLPayload{})

	pipeline := &mockPipeline{}
	w := NewWorker(store, &mockCrawler{}, pipeline, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if pipeline.batch != 100 {
		t.Errorf("batch = %d, want default 100", pipeline.batch)
	}
}

func TestRunOnceProcessesCrawlJob(t *testing.T) {
	store := openTestStore(t)
	enqueue(t, store, "job-1", JobTypeCrawl, CrawlPayload{URL: "https://example.invalid", MaxPages: 5})

	var gotURL string
	var gotMax int
	crawler := &mockCrawler{crawlFn: func(_ context.Context, baseURL string, maxPages int, _ []string) (int, error) {
		gotURL, gotMax = baseURL, maxPages
		return 5, nil
	}}
	w := NewWorker(store, crawler, &mockPipeline{}, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if gotURL != "https://example.invalid" || gotMax != 5 {
		t.Errorf("crawl called with (%q, %d), want (https://example.invalid, 5)", gotURL, gotMax)
	}
}

func TestRunOnceFailsJobOnError(t *testing.T) {
	store := openTestStore(t)
	enqueue(t, store, "job-1", JobTypeCrawl, CrawlPayload{URL: "https://example.invalid"})

	crawler := &mockCrawler{crawlFn: func(context.Context, string, int, []string) (int, error) {
		return 0, errors.New("network down")
	}}
	w := NewWorker(store, crawler, &mockPipeline{}, 0)

	did, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !did {
		t.Fatal("RunOnce = false, want true (failure still counts as processed)")
	}

	job, err := store.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "pending" {
		t.Errorf("job status = %q, want pending (retry with backoff)", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", job.Attempts)
	}
	if job.RunAfter.Before(time.Now().UTC().Add(time.Second)) {
		t.Error("run_after not pushed into the future")
	}
}

func TestRunOnceMissingURLFailsJob(t *testing.T) {
	store := openTestStore(t)
	enqueue(t, store, "job-1", JobTypeCrawl, CrawlPayload{})

	crawler := &mockCrawler{}
	w := NewWorker(store, crawler, &mockPipeline{}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if crawler.calls != 0 {
		t.Error("crawler invoked despite missing url")
	}
}

func TestRunOnceUnknownJobTypeIgnored(t *testing.T) {
	store := openTestStore(t)
	enqueue(t, store, "job-1", "reindex", map[string]string{})

	w := NewWorker(store, &mockCrawler{}, &mockPipeline{}, 0)
	did, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if did {
		t.Error("RunOnce = true, want false (unknown types are not claimed)")
	}
}

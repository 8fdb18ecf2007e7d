package etl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/datamill/internal/quality"
	"github.com/kalambet/datamill/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedDocument inserts a processed file and its extracted document.
func seedDocument(t *testing.T, store *storage.Store, text string) (fileID, docID string) {
	t.Helper()
	fileID = uuid.New().String()
	docID = uuid.New().String()
	now := time.Now().UTC()

	err := store.SaveFile(storage.File{
		ID:         fileID,
		Filename:   "doc.txt",
		FileType:   "text",
		FileSize:   int64(len(text)),
		SourceType: "upload",
		Content:    []byte(text),
		UploadedAt: now,
		Processed:  true,
	})
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	err = store.SaveDocument(storage.Document{
		ID:            docID,
		FileID:        fileID,
		ContentType:   "text",
		ExtractedText: text,
		WordCount:     len(text),
		CharCount:     len(text),
		ProcessedAt:   now,
	})
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	return fileID, docID
}

func TestRunEndToEnd(t *testing.T) {
	store := openTestStore(t)
	seedDocument(t, store, "good good great")
	_, negDoc := seedDocument(t, store, "bad bad terrible")
	seedDocument(t, store, "the quick fox")

	p := NewPipeline(store, quality.NewChecker())
	if err := p.Run(context.Background(), 10); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results, err := store.CountAnalyticsResults()
	if err != nil {
		t.Fatalf("CountAnalyticsResults: %v", err)
	}
	if results != 3 {
		t.Errorf("analytics results = %d, want 3", results)
	}

	metrics, err := store.CountQualityMetrics()
	if err != nil {
		t.Fatalf("CountQualityMetrics: %v", err)
	}
	if metrics != 15 {
		t.Errorf("quality metrics = %d, want 15 (3 documents x 5 checks)", metrics)
	}

	neg, err := store.GetAnalyticsForDocument(negDoc)
	if err != nil {
		t.Fatalf("GetAnalyticsForDocument: %v", err)
	}
	if neg.ConfidenceScore >= 0 {
		t.Errorf("negative document confidence = %v, want < 0", neg.ConfidenceScore)
	}
	if neg.Insights != "Processed file with 3 words" {
		t.Errorf("insights = %q", neg.Insights)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	seedDocument(t, store, "one document to analyze exactly once")

	p := NewPipeline(store, quality.NewChecker())
	if err := p.Run(context.Background(), 10); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first, err := store.CountAnalyticsResults()
	if err != nil {
		t.Fatalf("CountAnalyticsResults: %v", err)
	}

	if err := p.Run(context.Background(), 10); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	second, err := store.CountAnalyticsResults()
	if err != nil {
		t.Fatalf("CountAnalyticsResults: %v", err)
	}

	if first != 1 || second != 1 {
		t.Errorf("analytics counts = %d then %d, want 1 and 1", first, second)
	}
}

func TestRunRespectsBatchSize(t *testing.T) {
	store := openTestStore(t)
	for i := 0; i < 5; i++ {
		seedDocument(t, store, fmt.Sprintf("document number %d content", i))
	}

	p := NewPipeline(store, quality.NewChecker())
	if err := p.Run(context.Background(), 2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	n, err := store.CountAnalyticsResults()
	if err != nil {
		t.Fatalf("CountAnalyticsResults: %v", err)
	}
	if n != 2 {
		t.Errorf("analytics results = %d, want 2", n)
	}
}

func TestRunSkipsUnprocessedFiles(t *testing.T) {
	store := openTestStore(t)
	fileID := uuid.New().String()
	now := time.Now().UTC()
	if err := store.SaveFile(storage.File{ID: fileID, Filename: "raw.bin", UploadedAt: now}); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if err := store.SaveDocument(storage.Document{ID: uuid.New().String(), FileID: fileID, ExtractedText: "text", ProcessedAt: now}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	p := NewPipeline(store, quality.NewChecker())
	if err := p.Run(context.Background(), 10); err != nil {
		t.Fatalf("Run: %v", err)
	}

	n, err := store.CountAnalyticsResults()
	if err != nil {
		t.Fatalf("CountAnalyticsResults: %v", err)
	}
	if n != 0 {
		t.Errorf("analytics results = %d, want 0 for unprocessed file", n)
	}
}

func TestRunRejectsNonPositiveBatchSize(t *testing.T) {
	p := NewPipeline(openTestStore(t), quality.NewChecker())
	if err := p.Run(context.Background(), 0); err == nil {
		t.Error("Run(0) returned nil, want error")
	}
	if err := p.Run(context.Background(), -1); err == nil {
		t.Error("Run(-1) returned nil, want error")
	}
}

// mockStore forces extraction and load failures.
type mockStore struct {
	pending   []storage.PendingRecord
	listErr   error
	saveErr   error
	saveCalls int
}

func (m *mockStore) ListPendingAnalytics(batchSize int) ([]storage.PendingRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if len(m.pending) > batchSize {
		return m.pending[:batchSize], nil
	}
	return m.pending, nil
}

func (m *mockStore) SaveAnalytics(res storage.AnalyticsResult, metrics []storage.QualityMetric) error {
	m.saveCalls++
	return m.saveErr
}

func TestRunExtractionFailureIsFatal(t *testing.T) {
	store := &mockStore{listErr: errors.New("store unreachable")}
	p := NewPipeline(store, quality.NewChecker())
	if err := p.Run(context.Background(), 10); err == nil {
		t.Fatal("Run returned nil, want extraction error")
	}
}

func TestRunLoadFailureIsNonFatal(t *testing.T) {
	store := &mockStore{
		pending: []storage.PendingRecord{
			{FileID: "f1", DocumentID: "d1", FileType: "text", ContentType: "text", ExtractedText: "some words"},
			{FileID: "f2", DocumentID: "d2", FileType: "text", ContentType: "text", ExtractedText: "other words"},
		},
		saveErr: errors.New("disk full"),
	}

	p := NewPipeline(store, quality.NewChecker())
	if err := p.Run(context.Background(), 10); err != nil {
		t.Fatalf("Run returned %v, want nil (load errors are per-record)", err)
	}
	if store.saveCalls != 2 {
		t.Errorf("SaveAnalytics called %d times, want 2 (each record attempted)", store.saveCalls)
	}
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPipeline(&mockStore{}, quality.NewChecker())
	if err := p.Run(ctx, 10); !errors.Is(err, context.Canceled) {
		t.Errorf("Run with cancelled ctx = %v, want context.Canceled", err)
	}
}

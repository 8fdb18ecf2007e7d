package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/datamill/internal/etl"
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

func seedAnalyzedDocument(t *testing.T, store *storage.Store, text string) {
	t.Helper()
	fileID := uuid.New().String()
	docID := uuid.New().String()
	now := time.Now().UTC()

	if err := store.SaveFile(storage.File{ID: fileID, Filename: "f.txt", FileType: "text", UploadedAt: now, Processed: true}); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if err := store.SaveDocument(storage.Document{ID: docID, FileID: fileID, ContentType: "text", ExtractedText: text, ProcessedAt: now}); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	p := etl.NewPipeline(store, quality.NewChecker())
	if err := p.Run(context.Background(), 10); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestGenerate(t *testing.T) {
	store := openTestStore(t)
	seedAnalyzedDocument(t, store, "good good great words beyond the lexicon")

	dash, err := NewReporter(store).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if dash.ProcessingStats.TotalFiles != 1 || dash.ProcessingStats.ProcessedFiles != 1 || dash.ProcessingStats.AnalyzedFiles != 1 {
		t.Errorf("processing stats = %+v, want 1/1/1", dash.ProcessingStats)
	}
	if dash.ProcessingStats.ProcessingRate != 100 {
		t.Errorf("processing rate = %v, want 100", dash.ProcessingStats.ProcessingRate)
	}

	if len(dash.FileTypeDistribution) != 1 || dash.FileTypeDistribution[0].FileType != "text" {
		t.Errorf("file type distribution = %+v", dash.FileTypeDistribution)
	}

	if got := dash.QualityOverview["accuracy"]["good"]; got != 1 {
		t.Errorf("quality overview accuracy/good = %d, want 1", got)
	}
	if len(dash.QualityOverview) != 5 {
		t.Errorf("quality overview has %d checks, want 5", len(dash.QualityOverview))
	}

	if dash.Insights.AvgWordCount != 7 {
		t.Errorf("avg word count = %v, want 7", dash.Insights.AvgWordCount)
	}
	if dash.Insights.AvgSentiment <= 0 {
		t.Errorf("avg sentiment = %v, want > 0", dash.Insights.AvgSentiment)
	}
	if len(dash.Insights.RecentActivity) != 1 {
		t.Errorf("recent activity = %+v, want one day", dash.Insights.RecentActivity)
	}
}

func TestGenerateEmptyStore(t *testing.T) {
	dash, err := NewReporter(openTestStore(t)).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if dash.ProcessingStats.TotalFiles != 0 || dash.ProcessingStats.ProcessingRate != 0 {
		t.Errorf("processing stats = %+v, want zeros", dash.ProcessingStats)
	}
	if len(dash.QualityOverview) != 0 {
		t.Errorf("quality overview = %+v, want empty", dash.QualityOverview)
	}
}

// failingStore errors on one aggregate.
type failingStore struct {
	*storage.Store
}

func (f *failingStore) QualityOverview() ([]storage.QualityCount, error) {
	return nil, errors.New("aggregate failed")
}

func TestGeneratePropagatesErrors(t *testing.T) {
	store := openTestStore(t)
	if _, err := NewReporter(&failingStore{store}).Generate(context.Background()); err == nil {
		t.Error("Generate returned nil, want error from failing aggregate")
	}
}

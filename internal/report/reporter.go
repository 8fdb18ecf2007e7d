// Package report assembles the dashboard aggregates.
package report

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/datamill/internal/storage"
)

// Store is the aggregate-query surface reporting needs.
type Store interface {
	FileTypeDistribution() ([]storage.TypeCount, error)
	GetProcessingStats() (storage.ProcessingStats, error)
	QualityOverview() ([]storage.QualityCount, error)
	GetAnalyticsAverages() (storage.AnalyticsAverages, error)
	RecentActivity(days int) ([]storage.DayCount, error)
}

// Dashboard is the full analytics dashboard payload.
type Dashboard struct {
	FileTypeDistribution []storage.TypeCount       `json:"file_type_distribution"`
	ProcessingStats      ProcessingStats           `json:"processing_stats"`
	QualityOverview      map[string]map[string]int `json:"quality_overview"`
	Insights             Insights                  `json:"analytics_insights"`
}

// ProcessingStats extends the raw counts with a processing rate percentage.
type ProcessingStats struct {
	TotalFiles     int     `json:"total_files"`
	ProcessedFiles int     `json:"processed_files"`
	AnalyzedFiles  int     `json:"analyzed_files"`
	ProcessingRate float64 `json:"processing_rate"`
}

// Insights holds corpus-wide averages and recent activity.
type Insights struct {
	AvgWordCount   float64           `json:"avg_word_count"`
	AvgSentiment   float64           `json:"avg_sentiment"`
	AvgConfidence  float64           `json:"avg_confidence"`
	RecentActivity []storage.DayCount `json:"recent_activity"`
}

// Reporter computes dashboard data from the store.
type Reporter struct {
	store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{store: store}
}

// Generate runs the four dashboard aggregates concurrently and assembles
// the result.
func (r *Reporter) Generate(ctx context.Context) (*Dashboard, error) {
	var (
		distribution []storage.TypeCount
		stats        storage.ProcessingStats
		overview     []storage.QualityCount
		averages     storage.AnalyticsAverages
		activity     []storage.DayCount
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		distribution, err = r.store.FileTypeDistribution()
		return err
	})
	g.Go(func() (err error) {
		stats, err = r.store.GetProcessingStats()
		return err
	})
	g.Go(func() (err error) {
		overview, err = r.store.QualityOverview()
		return err
	})
	g.Go(func() (err error) {
		if averages, err = r.store.GetAnalyticsAverages(); err != nil {
			return err
		}
		activity, err = r.store.RecentActivity(7)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("generating dashboard: %w", err)
	}

	rate := 0.0
	if stats.TotalFiles > 0 {
		rate = float64(stats.ProcessedFiles) / float64(stats.TotalFiles) * 100
	}

	quality := make(map[string]map[string]int)
	for _, qc := range overview {
		if quality[qc.CheckType] == nil {
			quality[qc.CheckType] = make(map[string]int)
		}
		quality[qc.CheckType][qc.Status] = qc.Count
	}

	return &Dashboard{
		FileTypeDistribution: distribution,
		ProcessingStats: ProcessingStats{
			TotalFiles:     stats.TotalFiles,
			ProcessedFiles: stats.ProcessedFiles,
			AnalyzedFiles:  stats.AnalyzedFiles,
			ProcessingRate: rate,
		},
		QualityOverview: quality,
		Insights: Insights{
			AvgWordCount:   averages.AvgWordCount,
			AvgSentiment:   averages.AvgSentiment,
			AvgConfidence:  averages.AvgConfidence,
			RecentActivity: activity,
		},
	}, nil
}

package main

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file for ingestion",
	Long: `Upload a file for ingestion.

Examples:
  datamill upload ./notes.txt
  datamill upload ./report.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.upload(cmd.Context(), args[0], data)
		if err != nil {
			return err
		}

		var result struct {
			FileID     string `json:"file_id"`
			DocumentID string `json:"document_id"`
			WordCount  int    `json:"word_count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Ingested %s (file %s, %d words)", args[0], result.FileID, result.WordCount)
		return nil
	},
}

// --- crawl ---

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Queue a website crawl",
	Long: `Queue a website crawl.

Examples:
  datamill crawl https://example.com --max-pages 20
  datamill crawl https://blog.example.com --domains blog.example.com,example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := url.ParseRequestURI(args[0]); err != nil {
			return fmt.Errorf("invalid url %q: %w", args[0], err)
		}

		maxPages, _ := cmd.Flags().GetInt("max-pages")
		domainsStr, _ := cmd.Flags().GetString("domains")

		req := map[string]any{"url": args[0]}
		if maxPages > 0 {
			req["max_pages"] = maxPages
		}
		if domainsStr != "" {
			domains := strings.Split(domainsStr, ",")
			for i := range domains {
				domains[i] = strings.TrimSpace(domains[i])
			}
			req["allowed_domains"] = domains
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/crawl", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued crawl job %s", result["job_id"])
		printStep("Track it with: datamill status, or GET /jobs/%s", result["job_id"])
		return nil
	},
}

// --- etl ---

var etlCmd = &cobra.Command{
	Use:   "etl",
	Short: "Run the analytics pipeline",
}

var etlRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Queue an analytics pipeline run over unanalyzed documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		batchSize, _ := cmd.Flags().GetInt("batch-size")

		req := map[string]any{}
		if batchSize > 0 {
			req["batch_size"] = batchSize
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/etl/run", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued pipeline run %s", result["job_id"])
		return nil
	},
}

// --- quality ---

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Show quality check counts by check type and status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/quality")
		if err != nil {
			return err
		}

		var result struct {
			QualityOverview map[string]map[string]int `json:"quality_overview"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.QualityOverview) == 0 {
			printWarning("No quality metrics yet — run the pipeline first: datamill etl run")
			return nil
		}

		for _, check := range []string{"completeness", "validity", "consistency", "uniqueness", "accuracy"} {
			statuses, ok := result.QualityOverview[check]
			if !ok {
				continue
			}
			var parts []string
			for _, status := range []string{"good", "fair", "poor", "failed"} {
				if n := statuses[status]; n > 0 {
					parts = append(parts, fmt.Sprintf("%d %s", n, status))
				}
			}
			printStatus(check, "%s", strings.Join(parts, ", "))
		}
		return nil
	},
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the analytics dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var dash struct {
			FileTypeDistribution []struct {
				FileType string `json:"file_type"`
				Count    int    `json:"count"`
			} `json:"file_type_distribution"`
			ProcessingStats struct {
				TotalFiles     int     `json:"total_files"`
				ProcessedFiles int     `json:"processed_files"`
				AnalyzedFiles  int     `json:"analyzed_files"`
				ProcessingRate float64 `json:"processing_rate"`
			} `json:"processing_stats"`
			Insights struct {
				AvgWordCount  float64 `json:"avg_word_count"`
				AvgSentiment  float64 `json:"avg_sentiment"`
				AvgConfidence float64 `json:"avg_confidence"`
			} `json:"analytics_insights"`
		}
		if err := decodeJSON(resp, &dash); err != nil {
			return err
		}

		printStatus("Files", "%d total, %d processed, %d analyzed",
			dash.ProcessingStats.TotalFiles, dash.ProcessingStats.ProcessedFiles, dash.ProcessingStats.AnalyzedFiles)
		printStatus("Processing rate", "%.1f%%", dash.ProcessingStats.ProcessingRate)
		for _, tc := range dash.FileTypeDistribution {
			printStatus(tc.FileType, "%d", tc.Count)
		}
		printStatus("Avg word count", "%.1f", dash.Insights.AvgWordCount)
		printStatus("Avg sentiment", "%.3f", dash.Insights.AvgSentiment)
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search extracted document text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/search?q=%s&limit=%d", url.QueryEscape(args[0]), limit))
		if err != nil {
			return err
		}

		var result struct {
			Results []struct {
				ID        string `json:"id"`
				Snippet   string `json:"snippet"`
				WordCount int    `json:"word_count"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Results) == 0 {
			printWarning("No documents match %q", args[0])
			return nil
		}
		for _, doc := range result.Results {
			printStep("%s (%d words)", doc.ID, doc.WordCount)
			fmt.Fprintf(os.Stderr, "    %s\n", doc.Snippet)
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().Int("max-pages", 0, "maximum pages to crawl (default 50)")
	crawlCmd.Flags().String("domains", "", "comma-separated allowed domains (default: the start host)")

	etlRunCmd.Flags().Int("batch-size", 0, "documents per run (default 100)")
	etlCmd.AddCommand(etlRunCmd)

	searchCmd.Flags().Int("limit", 10, "maximum results")
}

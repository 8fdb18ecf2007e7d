package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// File is one ingested file: raw content plus metadata. Immutable after
// creation except for the Processed flag, which flips once extraction succeeds.
type File struct {
	ID         string
	Filename   string
	FileType   string
	FileSize   int64
	SourceType string // "upload" or "web_crawl"
	Content    []byte
	Metadata   string // JSON object stored as text
	UploadedAt time.Time
	Processed  bool
}

// Document is the plain text extracted from a File, with basic counts.
// Created by extraction, never mutated.
type Document struct {
	ID            string
	FileID        string
	ContentType   string
	ExtractedText string
	WordCount     int
	CharCount     int
	QualityScore  float64
	ProcessedAt   time.Time
}

// QualityMetric is one scored quality dimension for a File. Append-only;
// each ETL pass writes one row per check.
type QualityMetric struct {
	ID         string
	FileID     string
	CheckType  string
	CheckValue float64
	Status     string
	CheckedAt  time.Time
}

// AnalyticsResult is the analytics summary for a Document. At most one row
// exists per document; the schema enforces this with a unique index.
type AnalyticsResult struct {
	ID              string
	DocumentID      string
	AnalysisType    string
	ResultsJSON     string
	Insights        string
	ConfidenceScore float64
	CreatedAt       time.Time
}

// PendingRecord is one row of the ETL extraction join: a processed file and
// its document that has no analytics result yet.
type PendingRecord struct {
	FileID        string
	Filename      string
	FileType      string
	Metadata      string
	DocumentID    string
	ContentType   string
	ExtractedText string
}

// DocumentText is a projection used by ML training.
type DocumentText struct {
	ID   string
	Text string
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// TypeCount is one bucket of the file-type distribution.
type TypeCount struct {
	FileType string `json:"file_type"`
	Count    int    `json:"count"`
}

// QualityCount is one (check, status) bucket of the quality overview.
type QualityCount struct {
	CheckType string
	Status    string
	Count     int
}

// DayCount is analytics activity for one calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ProcessingStats summarizes ingestion and analysis progress.
type ProcessingStats struct {
	TotalFiles     int
	ProcessedFiles int
	AnalyzedFiles  int
}

// AnalyticsAverages holds corpus-wide averages over analytics results.
type AnalyticsAverages struct {
	AvgWordCount  float64
	AvgSentiment  float64
	AvgConfidence float64
}

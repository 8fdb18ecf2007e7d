package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for files, documents, quality
// metrics, analytics results, and the job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "datamill.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for reporting queries and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Files ---

func (s *Store) SaveFile(f File) error {
	metadata := f.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO files (id, filename, file_type, file_size, source_type, content, metadata, uploaded_at, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Filename, f.FileType, f.FileSize, f.SourceType, f.Content, metadata,
		f.UploadedAt.UTC().Format(time.RFC3339), boolToInt(f.Processed),
	)
	return err
}

func (s *Store) GetFile(id string) (File, error) {
	var f File
	var uploadedAt string
	var processed int
	err := s.db.QueryRow(`
		SELECT id, filename, file_type, file_size, source_type, content, metadata, uploaded_at, processed
		FROM files WHERE id = ?`, id,
	).Scan(&f.ID, &f.Filename, &f.FileType, &f.FileSize, &f.SourceType, &f.Content, &f.Metadata, &uploadedAt, &processed)
	if err == sql.ErrNoRows {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, err
	}
	t, err := time.Parse(time.RFC3339, uploadedAt)
	if err != nil {
		return File{}, fmt.Errorf("parsing uploaded_at: %w", err)
	}
	f.UploadedAt = t
	f.Processed = processed != 0
	return f, nil
}

// ListFiles returns the most recently uploaded files without their raw content.
func (s *Store) ListFiles(limit int) ([]File, error) {
	rows, err := s.db.Query(`
		SELECT id, filename, file_type, file_size, source_type, metadata, uploaded_at, processed
		FROM files ORDER BY uploaded_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []File
	for rows.Next() {
		var f File
		var uploadedAt string
		var processed int
		if err := rows.Scan(&f.ID, &f.Filename, &f.FileType, &f.FileSize, &f.SourceType, &f.Metadata, &uploadedAt, &processed); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, uploadedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing uploaded_at: %w", err)
		}
		f.UploadedAt = t
		f.Processed = processed != 0
		results = append(results, f)
	}
	return results, rows.Err()
}

func (s *Store) MarkFileProcessed(id string) error {
	res, err := s.db.Exec(`UPDATE files SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Documents ---

func (s *Store) SaveDocument(d Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (id, file_id, content_type, extracted_text, word_count, char_count, quality_score, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.FileID, d.ContentType, d.ExtractedText, d.WordCount, d.CharCount,
		d.QualityScore, d.ProcessedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(id string) (Document, error) {
	var d Document
	var processedAt string
	err := s.db.QueryRow(`
		SELECT id, file_id, content_type, extracted_text, word_count, char_count, quality_score, processed_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.FileID, &d.ContentType, &d.ExtractedText, &d.WordCount, &d.CharCount, &d.QualityScore, &processedAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, processedAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing processed_at: %w", err)
	}
	d.ProcessedAt = t
	return d, nil
}

// ListDocumentTexts returns document ids and extracted text for ML training.
func (s *Store) ListDocumentTexts(limit int) ([]DocumentText, error) {
	rows, err := s.db.Query(`
		SELECT id, extracted_text FROM documents
		WHERE extracted_text != '' ORDER BY processed_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DocumentText
	for rows.Next() {
		var dt DocumentText
		if err := rows.Scan(&dt.ID, &dt.Text); err != nil {
			return nil, err
		}
		results = append(results, dt)
	}
	return results, rows.Err()
}

// SearchDocuments returns documents whose extracted text contains the query.
func (s *Store) SearchDocuments(query string, limit int) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, file_id, content_type, extracted_text, word_count, char_count, quality_score, processed_at
		FROM documents WHERE extracted_text LIKE ? ORDER BY processed_at DESC LIMIT ?`,
		"%"+query+"%", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var d Document
		var processedAt string
		if err := rows.Scan(&d.ID, &d.FileID, &d.ContentType, &d.ExtractedText, &d.WordCount, &d.CharCount, &d.QualityScore, &processedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, processedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}
		d.ProcessedAt = t
		results = append(results, d)
	}
	return results, rows.Err()
}

// --- ETL extraction and load ---

// ListPendingAnalytics selects up to batchSize processed files whose document
// has no analytics result yet. This join is the pipeline's sole idempotence
// guarantee: a document that already has a result is never selected again.
func (s *Store) ListPendingAnalytics(batchSize int) ([]PendingRecord, error) {
	rows, err := s.db.Query(`
		SELECT f.id, f.filename, f.file_type, f.metadata,
		       d.id, d.content_type, d.extracted_text
		FROM files f
		JOIN documents d ON d.file_id = f.id
		WHERE f.processed = 1
		AND NOT EXISTS (
			SELECT 1 FROM analytics_results ar WHERE ar.document_id = d.id
		)
		LIMIT ?`, batchSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PendingRecord
	for rows.Next() {
		var r PendingRecord
		if err := rows.Scan(&r.FileID, &r.Filename, &r.FileType, &r.Metadata, &r.DocumentID, &r.ContentType, &r.ExtractedText); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveAnalytics inserts one analytics result and its quality metric rows in a
// single transaction, so the load phase is atomic per record.
func (s *Store) SaveAnalytics(res AnalyticsResult, metrics []QualityMetric) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO analytics_results (id, document_id, analysis_type, results, insights, confidence_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.DocumentID, res.AnalysisType, res.ResultsJSON, res.Insights,
		res.ConfidenceScore, res.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting analytics result: %w", err)
	}

	for _, m := range metrics {
		_, err = tx.Exec(`
			INSERT INTO quality_metrics (id, file_id, check_type, check_value, status, checked_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.FileID, m.CheckType, m.CheckValue, m.Status,
			m.CheckedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting quality metric %s: %w", m.CheckType, err)
		}
	}

	return tx.Commit()
}

// CountAnalyticsResults returns the total number of analytics result rows.
func (s *Store) CountAnalyticsResults() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM analytics_results").Scan(&n)
	return n, err
}

// CountQualityMetrics returns the total number of quality metric rows.
func (s *Store) CountQualityMetrics() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM quality_metrics").Scan(&n)
	return n, err
}

func (s *Store) GetAnalyticsForDocument(documentID string) (AnalyticsResult, error) {
	var r AnalyticsResult
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, document_id, analysis_type, results, insights, confidence_score, created_at
		FROM analytics_results WHERE document_id = ?`, documentID,
	).Scan(&r.ID, &r.DocumentID, &r.AnalysisType, &r.ResultsJSON, &r.Insights, &r.ConfidenceScore, &createdAt)
	if err == sql.ErrNoRows {
		return AnalyticsResult{}, ErrNotFound
	}
	if err != nil {
		return AnalyticsResult{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return AnalyticsResult{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

// --- Reporting aggregates ---

func (s *Store) FileTypeDistribution() ([]TypeCount, error) {
	rows, err := s.db.Query(`
		SELECT file_type, COUNT(*) FROM files
		GROUP BY file_type ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.FileType, &tc.Count); err != nil {
			return nil, err
		}
		results = append(results, tc)
	}
	return results, rows.Err()
}

func (s *Store) GetProcessingStats() (ProcessingStats, error) {
	var stats ProcessingStats
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&stats.TotalFiles); err != nil {
		return ProcessingStats{}, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM files WHERE processed = 1").Scan(&stats.ProcessedFiles); err != nil {
		return ProcessingStats{}, err
	}
	err := s.db.QueryRow(`
		SELECT COUNT(DISTINCT f.id)
		FROM files f
		JOIN documents d ON d.file_id = f.id
		JOIN analytics_results ar ON ar.document_id = d.id`,
	).Scan(&stats.AnalyzedFiles)
	if err != nil {
		return ProcessingStats{}, err
	}
	return stats, nil
}

func (s *Store) QualityOverview() ([]QualityCount, error) {
	rows, err := s.db.Query(`
		SELECT check_type, status, COUNT(*) FROM quality_metrics
		GROUP BY check_type, status ORDER BY check_type, status`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QualityCount
	for rows.Next() {
		var qc QualityCount
		if err := rows.Scan(&qc.CheckType, &qc.Status, &qc.Count); err != nil {
			return nil, err
		}
		results = append(results, qc)
	}
	return results, rows.Err()
}

func (s *Store) GetAnalyticsAverages() (AnalyticsAverages, error) {
	var a AnalyticsAverages
	var wordCount, sentiment, confidence sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT AVG(json_extract(results, '$.word_count')),
		       AVG(json_extract(results, '$.sentiment_score')),
		       AVG(confidence_score)
		FROM analytics_results`,
	).Scan(&wordCount, &sentiment, &confidence)
	if err != nil {
		return AnalyticsAverages{}, err
	}
	a.AvgWordCount = wordCount.Float64
	a.AvgSentiment = sentiment.Float64
	a.AvgConfidence = confidence.Float64
	return a, nil
}

// RecentActivity returns analytics result counts per day for the last n days.
func (s *Store) RecentActivity(days int) ([]DayCount, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	rows, err := s.db.Query(`
		SELECT substr(created_at, 1, 10), COUNT(*)
		FROM analytics_results
		WHERE created_at >= ?
		GROUP BY substr(created_at, 1, 10)
		ORDER BY substr(created_at, 1, 10) DESC`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, err
		}
		results = append(results, dc)
	}
	return results, rows.Err()
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) GetJob(id string) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := s.db.QueryRow(`
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after: %w", err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}

// ClaimNextJob atomically claims the oldest runnable pending job of one of the
// given types, transitioning it to "running". Returns nil when no job is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]interface{}, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failure. The job is retried with exponential backoff until
// max_attempts is reached, then marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package persistence

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const currentSchemaVersion = 2

// repoIDCache caches computed repository IDs per absolute repo root.
var repoIDCache sync.Map

func createDirIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// #nosec G301 - restrictive permissions for cache directory (owner-only access)
		return os.MkdirAll(path, 0o700)
	}
	return nil
}

// ComputeRepoID computes a stable identifier for a repository.
// Priority: 1) git remote origin URL, 2) repo path.
// Returns a 20-character hex string suitable for file names.
// Results are cached per absolute path.
func ComputeRepoID(repoRoot string) (string, error) {
	absPath, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", fmt.Errorf("failed to resolve repo path: %w", err)
	}

	if cached, ok := repoIDCache.Load(absPath); ok {
		if repoID, valid := cached.(string); valid {
			return repoID, nil
		}
	}

	repoID := computeRepoIDUncached(absPath)
	repoIDCache.Store(absPath, repoID)
	return repoID, nil
}

func computeRepoIDUncached(absPath string) string {
	// Priority 1: remote origin URL (stable when the checkout moves)
	if remoteURL := originURL(absPath); remoteURL != "" {
		remoteURL = strings.TrimSuffix(remoteURL, ".git")
		return hashToID(remoteURL)
	}

	// Priority 2: repo path (last resort - breaks if repo moves)
	return hashToID(absPath)
}

// originURL reads the origin remote URL straight out of .git/config.
// Only the plain checkout layout is handled; anything else falls back to
// the path-derived ID.
func originURL(root string) string {
	// #nosec G304 - path is derived from the caller's repo root
	data, err := os.ReadFile(filepath.Join(root, ".git", "config"))
	if err != nil {
		return ""
	}

	inOrigin := false
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			inOrigin = trimmed == `[remote "origin"]`
			continue
		}
		if !inOrigin {
			continue
		}
		rest, ok := strings.CutPrefix(trimmed, "url")
		if !ok {
			continue
		}
		rest, ok = strings.CutPrefix(strings.TrimSpace(rest), "=")
		if !ok {
			continue
		}
		return strings.TrimSpace(rest)
	}
	return ""
}

// hashToID computes a SHA256 hash and returns the first 20 hex characters (80 bits).
func hashToID(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])[:20]
}

// GetDatabasePath returns the path to the SQLite database for a given
// repo, under the consolidated directory: ~/.caliper/repos/<repoID>.db
func GetDatabasePath(repoRoot string) (string, error) {
	caliperDir, err := GetCaliperDir()
	if err != nil {
		return "", err
	}

	repoID, err := ComputeRepoID(repoRoot)
	if err != nil {
		return "", err
	}

	return filepath.Join(caliperDir, "repos", repoID+".db"), nil
}

// ListRepoDatabases returns the paths of every per-repo database under
// the caliper home. Missing repos directory yields an empty list.
func ListRepoDatabases() ([]string, error) {
	caliperDir, err := GetCaliperDir()
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(caliperDir, "repos", "*.db"))
	if err != nil {
		return nil, fmt.Errorf("listing repo databases: %w", err)
	}
	return matches, nil
}

// RemoveDatabaseFiles deletes a database file along with its WAL and
// shared-memory sidecars. Missing files are not an error.
func RemoveDatabaseFiles(dbPath string) error {
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// Store is the per-repository report store: a content-addressed cache of
// analysis results plus their finding rows.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the report store for a repository and
// brings its schema up to date.
func Open(repoRoot string) (*Store, error) {
	dbPath, err := GetDatabasePath(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to compute database path: %w", err)
	}

	reposDir := filepath.Dir(dbPath)
	if mkdirErr := createDirIfNotExists(reposDir); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create repos directory: %w", mkdirErr)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Single connection is optimal for SQLite in a CLI
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous=NORMAL", // Faster writes, still safe with WAL
		"PRAGMA busy_timeout=5000",  // Wait 5s on lock instead of failing immediately
		"PRAGMA temp_store=MEMORY",  // Store temp tables in memory
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to execute %s: %w (additionally, failed to close database: %v)", pragma, err, closeErr)
			}
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, path: dbPath}

	if err := store.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (additionally, failed to close database: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Set secure file permissions on database and related files (owner read/write only).
	// SQLite WAL mode creates additional files: .db-wal and .db-shm
	if err := secureDBFiles(dbPath); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to set database permissions: %w (additionally, failed to close database: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}

	return store, nil
}

// secureDBFiles sets restrictive permissions (0600) on the database file
// and associated WAL/SHM files created by SQLite in WAL mode.
func secureDBFiles(dbPath string) error {
	// #nosec G302 - intentionally setting restrictive permissions
	if err := os.Chmod(dbPath, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", dbPath, err)
	}

	walFiles := []string{dbPath + "-wal", dbPath + "-shm"}
	for _, f := range walFiles {
		// #nosec G302 - intentionally setting restrictive permissions
		if err := os.Chmod(f, 0o600); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("chmod %s: %w", f, err)
		}
	}

	return nil
}

// initSchema creates the database tables and indices.
func (s *Store) initSchema() error {
	versionTableSchema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	`

	if _, err := s.db.Exec(versionTableSchema); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to query schema version: %w", err)
	}

	if version < currentSchemaVersion {
		if err := s.applyMigrations(version); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	return nil
}

// applyMigrations applies database migrations from the current version to
// the latest.
func (s *Store) applyMigrations(fromVersion int) error {
	migrations := []struct {
		version int
		name    string
		sql     string
	}{
		{
			version: 1,
			name:    "initial_schema",
			sql: `
			CREATE TABLE IF NOT EXISTS reports (
				report_id INTEGER PRIMARY KEY,
				file_path TEXT NOT NULL,
				content_hash TEXT NOT NULL,
				pipeline_name TEXT,
				overall_score INTEGER NOT NULL,
				finding_count INTEGER NOT NULL DEFAULT 0,
				report_json TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				UNIQUE(file_path, content_hash)
			);

			CREATE TABLE IF NOT EXISTS findings (
				finding_id INTEGER PRIMARY KEY,
				report_id INTEGER NOT NULL,
				rule TEXT NOT NULL,
				kind TEXT,
				severity TEXT NOT NULL,
				job_id TEXT,
				step_index INTEGER,
				description TEXT NOT NULL,
				saving_seconds INTEGER DEFAULT 0,
				FOREIGN KEY (report_id) REFERENCES reports(report_id)
			);

			CREATE INDEX IF NOT EXISTS idx_findings_report_id ON findings(report_id);
			`,
		},
		{
			version: 2,
			name:    "add_history_lookup_and_degraded",
			sql: `
			ALTER TABLE findings ADD COLUMN degraded INTEGER DEFAULT 0;

			CREATE INDEX IF NOT EXISTS idx_reports_history ON reports(file_path, created_at DESC);
			`,
		},
	}

	for _, migration := range migrations {
		if migration.version <= fromVersion {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration v%d: %w", migration.version, err)
		}

		if _, err := tx.Exec(migration.sql); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to execute migration v%d (%s): %w (additionally, failed to rollback: %v)",
					migration.version, migration.name, err, rbErr)
			}
			return fmt.Errorf("failed to execute migration v%d (%s): %w", migration.version, migration.name, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			migration.version, time.Now().Unix()); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to record migration v%d: %w (additionally, failed to rollback: %v)",
					migration.version, err, rbErr)
			}
			return fmt.Errorf("failed to record migration v%d: %w", migration.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration v%d: %w", migration.version, err)
		}
	}

	return nil
}

// SaveReport upserts a report keyed by (file_path, content_hash) and
// replaces its finding rows, all in one transaction.
func (s *Store) SaveReport(rec *ReportRecord, findings []*FindingRecord) error {
	if rec.FilePath == "" || rec.ContentHash == "" {
		return fmt.Errorf("report record needs a file path and content hash")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	upsert := `
		INSERT INTO reports (file_path, content_hash, pipeline_name, overall_score, finding_count, report_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path, content_hash) DO UPDATE SET
			pipeline_name = excluded.pipeline_name,
			overall_score = excluded.overall_score,
			finding_count = excluded.finding_count,
			report_json = excluded.report_json,
			created_at = excluded.created_at
	`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err := tx.Exec(upsert,
		rec.FilePath,
		rec.ContentHash,
		rec.PipelineName,
		rec.OverallScore,
		len(findings),
		string(rec.ReportJSON),
		createdAt.Unix(),
	); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to upsert report: %w (additionally, failed to rollback: %v)", err, rbErr)
		}
		return fmt.Errorf("failed to upsert report: %w", err)
	}

	var reportID int64
	if err := tx.QueryRow("SELECT report_id FROM reports WHERE file_path = ? AND content_hash = ?",
		rec.FilePath, rec.ContentHash).Scan(&reportID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to resolve report id: %w (additionally, failed to rollback: %v)", err, rbErr)
		}
		return fmt.Errorf("failed to resolve report id: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM findings WHERE report_id = ?", reportID); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to clear stale findings: %w (additionally, failed to rollback: %v)", err, rbErr)
		}
		return fmt.Errorf("failed to clear stale findings: %w", err)
	}

	insert, err := tx.Prepare(`
		INSERT INTO findings (report_id, rule, kind, severity, job_id, step_index, description, saving_seconds, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to prepare finding insert: %w (additionally, failed to rollback: %v)", err, rbErr)
		}
		return fmt.Errorf("failed to prepare finding insert: %w", err)
	}
	defer func() { _ = insert.Close() }()

	for _, f := range findings {
		degraded := 0
		if f.Degraded {
			degraded = 1
		}
		if _, err := insert.Exec(reportID, f.Rule, f.Kind, f.Severity, f.JobID, f.StepIndex, f.Description, f.SavingSeconds, degraded); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to insert finding: %w (additionally, failed to rollback: %v)", err, rbErr)
			}
			return fmt.Errorf("failed to insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	rec.ReportID = reportID
	return nil
}

// GetReport looks up a cached report by path and content hash. A miss
// returns (nil, false, nil).
func (s *Store) GetReport(filePath, contentHash string) (*ReportRecord, bool, error) {
	query := `
		SELECT report_id, file_path, content_hash, pipeline_name, overall_score, finding_count, report_json, created_at
		FROM reports WHERE file_path = ? AND content_hash = ?
	`

	rec, err := scanReportRow(s.db.QueryRow(query, filePath, contentHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query report: %w", err)
	}

	return rec, true, nil
}

// History returns the stored reports for a path, newest first.
func (s *Store) History(filePath string, limit int) ([]*ReportRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT report_id, file_path, content_hash, pipeline_name, overall_score, finding_count, report_json, created_at
		FROM reports WHERE file_path = ?
		ORDER BY created_at DESC LIMIT ?
	`

	rows, err := s.db.Query(query, filePath, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query report history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*ReportRecord
	for rows.Next() {
		rec, scanErr := scanReportRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	return records, nil
}

// FindingsForReport returns the finding rows stored with a report,
// ordered the way they were recorded.
func (s *Store) FindingsForReport(reportID int64) ([]*FindingRecord, error) {
	query := `
		SELECT rule, kind, severity, job_id, step_index, description, saving_seconds, degraded
		FROM findings WHERE report_id = ?
		ORDER BY finding_id
	`

	rows, err := s.db.Query(query, reportID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*FindingRecord
	for rows.Next() {
		var f FindingRecord
		var kind, jobID sql.NullString
		var stepIndex, degraded sql.NullInt64

		if err := rows.Scan(&f.Rule, &kind, &f.Severity, &jobID, &stepIndex, &f.Description, &f.SavingSeconds, &degraded); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}

		f.Kind = kind.String
		f.JobID = jobID.String
		if stepIndex.Valid {
			f.StepIndex = int(stepIndex.Int64)
		}
		f.Degraded = degraded.Valid && degraded.Int64 != 0
		records = append(records, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}

	return records, nil
}

// reportScanner abstracts sql.Row and sql.Rows for shared scanning logic.
type reportScanner interface {
	Scan(dest ...any) error
}

func scanReportRow(sc reportScanner) (*ReportRecord, error) {
	var rec ReportRecord
	var pipelineName sql.NullString
	var reportJSON string
	var createdAt int64

	err := sc.Scan(
		&rec.ReportID,
		&rec.FilePath,
		&rec.ContentHash,
		&pipelineName,
		&rec.OverallScore,
		&rec.FindingCount,
		&reportJSON,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.PipelineName = pipelineName.String
	rec.ReportJSON = []byte(reportJSON)
	rec.CreatedAt = time.Unix(createdAt, 0)
	return &rec, nil
}

// DropDatabase removes the report store for a repository, including the
// WAL sidecar files. Missing files are not an error.
func DropDatabase(repoRoot string) error {
	dbPath, err := GetDatabasePath(repoRoot)
	if err != nil {
		return err
	}
	return RemoveDatabaseFiles(dbPath)
}

// Close closes the database connection and secures file permissions.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	closeErr := s.db.Close()

	// Secure WAL/SHM files that may have been created during usage
	// (best effort, even if close failed)
	if s.path != "" {
		_ = secureDBFiles(s.path)
	}

	return closeErr
}

// Path returns the absolute path to the SQLite database file.
func (s *Store) Path() string {
	return s.path
}

package persistence

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// setupTestCaliperHome points CALIPER_HOME at a temp directory for test
// isolation and clears the repo ID cache.
func setupTestCaliperHome(t *testing.T) {
	t.Helper()
	t.Setenv(CaliperHomeEnv, t.TempDir())
	t.Cleanup(func() {
		repoIDCache = sync.Map{}
	})
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if closeErr := store.Close(); closeErr != nil {
			t.Errorf("Failed to close store: %v", closeErr)
		}
	})
	return store
}

func TestOpen(t *testing.T) {
	setupTestCaliperHome(t)
	store := openTestStore(t)

	caliperDir, err := GetCaliperDir()
	if err != nil {
		t.Fatalf("GetCaliperDir() error = %v", err)
	}

	reposDir := filepath.Join(caliperDir, "repos")
	if _, err := os.Stat(reposDir); os.IsNotExist(err) {
		t.Error("repos directory was not created")
	}

	dbPath := store.Path()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file was not created at %s", dbPath)
	}
	if !filepath.HasPrefix(dbPath, reposDir) {
		t.Errorf("Path() = %v, expected to be under %v", dbPath, reposDir)
	}
	if filepath.Ext(dbPath) != ".db" {
		t.Errorf("Path() = %v, expected to end with .db", dbPath)
	}
}

func TestStore_InitSchema(t *testing.T) {
	setupTestCaliperHome(t)
	store := openTestStore(t)

	for _, table := range []string{"reports", "findings", "schema_version"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not created: %v", table, err)
		}
	}

	var index string
	err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_reports_history'").Scan(&index)
	if err != nil {
		t.Errorf("history index not created: %v", err)
	}

	var version int
	err = store.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		t.Fatalf("failed to query schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestStore_SaveAndGetReport(t *testing.T) {
	setupTestCaliperHome(t)
	store := openTestStore(t)

	rec := &ReportRecord{
		FilePath:     ".github/workflows/ci.yml",
		ContentHash:  "abc123",
		PipelineName: "CI",
		OverallScore: 91,
		ReportJSON:   []byte(`{"scores":{"overall":91}}`),
	}
	findings := []*FindingRecord{
		{Rule: "missing-cache", Kind: "caching", Severity: "medium", JobID: "build", StepIndex: 1, Description: "npm install without a cache step", SavingSeconds: 180},
		{Rule: "write-all-permissions", Kind: "security", Severity: "high", StepIndex: -1, Description: "write-all token permissions"},
	}

	if err := store.SaveReport(rec, findings); err != nil {
		t.Fatalf("SaveReport() error = %v", err)
	}
	if rec.ReportID == 0 {
		t.Error("SaveReport did not set ReportID")
	}

	got, found, err := store.GetReport(rec.FilePath, rec.ContentHash)
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	if !found {
		t.Fatal("GetReport() missed a stored report")
	}
	if got.PipelineName != "CI" || got.OverallScore != 91 || got.FindingCount != 2 {
		t.Errorf("GetReport() = %+v, want name CI, score 91, 2 findings", got)
	}
	if string(got.ReportJSON) != string(rec.ReportJSON) {
		t.Errorf("ReportJSON round trip mismatch: %s", got.ReportJSON)
	}

	rows, err := store.FindingsForReport(got.ReportID)
	if err != nil {
		t.Fatalf("FindingsForReport() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d finding rows, want 2", len(rows))
	}
	if rows[0].Rule != "missing-cache" || rows[0].SavingSeconds != 180 {
		t.Errorf("first finding = %+v", rows[0])
	}
	if rows[1].Severity != "high" {
		t.Errorf("second finding severity = %q, want high", rows[1].Severity)
	}

	_, found, err = store.GetReport(rec.FilePath, "other-hash")
	if err != nil {
		t.Fatalf("GetReport() miss error = %v", err)
	}
	if found {
		t.Error("GetReport() hit on a different content hash")
	}
}

func TestStore_UpsertReplacesFindings(t *testing.T) {
	setupTestCaliperHome(t)
	store := openTestStore(t)

	rec := &ReportRecord{
		FilePath:     "ci.yml",
		ContentHash:  "h1",
		OverallScore: 70,
		ReportJSON:   []byte(`{}`),
	}
	first := []*FindingRecord{
		{Rule: "missing-cache", Severity: "medium", Description: "one"},
		{Rule: "sequential-jobs", Severity: "medium", Description: "two"},
	}
	if err := store.SaveReport(rec, first); err != nil {
		t.Fatalf("first SaveReport() error = %v", err)
	}

	rec.OverallScore = 95
	second := []*FindingRecord{
		{Rule: "runner-mismatch", Severity: "low", Description: "three"},
	}
	if err := store.SaveReport(rec, second); err != nil {
		t.Fatalf("second SaveReport() error = %v", err)
	}

	got, found, err := store.GetReport("ci.yml", "h1")
	if err != nil || !found {
		t.Fatalf("GetReport() = found %v, err %v", found, err)
	}
	if got.OverallScore != 95 || got.FindingCount != 1 {
		t.Errorf("upsert result = %+v, want score 95, 1 finding", got)
	}

	rows, err := store.FindingsForReport(got.ReportID)
	if err != nil {
		t.Fatalf("FindingsForReport() error = %v", err)
	}
	if len(rows) != 1 || rows[0].Rule != "runner-mismatch" {
		t.Errorf("findings after upsert = %+v, want the single new row", rows)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM reports").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("reports table has %d rows, want 1", count)
	}
}

func TestStore_History(t *testing.T) {
	setupTestCaliperHome(t)
	store := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, hash := range []string{"old", "mid", "new"} {
		rec := &ReportRecord{
			FilePath:     "ci.yml",
			ContentHash:  hash,
			OverallScore: 80 + i,
			ReportJSON:   []byte(`{}`),
			CreatedAt:    base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.SaveReport(rec, nil); err != nil {
			t.Fatalf("SaveReport(%s) error = %v", hash, err)
		}
	}

	history, err := store.History("ci.yml", 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d records, want 2", len(history))
	}
	if history[0].ContentHash != "new" || history[1].ContentHash != "mid" {
		t.Errorf("History() order = [%s %s], want newest first", history[0].ContentHash, history[1].ContentHash)
	}

	none, err := store.History("other.yml", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("History() for unknown path returned %d records", len(none))
	}
}

func TestComputeRepoID(t *testing.T) {
	setupTestCaliperHome(t)

	dirA := t.TempDir()
	dirB := t.TempDir()

	idA, err := ComputeRepoID(dirA)
	if err != nil {
		t.Fatalf("ComputeRepoID() error = %v", err)
	}
	if len(idA) != 20 {
		t.Errorf("repo ID length = %d, want 20", len(idA))
	}

	again, err := ComputeRepoID(dirA)
	if err != nil {
		t.Fatalf("ComputeRepoID() error = %v", err)
	}
	if again != idA {
		t.Error("repo ID not stable for the same path")
	}

	idB, err := ComputeRepoID(dirB)
	if err != nil {
		t.Fatalf("ComputeRepoID() error = %v", err)
	}
	if idB == idA {
		t.Error("distinct paths produced the same repo ID")
	}
}

func TestComputeRepoID_RemoteURL(t *testing.T) {
	setupTestCaliperHome(t)

	gitConfig := `[core]
	repositoryformatversion = 0
[remote "origin"]
	url = git@github.com:handleui/caliper.git
	fetch = +refs/heads/*:refs/remotes/origin/*
`

	makeRepo := func(t *testing.T) string {
		t.Helper()
		dir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
			t.Fatalf("mkdir .git: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, ".git", "config"), []byte(gitConfig), 0o644); err != nil {
			t.Fatalf("writing git config: %v", err)
		}
		return dir
	}

	idA, err := ComputeRepoID(makeRepo(t))
	if err != nil {
		t.Fatalf("ComputeRepoID() error = %v", err)
	}
	idB, err := ComputeRepoID(makeRepo(t))
	if err != nil {
		t.Fatalf("ComputeRepoID() error = %v", err)
	}

	// Same origin URL means same ID regardless of checkout location.
	if idA != idB {
		t.Errorf("repo IDs differ for the same remote: %s vs %s", idA, idB)
	}
}

func TestDropDatabase(t *testing.T) {
	setupTestCaliperHome(t)

	repoRoot := t.TempDir()
	store, err := Open(repoRoot)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	dbPath := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := DropDatabase(repoRoot); err != nil {
		t.Fatalf("DropDatabase() error = %v", err)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Errorf("database file still exists at %s", dbPath)
	}

	// Dropping again is a no-op.
	if err := DropDatabase(repoRoot); err != nil {
		t.Errorf("second DropDatabase() error = %v", err)
	}
}

// Package persistence owns everything caliper writes under ~/.caliper:
// the global JSON config and the per-repository SQLite report store. The
// store is a content-addressed cache: a report row is keyed by file path
// plus the sha256 of the file's bytes, so an unchanged workflow never
// needs re-analysis.
package persistence

import "time"

// ReportRecord is one stored analysis result. ReportJSON carries the full
// serialized report; the scalar columns exist for history listings and
// cache bookkeeping without unmarshaling.
type ReportRecord struct {
	ReportID     int64
	FilePath     string
	ContentHash  string
	PipelineName string
	OverallScore int
	FindingCount int
	ReportJSON   []byte
	CreatedAt    time.Time
}

// FindingRecord is one stored finding row.
type FindingRecord struct {
	Rule          string
	Kind          string
	Severity      string
	JobID         string
	StepIndex     int
	Description   string
	SavingSeconds int
	Degraded      bool
}

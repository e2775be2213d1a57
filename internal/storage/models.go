package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TimeLayout is the fixed-width UTC form used for timestamps written to
// SQLite, so that text ordering matches chronological ordering.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Report is one row of admin_insights: a serialized insight batch.
// CreatedAt is kept as the stored text; rows written by other tools may use
// any common timestamp format.
type Report struct {
	ID        string
	Insight   string // JSON object keyed by table name
	Type      string // "weekly" or "monthly"
	CreatedAt string
}

// Run outcomes.
const (
	OutcomeGenerated = "generated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Run is one audit record of a generation attempt.
type Run struct {
	ID               string
	Type             string
	StartedAt        time.Time
	FinishedAt       time.Time
	Outcome          string
	ReportID         string
	Tables           int
	ExtractionFaults int
	GenerationFaults int
	Message          string
}

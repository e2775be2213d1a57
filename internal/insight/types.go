package insight

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownCadence is returned by ParseCadence for anything other than
// "weekly" or "monthly".
var ErrUnknownCadence = errors.New("unknown cadence")

// Cadence names a regeneration lane.
type Cadence string

const (
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

// Cadences lists every lane in a stable order.
var Cadences = []Cadence{Weekly, Monthly}

// ParseCadence validates a cadence name.
func ParseCadence(s string) (Cadence, error) {
	switch Cadence(s) {
	case Weekly, Monthly:
		return Cadence(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCadence, s)
}

// Period is the minimum spacing between two accepted reports of this cadence.
func (c Cadence) Period() time.Duration {
	if c == Monthly {
		return 30 * 24 * time.Hour
	}
	return 7 * 24 * time.Hour
}

// Window returns the extraction bounds used for this cadence.
func (c Cadence) Window() Window {
	if c == Monthly {
		return Window{Days: 30, SampleSize: 15, FallbackLimit: 50}
	}
	return Window{Days: 7, SampleSize: 10, FallbackLimit: 14}
}

// Window bounds a single extraction pass.
type Window struct {
	// Days is the look-back for tables with a creation timestamp.
	Days int
	// SampleSize caps how many rows per table are embedded in a prompt.
	SampleSize int
	// FallbackLimit caps the most-recent-by-id query for tables without a
	// creation timestamp.
	FallbackLimit int
}

// Row is one record of a snapshot keyed by column name.
type Row map[string]any

// Snapshot is a bounded, in-memory slice of a monitored table's recent rows.
// Rows holds everything extracted; only Sample is embedded in prompts.
type Snapshot struct {
	Table   string
	Columns []string
	Rows    []Row
	// TimeColumn is the creation-timestamp column used for the window, or
	// empty when the most-recent-by-id fallback was used.
	TimeColumn string
	Since      time.Time
}

// Empty reports whether the snapshot holds no rows.
func (s Snapshot) Empty() bool {
	return len(s.Rows) == 0
}

// Sample returns at most n leading rows.
func (s Snapshot) Sample(n int) []Row {
	if n < 0 || len(s.Rows) <= n {
		return s.Rows
	}
	return s.Rows[:n]
}

// Record is the normalized result of one completion.
type Record struct {
	Concern        string `json:"concern"`
	Recommendation string `json:"recommendation"`
}

// Batch maps table name to its record for one generation cycle. It is the
// unit that gets serialized into a stored report.
type Batch map[string]Record

// ExtractionFault describes a per-table extraction failure. The table still
// appears in the extraction result with an empty snapshot.
type ExtractionFault struct {
	Table string
	Err   error
}

func (f *ExtractionFault) Error() string {
	return fmt.Sprintf("extracting table %s: %v", f.Table, f.Err)
}

func (f *ExtractionFault) Unwrap() error { return f.Err }

// GenerationFault describes a failed or empty completion for one table.
type GenerationFault struct {
	Table string
	Err   error
}

func (f *GenerationFault) Error() string {
	return fmt.Sprintf("generating insight for %s: %v", f.Table, f.Err)
}

func (f *GenerationFault) Unwrap() error { return f.Err }

// Package report owns the report lifecycle: deciding whether a cadence is due,
// running the insight pipeline, and persisting the resulting batch.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/inxource/inxight/internal/insight"
	"github.com/inxource/inxight/internal/storage"
)

// State describes a cadence relative to its most recent report.
type State string

const (
	NoPriorReport State = "no_prior_report"
	Fresh         State = "fresh"
	Stale         State = "stale"
)

// Generator produces one batch for a cadence.
type Generator interface {
	Run(ctx context.Context, c insight.Cadence) (insight.Batch, insight.RunStats)
}

// RunLog records generation attempts. It is optional.
type RunLog interface {
	SaveRun(ctx context.Context, r storage.Run) error
}

// Status is the cadence state as seen at a point in time.
type Status struct {
	Cadence       insight.Cadence `json:"cadence"`
	State         State           `json:"state"`
	LastReportID  string          `json:"last_report_id,omitempty"`
	LastCreatedAt *time.Time      `json:"last_created_at,omitempty"`
	DaysRemaining *int            `json:"days_remaining,omitempty"`
	NextDue       *time.Time      `json:"next_due,omitempty"`
}

// Result is the outcome of MaybeGenerate.
type Result struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Generated     bool   `json:"generated"`
	DaysRemaining *int   `json:"days_remaining,omitempty"`
	ReportID      string `json:"report_id,omitempty"`
}

// Scheduler gates generation on the age of the latest stored report.
type Scheduler struct {
	reports  storage.Reports
	runs     RunLog
	pipeline Generator
	now      func() time.Time
	flight   singleflight.Group
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. runs may be nil.
func NewScheduler(reports storage.Reports, pipeline Generator, runs RunLog) *Scheduler {
	return &Scheduler{
		reports:  reports,
		runs:     runs,
		pipeline: pipeline,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// Status reports whether cadence c is due.
func (s *Scheduler) Status(ctx context.Context, c insight.Cadence) (Status, error) {
	st := Status{Cadence: c}

	latest, err := s.reports.LatestReport(ctx, string(c))
	if errors.Is(err, storage.ErrNotFound) {
		st.State = NoPriorReport
		return st, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("reading latest %s report: %w", c, err)
	}

	st.LastReportID = latest.ID
	created, err := ParseTimestamp(latest.CreatedAt)
	if err != nil {
		s.logger.Warn("ignoring unparseable report timestamp", "cadence", c, "id", latest.ID, "created_at", latest.CreatedAt)
		st.State = NoPriorReport
		return st, nil
	}
	st.LastCreatedAt = &created

	next := created.Add(c.Period())
	st.NextDue = &next

	elapsed := s.now().Sub(created)
	if elapsed >= c.Period() {
		st.State = Stale
		return st, nil
	}

	st.State = Fresh
	days := daysRemaining(c, elapsed)
	st.DaysRemaining = &days
	return st, nil
}

// daysRemaining is the period in days minus whole elapsed days. A report
// dated in the future counts as zero days old.
func daysRemaining(c insight.Cadence, elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}
	period := int(c.Period() / (24 * time.Hour))
	return period - int(elapsed/(24*time.Hour))
}

// MaybeGenerate runs the pipeline and stores a new report if cadence c is
// due. Concurrent calls for the same cadence within this process share one
// run. The run ignores cancellation of any one caller and is bounded by the
// pipeline's per-call timeouts.
func (s *Scheduler) MaybeGenerate(ctx context.Context, c insight.Cadence) Result {
	v, _, _ := s.flight.Do(string(c), func() (any, error) {
		return s.maybeGenerate(context.WithoutCancel(ctx), c), nil
	})
	return v.(Result)
}

func (s *Scheduler) maybeGenerate(ctx context.Context, c insight.Cadence) Result {
	started := s.now()

	st, err := s.Status(ctx, c)
	if err != nil {
		s.logger.Error("report status check failed", "cadence", c, "error", err)
		res := Result{Success: false, Message: fmt.Sprintf("Error checking %s insights: %v", c, err)}
		s.recordRun(ctx, c, started, storage.OutcomeFailed, res, insight.RunStats{})
		return res
	}

	if st.State == Fresh {
		res := Result{
			Success:       true,
			Message:       fmt.Sprintf("%s insights not due yet (%d days remaining)", capitalize(c), *st.DaysRemaining),
			Generated:     false,
			DaysRemaining: st.DaysRemaining,
		}
		s.logger.Info("insights not due", "cadence", c, "days_remaining", *st.DaysRemaining)
		s.recordRun(ctx, c, started, storage.OutcomeSkipped, res, insight.RunStats{})
		return res
	}

	batch, stats := s.pipeline.Run(ctx, c)

	payload, err := json.Marshal(batch)
	if err != nil {
		res := Result{Success: false, Message: fmt.Sprintf("Error encoding %s insights: %v", c, err)}
		s.recordRun(ctx, c, started, storage.OutcomeFailed, res, stats)
		return res
	}

	r := storage.Report{
		ID:        uuid.NewString(),
		Insight:   string(payload),
		Type:      string(c),
		CreatedAt: storage.FormatTime(s.now()),
	}
	if err := s.reports.SaveReport(ctx, r); err != nil {
		s.logger.Error("saving report failed", "cadence", c, "error", err)
		res := Result{Success: false, Message: fmt.Sprintf("Error saving %s insights: %v", c, err)}
		s.recordRun(ctx, c, started, storage.OutcomeFailed, res, stats)
		return res
	}

	s.logger.Info("report saved", "cadence", c, "id", r.ID, "tables", len(batch))
	res := Result{
		Success:   true,
		Message:   fmt.Sprintf("%s insights generated successfully", capitalize(c)),
		Generated: true,
		ReportID:  r.ID,
	}
	s.recordRun(ctx, c, started, storage.OutcomeGenerated, res, stats)
	return res
}

func (s *Scheduler) recordRun(ctx context.Context, c insight.Cadence, started time.Time, outcome string, res Result, stats insight.RunStats) {
	if s.runs == nil {
		return
	}
	run := storage.Run{
		ID:               uuid.NewString(),
		Type:             string(c),
		StartedAt:        started,
		FinishedAt:       s.now(),
		Outcome:          outcome,
		ReportID:         res.ReportID,
		Tables:           stats.Tables,
		ExtractionFaults: stats.ExtractionFaults,
		GenerationFaults: stats.GenerationFaults,
		Message:          res.Message,
	}
	if err := s.runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("recording run failed", "cadence", c, "error", err)
	}
}

func capitalize(c insight.Cadence) string {
	s := string(c)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

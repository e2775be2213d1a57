// Package cron drives the report scheduler on a fixed interval.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/inxource/inxight/internal/insight"
	"github.com/inxource/inxight/internal/report"
)

const defaultInterval = time.Hour

// Trigger is the scheduler operation the runner invokes.
type Trigger interface {
	MaybeGenerate(ctx context.Context, c insight.Cadence) report.Result
}

// Runner asks the scheduler to regenerate every cadence once per interval.
// The scheduler decides whether anything is due; the runner only ticks.
type Runner struct {
	trigger  Trigger
	cadences []insight.Cadence
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner over cadences (all cadences if empty).
// If interval is <= 0, it defaults to one hour.
func NewRunner(trigger Trigger, cadences []insight.Cadence, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = defaultInterval
	}
	if len(cadences) == 0 {
		cadences = insight.Cadences
	}
	return &Runner{
		trigger:  trigger,
		cadences: cadences,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		r.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval):
		}
	}
}

// RunOnce triggers each cadence in turn and returns the results keyed by
// cadence.
func (r *Runner) RunOnce(ctx context.Context) map[insight.Cadence]report.Result {
	results := make(map[insight.Cadence]report.Result, len(r.cadences))
	for _, c := range r.cadences {
		if ctx.Err() != nil {
			break
		}
		res := r.trigger.MaybeGenerate(ctx, c)
		results[c] = res
		if !res.Success {
			r.logger.Error("scheduled generation failed", "cadence", c, "message", res.Message)
			continue
		}
		r.logger.Debug("scheduled generation checked", "cadence", c, "generated", res.Generated)
	}
	return results
}

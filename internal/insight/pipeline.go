package insight

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTables is the monitored table set.
var DefaultTables = []string{
	"withdrawals",
	"users",
	"orders",
	"businesses",
	"industry_trucking",
	"business_owners",
	"business_settings",
	"sunhistory",
}

// RunStats captures diagnostic information about one generation cycle.
type RunStats struct {
	Tables           int
	ExtractionFaults int
	GenerationFaults int
	Duration         time.Duration
}

// Pipeline runs extraction, prompt assembly, generation and parsing for every
// monitored table of a cadence.
type Pipeline struct {
	extractor *Extractor
	generator *Generator
	tables    []string
	logger    *slog.Logger
}

// NewPipeline wires a pipeline over tables (DefaultTables if empty).
func NewPipeline(extractor *Extractor, generator *Generator, tables []string) *Pipeline {
	if len(tables) == 0 {
		tables = DefaultTables
	}
	return &Pipeline{
		extractor: extractor,
		generator: generator,
		tables:    tables,
		logger:    slog.Default(),
	}
}

// Tables returns the monitored tables.
func (p *Pipeline) Tables() []string {
	return p.tables
}

// Run produces a complete batch: every monitored table has a record, degraded
// or not. Related tables that are not monitored are extracted for context but
// do not get a record of their own.
func (p *Pipeline) Run(ctx context.Context, c Cadence) (Batch, RunStats) {
	start := time.Now()
	w := c.Window()

	snaps, faults := p.extractor.Extract(ctx, withRelated(p.tables), w)

	asm := NewAssembler(w.SampleSize)
	prompts := make(map[string]string, len(p.tables))
	for _, table := range p.tables {
		prompts[table] = asm.Assemble(table, snaps[table], snaps)
	}

	completions := p.generator.Generate(ctx, prompts)

	batch := make(Batch, len(p.tables))
	stats := RunStats{Tables: len(p.tables), ExtractionFaults: len(faults)}
	for _, table := range p.tables {
		comp := completions[table]
		if comp.Err != nil {
			stats.GenerationFaults++
		}
		batch[table] = comp.Record()
	}
	stats.Duration = time.Since(start)

	p.logger.Info("insight batch generated",
		"cadence", c,
		"tables", stats.Tables,
		"extraction_faults", stats.ExtractionFaults,
		"generation_faults", stats.GenerationFaults,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return batch, stats
}

// withRelated returns tables plus any declared related tables, without
// duplicates and in first-seen order.
func withRelated(tables []string) []string {
	seen := make(map[string]bool, len(tables))
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range tables {
		add(t)
	}
	for _, t := range tables {
		for _, r := range RelationFor(t).Related {
			add(r)
		}
	}
	return out
}

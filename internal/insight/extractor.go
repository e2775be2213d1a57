package insight

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/inxource/inxight/internal/source"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultParallelism = 4
	surrogateKey       = "id"
)

// timestampColumns are the creation-timestamp columns recognised by the
// probe, in order of preference.
var timestampColumns = []string{"created_at", "inserted_at"}

// Source is the read-only tabular data source the extractor queries.
type Source interface {
	Columns(ctx context.Context, table string) ([]string, error)
	RowsSince(ctx context.Context, table, column string, since time.Time) (source.Rows, error)
	RecentRows(ctx context.Context, table, key string, limit int) (source.Rows, error)
}

// Extractor pulls a bounded, recent slice of each monitored table.
type Extractor struct {
	source      Source
	timeout     time.Duration
	parallelism int
	now         func() time.Time
	logger      *slog.Logger
}

// NewExtractor creates an Extractor. timeout bounds every data source call
// (default 30s if <= 0); parallelism bounds how many tables are extracted at
// once (default 4 if <= 0).
func NewExtractor(src Source, timeout time.Duration, parallelism int) *Extractor {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Extractor{
		source:      src,
		timeout:     timeout,
		parallelism: parallelism,
		now:         time.Now,
		logger:      slog.Default(),
	}
}

// Extract snapshots every table. A table that fails is returned as an empty
// snapshot and reported in the fault list; it never stops its siblings.
func (e *Extractor) Extract(ctx context.Context, tables []string, w Window) (map[string]Snapshot, []*ExtractionFault) {
	var (
		mu     sync.Mutex
		snaps  = make(map[string]Snapshot, len(tables))
		faults []*ExtractionFault
	)

	var g errgroup.Group
	g.SetLimit(e.parallelism)

	for _, table := range tables {
		g.Go(func() error {
			snap, err := e.extractTable(ctx, table, w)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fault := &ExtractionFault{Table: table, Err: err}
				e.logger.Warn("table extraction failed", "table", table, "error", err)
				faults = append(faults, fault)
				snap = Snapshot{Table: table}
			}
			snaps[table] = snap
			return nil
		})
	}
	_ = g.Wait()

	return snaps, faults
}

func (e *Extractor) extractTable(ctx context.Context, table string, w Window) (Snapshot, error) {
	cols, err := e.columns(ctx, table)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Table: table}

	var rows source.Rows
	if col := findColumn(cols, timestampColumns...); col != "" {
		since := e.now().UTC().Add(-time.Duration(w.Days) * 24 * time.Hour)
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		rows, err = e.source.RowsSince(callCtx, table, col, since)
		snap.TimeColumn = col
		snap.Since = since
	} else {
		key := findColumn(cols, surrogateKey)
		if key == "" {
			if len(cols) == 0 {
				return Snapshot{}, errors.New("table has no columns")
			}
			key = cols[0]
		}
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		rows, err = e.source.RecentRows(callCtx, table, key, w.FallbackLimit)
	}
	if err != nil {
		return Snapshot{}, err
	}

	snap.Columns = rows.Columns
	snap.Rows = make([]Row, 0, len(rows.Values))
	for _, vals := range rows.Values {
		row := make(Row, len(rows.Columns))
		for i, col := range rows.Columns {
			if i < len(vals) {
				row[col] = vals[i]
			}
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap, nil
}

func (e *Extractor) columns(ctx context.Context, table string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.source.Columns(ctx, table)
}

// findColumn returns the first of want present in cols, matched
// case-insensitively, using the spelling found in cols.
func findColumn(cols []string, want ...string) string {
	for _, w := range want {
		for _, c := range cols {
			if strings.EqualFold(c, w) {
				return c
			}
		}
	}
	return ""
}

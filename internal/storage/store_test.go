package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) || len(v1) != 2 {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_admin_insights_type_created", "idx_insight_runs_started"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestSaveAndLatestReport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		r := Report{
			ID:        fmt.Sprintf("w%d", i),
			Insight:   `{"orders":{"concern":"c","recommendation":"r"}}`,
			Type:      "weekly",
			CreatedAt: FormatTime(base.Add(time.Duration(i) * 24 * time.Hour)),
		}
		if err := s.SaveReport(ctx, r); err != nil {
			t.Fatalf("SaveReport: %v", err)
		}
	}
	if err := s.SaveReport(ctx, Report{ID: "m0", Insight: "{}", Type: "monthly", CreatedAt: FormatTime(base.Add(30 * 24 * time.Hour))}); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	got, err := s.LatestReport(ctx, "weekly")
	if err != nil {
		t.Fatalf("LatestReport: %v", err)
	}
	if got.ID != "w2" {
		t.Errorf("latest weekly = %q, want w2", got.ID)
	}
	if got.CreatedAt != FormatTime(base.Add(48*time.Hour)) {
		t.Errorf("CreatedAt = %q", got.CreatedAt)
	}

	list, err := s.ListReports(ctx, "weekly", 2)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(list) != 2 || list[0].ID != "w2" || list[1].ID != "w1" {
		t.Errorf("ListReports = %+v", list)
	}

	byID, err := s.GetReport(ctx, "m0")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if byID.Type != "monthly" {
		t.Errorf("Type = %q, want monthly", byID.Type)
	}
}

func TestLatestReportNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LatestReport(context.Background(), "weekly")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	_, err = s.GetReport(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSaveReportDefaultsCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before := time.Now().UTC()
	if err := s.SaveReport(ctx, Report{ID: "x", Insight: "{}", Type: "weekly"}); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	got, err := s.LatestReport(ctx, "weekly")
	if err != nil {
		t.Fatalf("LatestReport: %v", err)
	}
	ts, err := time.Parse(TimeLayout, got.CreatedAt)
	if err != nil {
		t.Fatalf("parsing CreatedAt %q: %v", got.CreatedAt, err)
	}
	if ts.Before(before.Add(-time.Second)) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("CreatedAt %v not close to now", ts)
	}
}

func TestRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	runs := []Run{
		{ID: "r1", Type: "weekly", StartedAt: start, FinishedAt: start.Add(time.Second), Outcome: OutcomeGenerated, ReportID: "w1", Tables: 8},
		{ID: "r2", Type: "monthly", StartedAt: start.Add(time.Minute), FinishedAt: start.Add(time.Minute), Outcome: OutcomeSkipped, Message: "3 days remaining"},
	}
	for _, r := range runs {
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	all, err := s.ListRuns(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 2 || all[0].ID != "r2" {
		t.Fatalf("ListRuns = %+v", all)
	}
	if !all[1].StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", all[1].StartedAt, start)
	}

	weekly, err := s.ListRuns(ctx, "weekly", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(weekly) != 1 || weekly[0].Tables != 8 || weekly[0].ReportID != "w1" {
		t.Errorf("weekly runs = %+v", weekly)
	}
}

func TestOpenDriverUnsupported(t *testing.T) {
	if _, err := OpenDriver("mysql", "", ""); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	got := postgresDialect.rebind("SELECT * FROM t WHERE a = ? AND b = ?")
	if got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	if got := sqliteDialect.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestOpenDriverSQLiteUsesDataDir(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDriver(DriverSQLite, "ignored", dir)
	if err != nil {
		t.Fatalf("OpenDriver: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, "inxight.db")); err != nil {
		t.Errorf("database file not created in data dir: %v", err)
	}
}

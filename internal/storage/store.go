package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Driver names accepted by OpenDriver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Store persists insight reports and run history in SQLite or Postgres.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "inxight.db")
	}

	db, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}

	return newStore(db, sqliteDialect)
}

// OpenPostgres connects to a Postgres database (the production admin_insights
// table lives there) and runs pending migrations.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return newStore(db, postgresDialect)
}

// OpenDriver dispatches to Open or OpenPostgres. SQLite ignores dsn and
// keeps its file in dataDir.
func OpenDriver(driver, dsn, dataDir string) (*Store, error) {
	switch driver {
	case DriverSQLite, "":
		return Open(dataDir)
	case DriverPostgres, "postgres":
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func newStore(db *sql.DB, d dialect) (*Store, error) {
	s := &Store{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(s.dialect.schemaVersionDDL); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	dir := "migrations/" + s.dialect.name
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow(s.dialect.rebind("SELECT COUNT(*) FROM schema_version WHERE version = ?"), version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(dir + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec(s.dialect.rebind("INSERT INTO schema_version (version) VALUES (?)"), version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Reports ---

// SaveReport inserts a report. An empty CreatedAt is set to now.
func (s *Store) SaveReport(ctx context.Context, r Report) error {
	if r.CreatedAt == "" {
		r.CreatedAt = FormatTime(time.Now())
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO admin_insights (id, insight, type, created_at)
		VALUES (?, ?, ?, ?)`),
		r.ID, r.Insight, r.Type, s.dialect.timeArg(r.CreatedAt),
	)
	return err
}

// LatestReport returns the most recent report of type typ.
func (s *Store) LatestReport(ctx context.Context, typ string) (Report, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT id, insight, type, created_at
		FROM admin_insights WHERE type = ?
		ORDER BY created_at DESC LIMIT 1`), typ)
	r, err := s.scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	return r, err
}

// GetReport returns the report with the given id.
func (s *Store) GetReport(ctx context.Context, id string) (Report, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT id, insight, type, created_at
		FROM admin_insights WHERE id = ?`), id)
	r, err := s.scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	return r, err
}

// ListReports returns up to limit reports of type typ, newest first.
func (s *Store) ListReports(ctx context.Context, typ string, limit int) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, insight, type, created_at
		FROM admin_insights WHERE type = ?
		ORDER BY created_at DESC LIMIT ?`), typ, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Report
	for rows.Next() {
		r, err := s.scanReport(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanReport(row scanner) (Report, error) {
	var r Report
	var createdAt any
	if err := row.Scan(&r.ID, &r.Insight, &r.Type, &createdAt); err != nil {
		return Report{}, err
	}
	r.CreatedAt = timestampText(createdAt)
	return r, nil
}

// timestampText normalizes a scanned created_at value to text.
func timestampText(v any) string {
	switch t := v.(type) {
	case time.Time:
		return FormatTime(t)
	case []byte:
		return string(t)
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// --- Runs ---

// SaveRun records one generation attempt.
func (s *Store) SaveRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO insight_runs (id, type, started_at, finished_at, outcome, report_id, tables, extraction_faults, generation_faults, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Type, s.dialect.timeArg(FormatTime(r.StartedAt)), s.dialect.timeArg(FormatTime(r.FinishedAt)),
		r.Outcome, r.ReportID, r.Tables, r.ExtractionFaults, r.GenerationFaults, r.Message,
	)
	return err
}

// ListRuns returns up to limit runs, newest first. An empty typ matches all.
func (s *Store) ListRuns(ctx context.Context, typ string, limit int) ([]Run, error) {
	query := `SELECT id, type, started_at, finished_at, outcome, report_id, tables, extraction_faults, generation_faults, message
		FROM insight_runs`
	args := []any{}
	if typ != "" {
		query += " WHERE type = ?"
		args = append(args, typ)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		var started, finished any
		if err := rows.Scan(&r.ID, &r.Type, &started, &finished, &r.Outcome, &r.ReportID,
			&r.Tables, &r.ExtractionFaults, &r.GenerationFaults, &r.Message); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(TimeLayout, timestampText(started)); err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		if r.FinishedAt, err = time.Parse(TimeLayout, timestampText(finished)); err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

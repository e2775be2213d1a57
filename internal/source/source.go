// Package source reads recent rows from the marketplace's relational
// datastore. It is strictly read-only.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Rows is a materialised query result in column order.
type Rows struct {
	Columns []string
	Values  [][]any
}

// DB is a Tabular Data Source backed by database/sql.
type DB struct {
	db     *sql.DB
	driver string
}

// Open connects to the datastore. driver is "pgx" (Postgres, including hosted
// Supabase) or "sqlite".
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported source driver %q", driver)
	}

	db, err := sql.Open(driver, strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging source: %w", err)
	}
	return New(db, driver), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string) *DB {
	return &DB{db: db, driver: driver}
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// Columns describes table with a one-row probe.
func (d *DB) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT * FROM "+quote(table)+" LIMIT 1")
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	return cols, rows.Err()
}

// RowsSince returns every row whose column is at or after since, newest first.
func (d *DB) RowsSince(ctx context.Context, table, column string, since time.Time) (Rows, error) {
	col := quote(column)
	if d.driver == DriverSQLite {
		// SQLite keeps timestamps as text in several layouts; datetime()
		// normalises them to UTC before comparing.
		col = "datetime(" + col + ")"
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s >= %s ORDER BY %s DESC",
		quote(table), col, d.placeholder(1), col)
	return d.query(ctx, query, d.timeArg(since))
}

// RecentRows returns the limit rows with the highest key, newest first.
func (d *DB) RecentRows(ctx context.Context, table, key string, limit int) (Rows, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s DESC LIMIT %s",
		quote(table), quote(key), d.placeholder(1))
	return d.query(ctx, query, limit)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Rows{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Rows{}, err
	}

	result := Rows{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Rows{}, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		result.Values = append(result.Values, vals)
	}
	return result, rows.Err()
}

func (d *DB) placeholder(n int) string {
	if d.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// sqliteTimeLayout is the form datetime() returns.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// timeArg renders since for comparison against the column expression used
// by RowsSince.
func (d *DB) timeArg(since time.Time) any {
	if d.driver == DriverPostgres {
		return since
	}
	return since.UTC().Format(sqliteTimeLayout)
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/02loveslollipop/lora-telemetry-relay/services/relay/telemetry"
)

var (
	_ Gateway = (*PostgresStore)(nil)
	_ Counter = (*PostgresStore)(nil)
)

// PostgresStore keeps readings in a single table with one nullable
// DOUBLE PRECISION column per sensor field.
type PostgresStore struct {
	pool   *pgxpool.Pool
	name   string
	table  string
	fields []string
	known  map[string]bool
}

const createTableSQL = `
    CREATE TABLE IF NOT EXISTS %[1]s (
        id        BIGSERIAL PRIMARY KEY,
        ts        TIMESTAMPTZ NOT NULL,
        device_id TEXT NOT NULL
    )
`

const createIndexSQL = `CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (ts DESC, id DESC)`

const addColumnSQL = `ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS %[2]s DOUBLE PRECISION`

// NewPostgresStore connects a pgx pool and makes sure the readings table
// has a column for every field.
func NewPostgresStore(ctx context.Context, databaseURL, table string, fields []string) (*PostgresStore, error) {
	if table == "" {
		return nil, errors.New("postgres: table name is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classifyPostgres("ping", err)
	}

	s := newPostgresStore(pool, table, fields)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func newPostgresStore(pool *pgxpool.Pool, table string, fields []string) *PostgresStore {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	known := make(map[string]bool, len(sorted))
	for _, f := range sorted {
		known[f] = true
	}
	return &PostgresStore{
		pool:   pool,
		name:   table,
		table:  pgx.Identifier{table}.Sanitize(),
		fields: sorted,
		known:  known,
	}
}

// EnsureSchema creates the table and index and adds missing field columns.
// Existing columns are left untouched.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(createTableSQL, s.table),
		fmt.Sprintf(createIndexSQL, s.table, pgx.Identifier{s.name + "_ts_idx"}.Sanitize()),
	}
	for _, f := range s.fields {
		stmts = append(stmts, fmt.Sprintf(addColumnSQL, s.table, pgx.Identifier{f}.Sanitize()))
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return classifyPostgres("ensure schema", err)
		}
	}
	return nil
}

// Close releases the pool resources.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Append inserts one row. Only present fields are written; the rest stay NULL.
func (s *PostgresStore) Append(ctx context.Context, r telemetry.Reading) error {
	sql, args, err := s.buildInsert(r)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return classifyPostgres("append reading", err)
	}
	return nil
}

func (s *PostgresStore) buildInsert(r telemetry.Reading) (string, []any, error) {
	cols := []string{"ts", "device_id"}
	args := []any{r.Timestamp.UTC(), r.DeviceID}
	for _, name := range r.FieldNames() {
		if !s.known[name] {
			return "", nil, fmt.Errorf("%w: field %q has no column", ErrSerialization, name)
		}
		cols = append(cols, pgx.Identifier{name}.Sanitize())
		args = append(args, r.Fields[name])
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}

	sql := "INSERT INTO " + s.table +
		" (" + strings.Join(cols, ", ") + ")" +
		" VALUES (" + strings.Join(placeholders, ", ") + ")"
	return sql, args, nil
}

func (s *PostgresStore) selectRecentSQL() string {
	cols := []string{"ts", "device_id"}
	for _, f := range s.fields {
		cols = append(cols, pgx.Identifier{f}.Sanitize())
	}
	return "SELECT " + strings.Join(cols, ", ") +
		" FROM " + s.table +
		" ORDER BY ts DESC, id DESC LIMIT $1"
}

// QueryRecent returns up to limit rows, newest first.
func (s *PostgresStore) QueryRecent(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.pool.Query(ctx, s.selectRecentSQL(), limit)
	if err != nil {
		return nil, classifyPostgres("query recent", err)
	}
	defer rows.Close()

	readings := make([]telemetry.Reading, 0)
	for rows.Next() {
		var ts time.Time
		var deviceID string
		values := make([]pgtype.Float8, len(s.fields))

		dest := make([]any, 0, len(values)+2)
		dest = append(dest, &ts, &deviceID)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: scan reading: %w", ErrSerialization, err)
		}

		r := telemetry.Reading{
			Timestamp: ts.UTC(),
			DeviceID:  deviceID,
			Fields:    make(map[string]float64),
		}
		for i, v := range values {
			if v.Valid {
				r.Fields[s.fields[i]] = v.Float64
			}
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("query recent", err)
	}
	return readings, nil
}

// Purge deletes in a single statement so the count matches what was removed.
func (s *PostgresStore) Purge(ctx context.Context, olderThan *time.Time) (int64, error) {
	sql := "DELETE FROM " + s.table
	var args []any
	if olderThan != nil {
		sql += " WHERE ts < $1"
		args = append(args, olderThan.UTC())
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classifyPostgres("purge readings", err)
	}
	return tag.RowsAffected(), nil
}

// CountOlderThan counts what Purge would remove.
func (s *PostgresStore) CountOlderThan(ctx context.Context, olderThan *time.Time) (int64, error) {
	sql := "SELECT count(*) FROM " + s.table
	var args []any
	if olderThan != nil {
		sql += " WHERE ts < $1"
		args = append(args, olderThan.UTC())
	}

	var n int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, classifyPostgres("count readings", err)
	}
	return n, nil
}

// classifyPostgres maps pgx failures onto the gateway error kinds.
func classifyPostgres(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%w: %s: %w", ErrConstraint, op, err)
		case strings.HasPrefix(pgErr.Code, "22"):
			return fmt.Errorf("%w: %s: %w", ErrSerialization, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

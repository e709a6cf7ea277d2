package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// DefaultTable is the lock table used when none is configured.
const DefaultTable = "file_locks"

type queries struct {
	schema string
	insert string
	read   string
	update string
	delete string
}

func newQueries(table string) queries {
	t := pq.QuoteIdentifier(table)
	return queries{
		schema: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	processing_key TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	version TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, t),
		insert: fmt.Sprintf(`INSERT INTO %s (processing_key, status, version, updated_at) VALUES ($1, $2, $3, now()) ON CONFLICT (processing_key) DO NOTHING`, t),
		read:   fmt.Sprintf(`SELECT status, version FROM %s WHERE processing_key = $1`, t),
		update: fmt.Sprintf(`UPDATE %s SET status = $1, version = $2, updated_at = now() WHERE processing_key = $3 AND version = $4`, t),
		delete: fmt.Sprintf(`DELETE FROM %s WHERE processing_key = $1`, t),
	}
}

// Postgres is a Store backed by a single PostgreSQL table. The primary key on
// processing_key makes the insert the mutual-exclusion point.
type Postgres struct {
	db      *sql.DB
	queries queries
}

// NewPostgres wraps an open database handle. An empty table selects DefaultTable.
func NewPostgres(db *sql.DB, table string) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{db: db, queries: newQueries(table)}
}

// EnsureSchema creates the lock table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, p.queries.schema); err != nil {
		return fmt.Errorf("ensure lock table: %w", err)
	}
	return nil
}

// TryAcquire inserts a record for key. Any insert failure is treated as a
// denial so that two runs can never both believe they own the key.
func (p *Postgres) TryAcquire(ctx context.Context, key, initialStatus string) Acquisition {
	res, err := p.db.ExecContext(ctx, p.queries.insert, key, initialStatus, newVersion())
	if err != nil {
		logDBError(ctx, "lock insert failed", key, err)
		return Acquisition{Cause: fmt.Errorf("acquire %s: %w", key, err)}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Acquisition{Cause: fmt.Errorf("acquire %s: %w", key, err)}
	}
	if n == 1 {
		return Acquisition{Acquired: true}
	}

	holder, found, err := p.Read(ctx, key)
	if err != nil || !found {
		return Acquisition{}
	}
	return Acquisition{Holder: &holder}
}

func (p *Postgres) Read(ctx context.Context, key string) (Record, bool, error) {
	rec := Record{Key: key}
	err := p.db.QueryRowContext(ctx, p.queries.read, key).Scan(&rec.Status, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read lock %s: %w", key, err)
	}
	return rec, true, nil
}

// UpdateStatus rewrites the status of an existing record, guarded by the
// version read just before.
func (p *Postgres) UpdateStatus(ctx context.Context, key, status string) error {
	current, found, err := p.Read(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("update %s: %w", key, ErrNotLocked)
	}

	res, err := p.db.ExecContext(ctx, p.queries.update, status, newVersion(), key, current.Version)
	if err != nil {
		logDBError(ctx, "lock update failed", key, err)
		return fmt.Errorf("update %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", key, ErrVersionConflict)
	}
	return nil
}

// Release deletes the record for key. Releasing an absent key only warns.
func (p *Postgres) Release(ctx context.Context, key string) error {
	res, err := p.db.ExecContext(ctx, p.queries.delete, key)
	if err != nil {
		logDBError(ctx, "lock release failed", key, err)
		return fmt.Errorf("release %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if n == 0 {
		slog.WarnContext(ctx, "released lock was not held", "processing_key", key)
	}
	return nil
}

func logDBError(ctx context.Context, msg, key string, err error) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		slog.ErrorContext(ctx, msg,
			"processing_key", key,
			"pg_code", string(pqErr.Code),
			"pg_message", pqErr.Message,
		)
		return
	}
	slog.ErrorContext(ctx, msg, "processing_key", key, "error", err)
}

package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"submission-sync/internal/common/errors"

	"github.com/lib/pq"
)

// PostgresTable stores each row as a JSONB document keyed by the id column.
// Appends take a short lock timeout so a row held by another writer fails
// fast with a locked error instead of queueing.
type PostgresTable struct {
	db          *sql.DB
	idColumn    string
	lockTimeout time.Duration
	autoCreate  bool

	mu      sync.Mutex
	created map[string]bool
}

type PostgresTableConfig struct {
	IDColumn    string
	LockTimeout time.Duration
	// AutoCreate creates missing tables on first use.
	AutoCreate bool
}

func NewPostgresTable(db *sql.DB, cfg PostgresTableConfig) (*PostgresTable, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres remote table requires a database")
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = ColumnRequestID
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	return &PostgresTable{
		db:          db,
		idColumn:    cfg.IDColumn,
		lockTimeout: cfg.LockTimeout,
		autoCreate:  cfg.AutoCreate,
		created:     map[string]bool{},
	}, nil
}

func (t *PostgresTable) AppendRow(ctx context.Context, table string, row Row) error {
	id, ok := row.Get(t.idColumn)
	if !ok || id == "" {
		return fmt.Errorf("%w: row has no %s", errors.ErrSchemaMismatch, t.idColumn)
	}
	cells, err := json.Marshal(row.Map())
	if err != nil {
		return fmt.Errorf("%w: encode row: %v", errors.ErrSchemaMismatch, err)
	}
	if err := t.ensureTable(ctx, table); err != nil {
		return classifyPostgres("append row", err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPostgres("append row", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", t.lockTimeout.Milliseconds())); err != nil {
		return classifyPostgres("append row", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, cells, created_at, updated_at)
		VALUES ($1, $2::jsonb, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING`, quoteIdentifier(table))
	if _, err := tx.ExecContext(ctx, query, id, string(cells)); err != nil {
		return classifyPostgres("append row", err)
	}
	if err := tx.Commit(); err != nil {
		return classifyPostgres("append row", err)
	}
	return nil
}

func (t *PostgresTable) ExistingIDs(ctx context.Context, table, idColumn string) (map[string]struct{}, error) {
	if err := t.ensureTable(ctx, table); err != nil {
		return nil, classifyPostgres("scan ids", err)
	}
	query := fmt.Sprintf("SELECT cells ->> $1 FROM %s WHERE cells ->> $1 IS NOT NULL", quoteIdentifier(table))
	rows, err := t.db.QueryContext(ctx, query, idColumn)
	if err != nil {
		return nil, classifyPostgres("scan ids", err)
	}
	defer rows.Close()

	ids := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classifyPostgres("scan ids", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("scan ids", err)
	}
	return ids, nil
}

func (t *PostgresTable) UpdateCells(ctx context.Context, table, idColumn, id string, cells map[string]string) error {
	patch, err := json.Marshal(cells)
	if err != nil {
		return fmt.Errorf("%w: encode cells: %v", errors.ErrSchemaMismatch, err)
	}
	query := fmt.Sprintf(`
		UPDATE %s SET cells = cells || $1::jsonb, updated_at = NOW()
		WHERE cells ->> $2 = $3`, quoteIdentifier(table))
	res, err := t.db.ExecContext(ctx, query, string(patch), idColumn, id)
	if err != nil {
		return classifyPostgres("update cells", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyPostgres("update cells", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: update cells: no row with %s = %s", errors.ErrNotFound, idColumn, id)
	}
	return nil
}

func (t *PostgresTable) ensureTable(ctx context.Context, table string) error {
	if !t.autoCreate {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.created[table] {
		return nil
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			cells JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, quoteIdentifier(table))
	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return err
	}
	t.created[table] = true
	return nil
}

// classifyPostgres maps driver errors onto the remote error classes using
// the SQLSTATE code when there is one.
func classifyPostgres(op string, err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "55P03" || pqErr.Code == "40P01":
			return fmt.Errorf("%w: %s: %s", errors.ErrLocked, op, pqErr.Message)
		case pqErr.Code == "42P01":
			return fmt.Errorf("%w: %s: %s", errors.ErrNotFound, op, pqErr.Message)
		case pqErr.Code == "42703" || pqErr.Code == "42804" || pqErr.Code == "22P02":
			return fmt.Errorf("%w: %s: %s", errors.ErrSchemaMismatch, op, pqErr.Message)
		case pqErr.Code.Class() == "28":
			return fmt.Errorf("%w: %s: %s", errors.ErrUnauthorized, op, pqErr.Message)
		}
		return fmt.Errorf("%w: %s: %s (%s)", errors.ErrTransient, op, pqErr.Message, pqErr.Code)
	}
	return fmt.Errorf("%w: %s: %v", errors.ErrTransient, op, err)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const postgresOperationTimeout = 5 * time.Second

// PostgresBackend stores the whole journal snapshot as one row keyed by
// journal name, so several processes can share a journal database.
type PostgresBackend struct {
	db        *sql.DB
	tableName string
	key       string

	initOnce sync.Once
	initErr  error
}

func NewPostgresBackend(db *sql.DB, tableName, key string) (*PostgresBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres journal backend requires a database")
	}
	if strings.TrimSpace(tableName) == "" {
		tableName = "submission_journal"
	}
	if strings.TrimSpace(key) == "" {
		key = "default"
	}
	return &PostgresBackend{db: db, tableName: tableName, key: key}, nil
}

func (b *PostgresBackend) Load(ctx context.Context) (*Snapshot, error) {
	if err := b.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE journal_key = $1", quoteIdentifier(b.tableName))
	var payload string
	err := b.db.QueryRowContext(ctx, query, b.key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (b *PostgresBackend) Save(ctx context.Context, snap *Snapshot) error {
	if err := b.ensureReady(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (journal_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (journal_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, quoteIdentifier(b.tableName))
	_, err = b.db.ExecContext(ctx, query, b.key, string(payload))
	return err
}

// Close is a no-op; the pool is owned by the caller.
func (b *PostgresBackend) Close() error { return nil }

func (b *PostgresBackend) ensureReady(ctx context.Context) error {
	b.initOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				journal_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(b.tableName))
		if _, err := b.db.ExecContext(ctx, query); err != nil {
			b.initErr = err
		}
	})
	return b.initErr
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

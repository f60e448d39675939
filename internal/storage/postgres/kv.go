package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trend-oracle/internal/storage"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS oracle_kv (
        key        TEXT        PRIMARY KEY,
        value      BYTEA       NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	putSQL = `INSERT INTO oracle_kv (key, value)
    VALUES ($1, $2)
    ON CONFLICT (key) DO UPDATE
    SET value      = EXCLUDED.value,
        updated_at = now();`

	createSQL = `INSERT INTO oracle_kv (key, value)
    VALUES ($1, $2)
    ON CONFLICT (key) DO NOTHING;`

	getSQL = `SELECT value FROM oracle_kv WHERE key = $1;`

	scanSQL = `SELECT key, value
    FROM oracle_kv
    WHERE key LIKE $1 ESCAPE '\'
    ORDER BY key;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// KV stores oracle records in a single PostgreSQL table.
type KV struct {
	pool *pgxpool.Pool
}

// New wires a pgx pool into a KV store.
func New(pool *pgxpool.Pool) *KV {
	return &KV{pool: pool}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *KV) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("create oracle_kv: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *KV) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *KV) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, storage.ErrNotConfigured
	}
	return s.pool, nil
}

// Put upserts value under key.
func (s *KV) Put(ctx context.Context, key string, value []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, putSQL, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Create inserts value under key unless the key exists.
func (s *KV) Create(ctx context.Context, key string, value []byte) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, createSQL, key, value)
	if err != nil {
		return fmt.Errorf("create %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

// Get reads the value under key.
func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var value []byte
	if err := pool.QueryRow(ctx, getSQL, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Scan visits keys with the given prefix in key order.
func (s *KV) Scan(ctx context.Context, prefix string, fn storage.ScanFunc) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	rows, err := pool.Query(ctx, scanSQL, likePrefix(prefix))
	if err != nil {
		return fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *KV) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

var (
	_ storage.KV             = (*KV)(nil)
	_ storage.AdvisoryLocker = (*KV)(nil)
)

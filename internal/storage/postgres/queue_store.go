// Package postgres provides a Postgres-backed work queue.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/headless-fetch/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "fetch_queue"

// Config controls the Postgres connection pool used for queue rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// QueueStore keeps queue items in a Postgres table. State data lives in a
// jsonb column and partial updates are merged into it.
type QueueStore struct {
	pool  pool
	table string
}

// NewQueueStore connects to Postgres using cfg.
func NewQueueStore(ctx context.Context, cfg Config) (*QueueStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("queue.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewQueueStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewQueueStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewQueueStoreWithPool(p pool, table string) (*QueueStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &QueueStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *QueueStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the queue table and its claim index if missing.
func (s *QueueStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id         BIGSERIAL PRIMARY KEY,
	url        TEXT NOT NULL,
	host       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	fetched    BOOLEAN NOT NULL DEFAULT FALSE,
	claimed    BOOLEAN NOT NULL DEFAULT FALSE,
	state_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_claim_idx ON %[1]s (id) WHERE status = 'queued' AND NOT claimed;`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create queue schema: %w", err)
	}
	return nil
}

const returning = `RETURNING id, url, host, status, fetched, state_data`

// Add inserts rawURL as a queued item.
func (s *QueueStore) Add(ctx context.Context, rawURL string) (crawler.QueueItem, error) {
	normalized, host, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return crawler.QueueItem{}, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (url, host, status) VALUES ($1, $2, $3) %s`, s.table, returning)
	item, err := scanItem(s.pool.QueryRow(ctx, query, normalized, host, string(crawler.StatusQueued)))
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("insert queue item: %w", err)
	}
	return item, nil
}

// Get loads the item with id.
func (s *QueueStore) Get(ctx context.Context, id int64) (crawler.QueueItem, error) {
	query := fmt.Sprintf(`SELECT id, url, host, status, fetched, state_data FROM %s WHERE id = $1`, s.table)
	item, err := scanItem(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.QueueItem{}, fmt.Errorf("get %d: %w", id, crawler.ErrItemNotFound)
	}
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("get %d: %w", id, err)
	}
	return item, nil
}

// Update applies a partial update in a single statement. Unset fields keep
// their stored values; state data keys are merged into the stored object.
func (s *QueueStore) Update(ctx context.Context, id int64, update crawler.Update) (crawler.QueueItem, error) {
	patch := []byte("{}")
	if update.StateData != nil {
		var err error
		if patch, err = json.Marshal(update.StateData); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("marshal state data: %w", err)
		}
	}
	query := fmt.Sprintf(`UPDATE %s SET
	status = COALESCE(NULLIF($2, ''), status),
	fetched = COALESCE($3, fetched),
	state_data = state_data || $4::jsonb,
	updated_at = now()
WHERE id = $1 %s`, s.table, returning)
	item, err := scanItem(s.pool.QueryRow(ctx, query, id, string(update.Status), update.Fetched, string(patch)))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.QueueItem{}, fmt.Errorf("update %d: %w", id, crawler.ErrItemNotFound)
	}
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("update %d: %w", id, err)
	}
	return item, nil
}

// Claim marks the oldest unclaimed queued row as claimed and returns it.
// Concurrent claimers skip rows locked by each other.
func (s *QueueStore) Claim(ctx context.Context) (crawler.QueueItem, error) {
	query := fmt.Sprintf(`UPDATE %[1]s SET claimed = TRUE, updated_at = now()
WHERE id = (
	SELECT id FROM %[1]s
	WHERE status = $1 AND NOT claimed
	ORDER BY id
	FOR UPDATE SKIP LOCKED
	LIMIT 1
) %[2]s`, s.table, returning)
	item, err := scanItem(s.pool.QueryRow(ctx, query, string(crawler.StatusQueued)))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.QueueItem{}, crawler.ErrQueueEmpty
	}
	if err != nil {
		return crawler.QueueItem{}, fmt.Errorf("claim queue item: %w", err)
	}
	return item, nil
}

// Counts returns the number of rows per status.
func (s *QueueStore) Counts(ctx context.Context) (map[crawler.Status]int, error) {
	query := fmt.Sprintf(`SELECT status, count(*) FROM %s GROUP BY status`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()
	out := make(map[crawler.Status]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan queue count: %w", err)
		}
		out[crawler.Status(status)] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	return out, nil
}

func scanItem(row pgx.Row) (crawler.QueueItem, error) {
	var (
		item   crawler.QueueItem
		status string
		state  []byte
	)
	if err := row.Scan(&item.ID, &item.URL, &item.Host, &status, &item.Fetched, &state); err != nil {
		return crawler.QueueItem{}, err
	}
	item.Status = crawler.Status(status)
	if len(state) > 0 {
		if err := json.Unmarshal(state, &item.StateData); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("decode state data: %w", err)
		}
	}
	return item, nil
}

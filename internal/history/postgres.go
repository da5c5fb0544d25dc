package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id           BIGSERIAL    PRIMARY KEY,
    epoch        BIGINT       NOT NULL,
    kind         TEXT         NOT NULL,
    text         TEXT         NOT NULL DEFAULT '',
    raw_text     TEXT         NOT NULL DEFAULT '',
    confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
    tier         TEXT         NOT NULL DEFAULT '',
    provider     TEXT         NOT NULL DEFAULT '',
    device       TEXT         NOT NULL DEFAULT '',
    audio_ns     BIGINT       NOT NULL DEFAULT 0,
    latency_ns   BIGINT       NOT NULL DEFAULT 0,
    error        TEXT         NOT NULL DEFAULT '',
    corrections  JSONB        NOT NULL DEFAULT '[]',
    started_at   TIMESTAMPTZ  NOT NULL,
    ended_at     TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_utterances_ended_at
    ON utterances (ended_at);

CREATE INDEX IF NOT EXISTS idx_utterances_fts
    ON utterances USING GIN (to_tsvector('simple', text));
`

const entryColumns = `id, epoch, kind, text, raw_text, confidence, tier, provider, device,
	audio_ns, latency_ns, error, corrections, started_at, ended_at`

// PostgresStore persists entries in the utterances table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the schema when missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the history schema. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlUtterances); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append implements [Store].
func (s *PostgresStore) Append(ctx context.Context, e Entry) (int64, error) {
	const q = `
		INSERT INTO utterances
		    (epoch, kind, text, raw_text, confidence, tier, provider, device,
		     audio_ns, latency_ns, error, corrections, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14)
		RETURNING id`

	raw := []byte("[]")
	if len(e.Corrections) > 0 {
		var err error
		if raw, err = json.Marshal(e.Corrections); err != nil {
			return 0, fmt.Errorf("history: encode corrections: %w", err)
		}
	}

	var id int64
	err := s.pool.QueryRow(ctx, q,
		int64(e.Epoch),
		e.Kind,
		e.Text,
		e.RawText,
		e.Confidence,
		e.Tier,
		e.Provider,
		e.Device,
		e.Audio.Nanoseconds(),
		e.Latency.Nanoseconds(),
		e.Error,
		string(raw),
		e.Started,
		e.Ended,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("history: append: %w", err)
	}
	return id, nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	q := `SELECT ` + entryColumns + ` FROM utterances ORDER BY id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [Store] using PostgreSQL full-text search with the
// language-neutral 'simple' configuration.
func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	q := `SELECT ` + entryColumns + `
		FROM   utterances
		WHERE  to_tsvector('simple', text) @@ plainto_tsquery('simple', $1)
		ORDER  BY id DESC`
	args := []any{query}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	return collectEntries(rows)
}

// Close implements [Store].
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e                  Entry
			epoch              int64
			audioNS, latencyNS int64
			corrections        []byte
		)
		if err := row.Scan(
			&e.ID,
			&epoch,
			&e.Kind,
			&e.Text,
			&e.RawText,
			&e.Confidence,
			&e.Tier,
			&e.Provider,
			&e.Device,
			&audioNS,
			&latencyNS,
			&e.Error,
			&corrections,
			&e.Started,
			&e.Ended,
		); err != nil {
			return Entry{}, err
		}
		e.Epoch = uint64(epoch)
		e.Audio = time.Duration(audioNS)
		e.Latency = time.Duration(latencyNS)
		if len(corrections) > 0 {
			if err := json.Unmarshal(corrections, &e.Corrections); err != nil {
				return Entry{}, fmt.Errorf("decode corrections: %w", err)
			}
			if len(e.Corrections) == 0 {
				e.Corrections = nil
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

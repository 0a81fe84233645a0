// Package postgres is the PostgreSQL state backend, for deployments where
// several engine processes share one database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"argent/internal/faults"
	"argent/internal/logging"
	"argent/internal/state"
	"argent/internal/store"
)

var (
	_ store.Store     = (*Client)(nil)
	_ store.Journaler = (*Client)(nil)
)

// Client implements store.Store over a pgx pool.
type Client struct {
	pool *pgxpool.Pool
}

// New connects, pings, and ensures the schema.
func New(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	c := &Client{pool: pool}
	if err := c.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logging.Store("postgres store ready")
	return c, nil
}

// EnsureSchema creates the tables if they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS player_state (
    player_id  TEXT PRIMARY KEY,
    version    BIGINT NOT NULL,
    snapshot   JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS delta_journal (
    id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    player_id  TEXT NOT NULL,
    version    BIGINT NOT NULL,
    seq        INTEGER NOT NULL,
    kind       TEXT NOT NULL,
    payload    JSONB NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_delta_journal_player ON delta_journal (player_id, version);
`
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}

// Snapshot implements store.Store.
func (c *Client) Snapshot(ctx context.Context, playerID string) (*state.Snapshot, error) {
	var payload []byte
	err := c.pool.QueryRow(ctx, `SELECT snapshot FROM player_state WHERE player_id = $1`, playerID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return state.Empty(playerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", playerID, err)
	}
	var snap state.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", playerID, err)
	}
	return &snap, nil
}

// Apply implements store.Store. The row lock taken by SELECT ... FOR UPDATE
// serializes writers across processes; the version check catches proposals
// computed from a stale read.
func (c *Client) Apply(ctx context.Context, playerID string, expected int64, deltas []state.Delta, now time.Time) (*state.Snapshot, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	base := state.Empty(playerID)
	var payload []byte
	err = tx.QueryRow(ctx, `SELECT snapshot FROM player_state WHERE player_id = $1 FOR UPDATE`, playerID).Scan(&payload)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("reading snapshot %s: %w", playerID, err)
	default:
		if err := json.Unmarshal(payload, base); err != nil {
			return nil, fmt.Errorf("decoding snapshot %s: %w", playerID, err)
		}
	}
	if base.Version != expected {
		return nil, &faults.StateConflict{PlayerID: playerID, Expected: expected, Actual: base.Version}
	}

	next, err := state.Fold(base, deltas, now)
	if err != nil {
		return nil, err
	}
	if next == base {
		return base, nil
	}
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	if expected == 0 {
		tag, err := tx.Exec(ctx, `
INSERT INTO player_state (player_id, version, snapshot, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (player_id) DO NOTHING`, playerID, next.Version, data, now)
		if err != nil {
			return nil, fmt.Errorf("inserting snapshot %s: %w", playerID, err)
		}
		if tag.RowsAffected() != 1 {
			return nil, &faults.StateConflict{PlayerID: playerID, Expected: expected, Actual: -1}
		}
	} else {
		tag, err := tx.Exec(ctx, `
UPDATE player_state SET version = $1, snapshot = $2, updated_at = $3
WHERE player_id = $4 AND version = $5`, next.Version, data, now, playerID, expected)
		if err != nil {
			return nil, fmt.Errorf("updating snapshot %s: %w", playerID, err)
		}
		if tag.RowsAffected() != 1 {
			return nil, &faults.StateConflict{PlayerID: playerID, Expected: expected, Actual: -1}
		}
	}

	entries, err := store.EncodeJournal(playerID, next.Version, deltas, now)
	if err != nil {
		return nil, err
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.PlayerID, e.Version, e.Seq, string(e.Kind), e.Payload, e.AppliedAt}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"delta_journal"},
		[]string{"player_id", "version", "seq", "kind", "payload", "applied_at"},
		pgx.CopyFromRows(rows)); err != nil {
		return nil, fmt.Errorf("writing journal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// Players implements store.Store.
func (c *Client) Players(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, `SELECT player_id FROM player_state ORDER BY created_at, player_id`)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Journal implements store.Journaler.
func (c *Client) Journal(ctx context.Context, playerID string, sinceVersion int64) ([]store.JournalEntry, error) {
	rows, err := c.pool.Query(ctx, `
SELECT version, seq, kind, payload, applied_at FROM delta_journal
WHERE player_id = $1 AND version > $2 ORDER BY version, seq`, playerID, sinceVersion)
	if err != nil {
		return nil, fmt.Errorf("reading journal: %w", err)
	}
	defer rows.Close()
	var out []store.JournalEntry
	for rows.Next() {
		e := store.JournalEntry{PlayerID: playerID}
		var kind string
		if err := rows.Scan(&e.Version, &e.Seq, &kind, &e.Payload, &e.AppliedAt); err != nil {
			return nil, err
		}
		e.Kind = state.Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements store.Store.
func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

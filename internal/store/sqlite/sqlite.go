// Package sqlite is the SQLite state backend. Each player's aggregate is one
// JSON row guarded by a version column; every applied batch is also written
// to an append-only delta journal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers "sqlite" (pure Go)

	"argent/internal/faults"
	"argent/internal/logging"
	"argent/internal/state"
	"argent/internal/store"
)

// Store implements store.Store on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	driver string
}

var _ store.Store = (*Store)(nil)
var _ store.Journaler = (*Store)(nil)

// Open initializes the database at path with the named driver ("sqlite" or
// "sqlite3"). ":memory:" is accepted.
func Open(path, driver string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "sqlite.Open")
	defer timer.Stop()

	if driver == "" {
		driver = "sqlite"
	}
	logging.Store("Initializing sqlite store at path: %s (driver=%s)", path, driver)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path, driver: driver}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("sqlite store ready")
	return s, nil
}

func (s *Store) initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS player_state (
			player_id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			snapshot TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			created_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS delta_journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delta_journal_player ON delta_journal(player_id, version)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// writeSnapshot stores the row for version next. The write is conditional
// on the row still being at expected, so a writer racing through another
// connection surfaces as a StateConflict.
func writeSnapshot(ctx context.Context, tx *sql.Tx, playerID string, expected, next int64, data []byte, now time.Time) error {
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO player_state (player_id, version, snapshot, updated_at, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(player_id) DO NOTHING`,
			playerID, next, string(data), now.UnixMilli(), now.UnixMilli())
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE player_state SET version = ?, snapshot = ?, updated_at = ? WHERE player_id = ? AND version = ?`,
			next, string(data), now.UnixMilli(), playerID, expected)
	}
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", playerID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return &faults.StateConflict{PlayerID: playerID, Expected: expected, Actual: -1}
	}
	return nil
}

// DB exposes the connection for maintenance commands.
func (s *Store) DB() *sql.DB { return s.db }

// Snapshot implements store.Store.
func (s *Store) Snapshot(ctx context.Context, playerID string) (*state.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM player_state WHERE player_id = ?`, playerID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Empty(playerID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", playerID, err)
	}
	var snap state.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", playerID, err)
	}
	return &snap, nil
}

// Apply implements store.Store.
func (s *Store) Apply(ctx context.Context, playerID string, expected int64, deltas []state.Delta, now time.Time) (*state.Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryStore, "sqlite.Apply")
	defer timer.StopWithThreshold(250 * time.Millisecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	base := state.Empty(playerID)
	var payload string
	err = tx.QueryRowContext(ctx, `SELECT snapshot FROM player_state WHERE player_id = ?`, playerID).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("read snapshot %s: %w", playerID, err)
	default:
		if err := json.Unmarshal([]byte(payload), base); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", playerID, err)
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
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	if err := writeSnapshot(ctx, tx, playerID, expected, next.Version, data, now); err != nil {
		return nil, err
	}

	entries, err := store.EncodeJournal(playerID, next.Version, deltas, now)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO delta_journal (player_id, version, seq, kind, payload, applied_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.PlayerID, e.Version, e.Seq, string(e.Kind), string(e.Payload), e.AppliedAt.UnixMilli()); err != nil {
			return nil, fmt.Errorf("write journal: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// Players implements store.Store.
func (s *Store) Players(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT player_id FROM player_state ORDER BY created_at, player_id`)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Journal implements store.Journaler.
func (s *Store) Journal(ctx context.Context, playerID string, sinceVersion int64) ([]store.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, seq, kind, payload, applied_at FROM delta_journal
		 WHERE player_id = ? AND version > ? ORDER BY version, seq`, playerID, sinceVersion)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer rows.Close()
	var out []store.JournalEntry
	for rows.Next() {
		e := store.JournalEntry{PlayerID: playerID}
		var (
			kind, payload string
			appliedAt     int64
		)
		if err := rows.Scan(&e.Version, &e.Seq, &kind, &payload, &appliedAt); err != nil {
			return nil, err
		}
		e.AppliedAt = time.UnixMilli(appliedAt).UTC()
		e.Kind = state.Kind(kind)
		e.Payload = []byte(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

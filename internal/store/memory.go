package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"argent/internal/faults"
	"argent/internal/logging"
	"argent/internal/state"
)

// Memory is an in-process Store with a journal.
type Memory struct {
	mu      sync.RWMutex
	players map[string]*state.Snapshot
	journal map[string][]JournalEntry
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		players: make(map[string]*state.Snapshot),
		journal: make(map[string][]JournalEntry),
	}
}

// Snapshot implements Store.
func (m *Memory) Snapshot(ctx context.Context, playerID string) (*state.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.players[playerID]; ok {
		return s.Clone(), nil
	}
	return state.Empty(playerID), nil
}

// Apply implements Store.
func (m *Memory) Apply(ctx context.Context, playerID string, expected int64, deltas []state.Delta, now time.Time) (*state.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	base, ok := m.players[playerID]
	if !ok {
		base = state.Empty(playerID)
	}
	if base.Version != expected {
		logging.StoreDebug("memory conflict for %s: expected %d, have %d", playerID, expected, base.Version)
		return nil, &faults.StateConflict{PlayerID: playerID, Expected: expected, Actual: base.Version}
	}
	next, err := state.Fold(base, deltas, now)
	if err != nil {
		return nil, err
	}
	if next == base {
		return base.Clone(), nil
	}
	entries, err := EncodeJournal(playerID, next.Version, deltas, now)
	if err != nil {
		return nil, err
	}
	m.players[playerID] = next
	m.journal[playerID] = append(m.journal[playerID], entries...)
	return next.Clone(), nil
}

// Players implements Store.
func (m *Memory) Players(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.players))
	for id, s := range m.players {
		if s.Exists() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Journal implements Journaler.
func (m *Memory) Journal(ctx context.Context, playerID string, sinceVersion int64) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []JournalEntry
	for _, e := range m.journal[playerID] {
		if e.Version > sinceVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argent/internal/faults"
	"argent/internal/state"
	"argent/internal/store"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "argent.db"), "sqlite")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTemp(t)
	assert.True(t, tableExists(s.DB(), "player_state"))
	assert.True(t, tableExists(s.DB(), "delta_journal"))
	assert.True(t, columnExists(s.DB(), "player_state", "created_at"))
}

func TestMigrationsAddMissingColumns(t *testing.T) {
	s := openTemp(t)
	_, err := s.DB().Exec(`CREATE TABLE legacy (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	saved := pendingMigrations
	t.Cleanup(func() { pendingMigrations = saved })
	pendingMigrations = []Migration{
		{"legacy", "note", "TEXT DEFAULT ''"},
		{"absent", "note", "TEXT"},
	}

	require.NoError(t, RunMigrations(s.DB()))
	assert.True(t, columnExists(s.DB(), "legacy", "note"))
	assert.False(t, tableExists(s.DB(), "absent"))

	// idempotent
	require.NoError(t, RunMigrations(s.DB()))
}

func TestWriteSnapshotConflicts(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	_, err := s.Apply(ctx, "p1", 0, []state.Delta{state.InitPlayer{PlayerID: "p1"}}, now)
	require.NoError(t, err)

	tests := []struct {
		name     string
		expected int64
		next     int64
	}{
		{"first write over an existing row", 0, 1},
		{"update from a stale version", 3, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := s.DB().BeginTx(ctx, nil)
			require.NoError(t, err)
			defer tx.Rollback()

			err = writeSnapshot(ctx, tx, "p1", tt.expected, tt.next, []byte(`{}`), now)
			require.Error(t, err)
			assert.True(t, faults.IsConflict(err), "got %v", err)
		})
	}

	read, err := s.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), read.Version)
}

func TestApplyAndReadBack(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	snap, err := s.Apply(ctx, "p1", 0, []state.Delta{
		state.InitPlayer{PlayerID: "p1"},
		state.InitTrust{AgentID: "ember"},
		state.Trust("ember", -15, "disagreed with Ember", "m1"),
		state.ReachMilestone{ID: "ember_first_contact"},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)

	read, err := s.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), read.Version)
	assert.Equal(t, -15, read.TrustScore("ember"))
	assert.True(t, read.HasMilestone("ember_first_contact"))
	assert.True(t, read.Milestones["ember_first_contact"].ReachedAt.Equal(now))

	players, err := s.Players(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, players)
}

func TestApplyRejectsStaleVersion(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	_, err := s.Apply(ctx, "p1", 0, []state.Delta{state.InitPlayer{PlayerID: "p1"}}, now)
	require.NoError(t, err)

	_, err = s.Apply(ctx, "p1", 0, []state.Delta{state.InitPlayer{PlayerID: "p1"}}, now)
	assert.True(t, faults.IsConflict(err))

	_, err = s.Apply(ctx, "p1", 1, []state.Delta{state.AdjustExposure{EventType: "key_used", Delta: 30}}, now)
	require.NoError(t, err)
	_, err = s.Apply(ctx, "p1", 1, []state.Delta{state.AdjustExposure{EventType: "key_used", Delta: 30}}, now)
	assert.True(t, faults.IsConflict(err))

	read, err := s.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 30, read.World.Exposure)
}

func TestFailedFoldWritesNothing(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, "p1", 0, []state.Delta{state.Trust("ember", 3, "no player yet", "")}, now)
	require.ErrorIs(t, err, state.ErrNoPlayer)

	read, err := s.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, read.Exists())

	entries, err := s.Journal(ctx, "p1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournalRecordsOrderedBatches(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, "p1", 0, []state.Delta{
		state.AdjustExposure{EventType: "seed", Delta: 5},
		state.InitPlayer{PlayerID: "p1"},
		state.InitTrust{AgentID: "miro"},
	}, now)
	require.NoError(t, err)

	entries, err := s.Journal(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, state.KindInitPlayer, entries[0].Kind)
	assert.Equal(t, state.KindInitTrust, entries[1].Kind)
	assert.Equal(t, state.KindExposure, entries[2].Kind)
	assert.True(t, entries[0].AppliedAt.Equal(now))
}

func TestCommitterOverSQLite(t *testing.T) {
	s := openTemp(t)
	c := store.NewCommitter(s, store.NewLocker(), time.Second, 3)
	ctx := context.Background()

	_, err := c.Update(ctx, "p1", func(*state.Snapshot) ([]state.Delta, error) {
		return []state.Delta{state.InitPlayer{PlayerID: "p1"}, state.InitTrust{AgentID: "ember"}}, nil
	})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := c.Update(ctx, "p1", func(*state.Snapshot) ([]state.Delta, error) {
			return []state.Delta{state.Trust("ember", -20, "hostile", "")}, nil
		})
		require.NoError(t, err)
	}
	read, err := s.Snapshot(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, -60, read.TrustScore("ember"))
	assert.Equal(t, int64(4), read.Version)
}

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/rankwatch/pkg/types"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "rankwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_CommitRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	first := testSnapshot("rankings", "s1", t0, athletes(2)...)
	require.NoError(t, s.Commit(ctx, first, types.MarkUpdated(first, t0)))

	// break the last statement of the transaction
	_, err := s.db.Exec(`DROP TABLE source_metadata`)
	require.NoError(t, err)

	second := testSnapshot("rankings", "s2", t0.Add(1), athletes(3)...)
	require.Error(t, s.Commit(ctx, second, types.MarkUpdated(second, t0.Add(1))))

	list, err := s.ListSnapshots(ctx, "rankings")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].ID)

	latest, err := s.LatestSnapshot(ctx, "rankings")
	require.NoError(t, err)
	assert.Equal(t, "s1", latest.ID)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM entries WHERE snapshot_id = 's2'`).Scan(&n))
	assert.Zero(t, n)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rankwatch.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	snap := testSnapshot("olympics", "s1", t0, athletes(3)...)
	require.NoError(t, s.Commit(ctx, snap, types.MarkUpdated(snap, t0)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	meta, err := s.GetMetadata(ctx, "olympics")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 3, meta.RowCount)

	loaded, err := s.LoadSnapshot(ctx, "olympics", "s1")
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 3)
	assert.Equal(t, "Kim", loaded.Entries[0].Key)
	assert.Equal(t, 400.0, loaded.Entries[0].Points)
	assert.Equal(t, "KOR", loaded.Entries[0].Attributes["member nation"])
}

func TestSQLiteStore_AppendSnapshotWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	snap := testSnapshot("grand_slam", "s1", t0, athletes(1)...)
	require.NoError(t, s.AppendSnapshot(ctx, snap))

	meta, err := s.GetMetadata(ctx, "grand_slam")
	require.NoError(t, err)
	assert.Nil(t, meta)

	latest, err := s.LatestSnapshot(ctx, "grand_slam")
	require.NoError(t, err)
	assert.Equal(t, "s1", latest.ID)
}

func TestSQLiteStore_ListSnapshotsSubsecondOrder(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	// inserted out of order, all within one second
	for _, snap := range []*types.Snapshot{
		testSnapshot("rankings", "s-100ms", t0.Add(100*time.Millisecond), athletes(1)...),
		testSnapshot("rankings", "s-0", t0, athletes(1)...),
		testSnapshot("rankings", "s-120ms", t0.Add(120*time.Millisecond), athletes(1)...),
	} {
		require.NoError(t, s.AppendSnapshot(ctx, snap))
	}

	infos, err := s.ListSnapshots(ctx, "rankings")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, []string{"s-120ms", "s-100ms", "s-0"}, []string{infos[0].ID, infos[1].ID, infos[2].ID})
	assert.True(t, infos[2].Timestamp.Equal(t0))
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStore("")
	assert.Error(t, err)
}

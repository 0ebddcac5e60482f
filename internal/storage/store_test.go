package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/rankwatch/pkg/types"
)

var t0 = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)

func testSnapshot(sourceID, id string, ts time.Time, entries ...types.Entry) *types.Snapshot {
	return &types.Snapshot{
		ID:          id,
		SourceID:    sourceID,
		Timestamp:   ts,
		Fingerprint: "fp-" + id,
		Entries:     entries,
	}
}

func athletes(n int) []types.Entry {
	names := []string{"Kim", "Lee", "Park", "Jendoubi", "Dell'Aquila", "Ravet"}
	entries := make([]types.Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, types.Entry{
			Key:        names[i%len(names)],
			Rank:       i + 1,
			Points:     float64(400 - i*10),
			Attributes: map[string]string{"name": names[i%len(names)], "member nation": "KOR"},
		})
	}
	return entries
}

// storeContract runs the behavior shared by every backend
func storeContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		s := open(t)
		meta, err := s.GetMetadata(ctx, "rankings")
		require.NoError(t, err)
		assert.Nil(t, meta)

		latest, err := s.LatestSnapshot(ctx, "rankings")
		require.NoError(t, err)
		assert.Nil(t, latest)

		list, err := s.ListSnapshots(ctx, "rankings")
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = s.LoadSnapshot(ctx, "rankings", "nope")
		assert.True(t, errors.Is(err, ErrNotFound))

		assert.NoError(t, s.Ping(ctx))
	})

	t.Run("commit then read back", func(t *testing.T) {
		s := open(t)
		snap := testSnapshot("rankings", "s1", t0, athletes(3)...)
		meta := types.MarkUpdated(snap, t0)

		require.NoError(t, s.Commit(ctx, snap, meta))

		got, err := s.GetMetadata(ctx, "rankings")
		require.NoError(t, err)
		assert.Equal(t, types.StatusUpdated, got.Status)
		assert.Equal(t, "s1", got.LatestSnapshotRef)
		assert.Equal(t, 3, got.RowCount)
		require.NotNil(t, got.LastChangeAt)
		assert.True(t, got.LastChangeAt.Equal(t0))

		latest, err := s.LatestSnapshot(ctx, "rankings")
		require.NoError(t, err)
		require.NotNil(t, latest)
		if diff := cmp.Diff(snap, latest, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
		}
		// row count matches the referenced snapshot
		assert.Equal(t, got.RowCount, latest.EntryCount())
	})

	t.Run("history is newest first and append only", func(t *testing.T) {
		s := open(t)
		first := testSnapshot("olympics", "s1", t0, athletes(2)...)
		second := testSnapshot("olympics", "s2", t0.Add(time.Hour), athletes(3)...)
		require.NoError(t, s.Commit(ctx, first, types.MarkUpdated(first, t0)))
		require.NoError(t, s.Commit(ctx, second, types.MarkUpdated(second, t0.Add(time.Hour))))

		list, err := s.ListSnapshots(ctx, "olympics")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "s2", list[0].ID)
		assert.Equal(t, 3, list[0].EntryCount)
		assert.Equal(t, "s1", list[1].ID)

		old, err := s.LoadSnapshot(ctx, "olympics", "s1")
		require.NoError(t, err)
		assert.Len(t, old.Entries, 2)

		// same id twice is rejected and the head does not move
		dup := testSnapshot("olympics", "s1", t0.Add(2*time.Hour), athletes(1)...)
		assert.Error(t, s.Commit(ctx, dup, types.MarkUpdated(dup, t0)))
		latest, err := s.LatestSnapshot(ctx, "olympics")
		require.NoError(t, err)
		assert.Equal(t, "s2", latest.ID)
	})

	t.Run("sources are isolated", func(t *testing.T) {
		s := open(t)
		a := testSnapshot("grand_prix", "a1", t0, athletes(2)...)
		require.NoError(t, s.Commit(ctx, a, types.MarkUpdated(a, t0)))

		latest, err := s.LatestSnapshot(ctx, "grand_slam")
		require.NoError(t, err)
		assert.Nil(t, latest)
		_, err = s.LoadSnapshot(ctx, "grand_slam", "a1")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("put metadata is idempotent", func(t *testing.T) {
		s := open(t)
		snap := testSnapshot("asian_games", "s1", t0, athletes(2)...)
		require.NoError(t, s.Commit(ctx, snap, types.MarkUpdated(snap, t0)))

		prev, err := s.GetMetadata(ctx, "asian_games")
		require.NoError(t, err)
		unchanged := types.MarkUnchanged(prev, snap, t0.Add(24*time.Hour))
		require.NoError(t, s.PutMetadata(ctx, unchanged))
		require.NoError(t, s.PutMetadata(ctx, unchanged))

		got, err := s.GetMetadata(ctx, "asian_games")
		require.NoError(t, err)
		assert.Equal(t, types.StatusUnchanged, got.Status)
		assert.True(t, got.LastCheckAt.Equal(t0.Add(24*time.Hour)))
		assert.True(t, got.LastChangeAt.Equal(t0))

		list, err := s.ListSnapshots(ctx, "asian_games")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("reset keeps snapshots", func(t *testing.T) {
		s := open(t)
		snap := testSnapshot("asian_champs", "s1", t0, athletes(2)...)
		require.NoError(t, s.Commit(ctx, snap, types.MarkUpdated(snap, t0)))

		require.NoError(t, s.ResetMetadata(ctx, "asian_champs"))
		// resetting an unknown source is a no-op
		require.NoError(t, s.ResetMetadata(ctx, "never_seen"))

		meta, err := s.GetMetadata(ctx, "asian_champs")
		require.NoError(t, err)
		assert.Nil(t, meta)

		latest, err := s.LatestSnapshot(ctx, "asian_champs")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "s1", latest.ID)
	})

	t.Run("list metadata", func(t *testing.T) {
		s := open(t)
		a := testSnapshot("rankings", "a", t0, athletes(1)...)
		b := testSnapshot("olympics", "b", t0, athletes(2)...)
		require.NoError(t, s.Commit(ctx, a, types.MarkUpdated(a, t0)))
		require.NoError(t, s.Commit(ctx, b, types.MarkUpdated(b, t0)))
		require.NoError(t, s.PutMetadata(ctx, types.MarkError(nil, "grand_slam", t0, errors.New("boom"))))

		all, err := s.ListMetadata(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, types.StatusError, all["grand_slam"].Status)
		assert.Equal(t, "boom", all["grand_slam"].LastError)
		assert.Equal(t, 2, all["olympics"].RowCount)
	})

	t.Run("invalid input", func(t *testing.T) {
		s := open(t)
		snap := testSnapshot("rankings", "s1", t0, athletes(1)...)
		assert.Error(t, s.Commit(ctx, snap, nil))
		assert.Error(t, s.Commit(ctx, snap, types.MarkUpdated(testSnapshot("other", "x", t0), t0)))
		bad := testSnapshot("rankings", "s2", t0, types.Entry{Key: "", Rank: 1})
		assert.Error(t, s.Commit(ctx, bad, types.MarkUpdated(bad, t0)))
		assert.Error(t, s.PutMetadata(ctx, &types.SourceMetadata{}))
	})
}

func TestStoreContract(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		storeContract(t, func(t *testing.T) Store {
			s, err := NewLocalStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		})
	})

	t.Run("sqlite", func(t *testing.T) {
		storeContract(t, func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "rankwatch.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		})
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(Config{Backend: "file", BaseDir: dir})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(Config{Backend: "sqlite", SQLitePath: filepath.Join(dir, "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(Config{Backend: "redis"})
	assert.Error(t, err)
}

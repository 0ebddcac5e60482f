package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/internal/locks"
	"github.com/yairfalse/rankwatch/internal/storage"
	"github.com/yairfalse/rankwatch/pkg/types"
)

var t0 = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

type row struct {
	rank, name, country, points string
}

func table(rows ...row) *types.RawTable {
	raw := &types.RawTable{Headers: []string{"Rank", "Name", "Country", "Points"}}
	for _, r := range rows {
		raw.Rows = append(raw.Rows, []string{r.rank, r.name, r.country, r.points})
	}
	return raw
}

func source(id string) types.Source {
	return types.Source{
		ID:             id,
		Name:           "Ranking " + id,
		Cadence:        types.CadenceWeekly,
		IdentityFields: []string{"name", "country"},
		Fetch:          types.FetchSpec{Kind: types.FetchHTTP, URL: "https://example.org/" + id},
	}
}

type fakeFetcher struct {
	mu          sync.Mutex
	tables      map[string]*types.RawTable
	errs        map[string]error
	calls       map[string]int
	block       bool
	delay       time.Duration
	inflight    int
	maxInflight int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		tables: make(map[string]*types.RawTable),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) set(id string, raw *types.RawTable) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[id] = raw
	delete(f.errs, id)
}

func (f *fakeFetcher) fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[id] = err
}

func (f *fakeFetcher) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) Fetch(ctx context.Context, src *types.Source) (*types.RawTable, error) {
	f.mu.Lock()
	f.calls[src.ID]++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	raw, err := f.tables[src.ID], f.errs[src.ID]
	block, delay := f.block, f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("no table configured")
	}
	return raw, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store   storage.Store
	locks   *locks.Manager
	fetcher *fakeFetcher
	clock   *testClock
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewLocalStore(filepath.Join(dir, "data"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr, err := locks.NewManager(filepath.Join(dir, "locks"))
	require.NoError(t, err)
	mgr.SetPollInterval(5 * time.Millisecond)

	return &harness{
		store:   store,
		locks:   mgr,
		fetcher: newFakeFetcher(),
		clock:   &testClock{now: t0},
		dir:     dir,
	}
}

func (h *harness) orchestrator(opts Options) *Orchestrator {
	return h.orchestratorWith(h.store, opts)
}

func (h *harness) orchestratorWith(store storage.Store, opts Options) *Orchestrator {
	o := New(h.fetcher, store, h.locks, opts, nil)
	o.now = h.clock.Now
	return o
}

func (h *harness) meta(t *testing.T, id string) *types.SourceMetadata {
	t.Helper()
	m, err := h.store.GetMetadata(context.Background(), id)
	require.NoError(t, err)
	return m
}

func (h *harness) history(t *testing.T, id string) []types.SnapshotInfo {
	t.Helper()
	infos, err := h.store.ListSnapshots(context.Background(), id)
	require.NoError(t, err)
	return infos
}

func result(t *testing.T, report *types.RunReport, id string) types.SourceResult {
	t.Helper()
	res, ok := report.Result(id)
	require.True(t, ok, "no result for %s", id)
	return *res
}

var (
	kim = row{"1", "KIM Jun", "KOR", "120.5"}
	lee = row{"2", "LEE Dae", "KOR", "98"}
	pak = row{"3", "PAK Sun", "PRK", "64.25"}
)

func TestRun_FirstSyncThenUnchanged(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("wt-m58", table(kim, lee, pak))
	o := h.orchestrator(DefaultOptions())
	ctx := context.Background()

	report, err := o.Run(ctx, []types.Source{source("wt-m58")})
	require.NoError(t, err)

	res := result(t, report, "wt-m58")
	assert.Equal(t, types.OutcomeUpdated, res.Outcome)
	assert.Equal(t, "never_checked", res.Reason)
	assert.Equal(t, 3, res.RowCount)
	require.NotNil(t, res.Changes)
	assert.Len(t, res.Changes.NewEntries, 3)
	assert.Empty(t, res.Changes.PreviousID)

	history := h.history(t, "wt-m58")
	require.Len(t, history, 1)

	meta := h.meta(t, "wt-m58")
	require.NotNil(t, meta)
	assert.Equal(t, types.StatusUpdated, meta.Status)
	assert.Equal(t, 3, meta.RowCount)
	assert.Equal(t, history[0].ID, meta.LatestSnapshotRef)
	require.NotNil(t, meta.LastChangeAt)
	assert.True(t, meta.LastChangeAt.Equal(t0))

	// same table an hour later: inside the correction lookback
	h.clock.Advance(time.Hour)
	report, err = o.Run(ctx, []types.Source{source("wt-m58")})
	require.NoError(t, err)

	res = result(t, report, "wt-m58")
	assert.Equal(t, types.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, "correction_lookback", res.Reason)
	assert.Nil(t, res.Changes)

	assert.Len(t, h.history(t, "wt-m58"), 1, "no snapshot appended for an unchanged table")

	after := h.meta(t, "wt-m58")
	assert.Equal(t, types.StatusUnchanged, after.Status)
	assert.True(t, after.LastCheckAt.Equal(t0.Add(time.Hour)))
	assert.True(t, after.LastChangeAt.Equal(t0), "unchanged checks keep the last change time")
	assert.Equal(t, meta.LatestSnapshotRef, after.LatestSnapshotRef)
	assert.Equal(t, 3, after.RowCount)
}

func TestRun_Scenarios(t *testing.T) {
	entryKeys := cmp.FilterValues(func(x, y []types.Entry) bool {
		return len(x) != 0 || len(y) != 0
	}, cmp.Transformer("keys", func(in []types.Entry) []string {
		out := make([]string, len(in))
		for i, e := range in {
			out[i] = e.Key
		}
		return out
	}))

	tests := []struct {
		name   string
		before []row
		after  []row
		want   types.ChangeSet
	}{
		{
			name:   "new entrant",
			before: []row{kim, lee},
			after:  []row{kim, {"2", "PAK Sun", "PRK", "99"}, {"3", "LEE Dae", "KOR", "98"}},
			want: types.ChangeSet{
				NewEntries:     []types.Entry{{Key: "PAK Sun|PRK"}},
				RankChanges:    []types.RankChange{{Key: "LEE Dae|KOR", OldRank: 2, NewRank: 3, Delta: -1}},
				UnchangedCount: 1,
				RowCount:       types.RowCountDelta{Old: 2, New: 3, Delta: 1},
			},
		},
		{
			name:   "rank swap",
			before: []row{kim, lee},
			after:  []row{{"1", "LEE Dae", "KOR", "98"}, {"2", "KIM Jun", "KOR", "120.5"}},
			want: types.ChangeSet{
				RankChanges: []types.RankChange{
					{Key: "LEE Dae|KOR", OldRank: 2, NewRank: 1, Delta: 1},
					{Key: "KIM Jun|KOR", OldRank: 1, NewRank: 2, Delta: -1},
				},
				RowCount: types.RowCountDelta{Old: 2, New: 2},
			},
		},
		{
			name:   "drop",
			before: []row{kim, lee, pak},
			after:  []row{kim, lee},
			want: types.ChangeSet{
				DroppedEntries: []types.Entry{{Key: "PAK Sun|PRK"}},
				UnchangedCount: 2,
				RowCount:       types.RowCountDelta{Old: 3, New: 2, Delta: -1},
			},
		},
		{
			name:   "points only",
			before: []row{kim, lee},
			after:  []row{{"1", "KIM Jun", "KOR", "130"}, lee},
			want: types.ChangeSet{
				ValueChanges: []types.ValueChange{
					{Key: "KIM Jun|KOR", Field: "points", OldValue: "120.5", NewValue: "130"},
				},
				UnchangedCount: 1,
				RowCount:       types.RowCountDelta{Old: 2, New: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			o := h.orchestrator(DefaultOptions())
			src := source("wt-f49")
			ctx := context.Background()

			h.fetcher.set(src.ID, table(tt.before...))
			_, err := o.Run(ctx, []types.Source{src})
			require.NoError(t, err)
			first := h.meta(t, src.ID).LatestSnapshotRef

			h.clock.Advance(24 * time.Hour)
			h.fetcher.set(src.ID, table(tt.after...))
			report, err := o.Run(ctx, []types.Source{src})
			require.NoError(t, err)

			res := result(t, report, src.ID)
			require.Equal(t, types.OutcomeUpdated, res.Outcome)
			require.NotNil(t, res.Changes)

			got := *res.Changes
			assert.Equal(t, first, got.PreviousID)
			assert.Equal(t, h.meta(t, src.ID).LatestSnapshotRef, got.CurrentID)

			opts := cmp.Options{
				entryKeys,
				cmpopts.IgnoreFields(types.ChangeSet{}, "SourceID", "PreviousID", "CurrentID"),
				cmpopts.EquateEmpty(),
			}
			if diff := cmp.Diff(tt.want, got, opts); diff != "" {
				t.Errorf("change set mismatch (-want +got):\n%s", diff)
			}

			assert.Len(t, h.history(t, src.ID), 2)
			meta := h.meta(t, src.ID)
			assert.Equal(t, len(tt.after), meta.RowCount)
			assert.True(t, meta.LastChangeAt.Equal(t0.Add(24*time.Hour)))
		})
	}
}

func TestRun_SkipsFreshSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	changed := t0.Add(-40 * 24 * time.Hour)
	prev := &types.SourceMetadata{
		SourceID:     "wt-m68",
		LastCheckAt:  t0.Add(-24 * time.Hour),
		LastChangeAt: &changed,
		RowCount:     12,
		Status:       types.StatusUnchanged,
	}
	require.NoError(t, h.store.PutMetadata(ctx, prev))

	report, err := h.orchestrator(DefaultOptions()).Run(ctx, []types.Source{source("wt-m68")})
	require.NoError(t, err)

	res := result(t, report, "wt-m68")
	assert.Equal(t, types.OutcomeSkipped, res.Outcome)
	assert.Equal(t, "fresh", res.Reason)
	assert.Equal(t, 12, res.RowCount)
	assert.Zero(t, h.fetcher.callsFor("wt-m68"))

	after := h.meta(t, "wt-m68")
	assert.True(t, after.LastCheckAt.Equal(prev.LastCheckAt), "skips never touch metadata")
	assert.Equal(t, types.StatusUnchanged, after.Status)
}

func TestRun_ForceChecksFreshSource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	changed := t0.Add(-40 * 24 * time.Hour)
	require.NoError(t, h.store.PutMetadata(ctx, &types.SourceMetadata{
		SourceID:     "wt-m68",
		LastCheckAt:  t0.Add(-time.Hour),
		LastChangeAt: &changed,
		Status:       types.StatusUnchanged,
	}))
	h.fetcher.set("wt-m68", table(kim))

	opts := DefaultOptions()
	opts.Policy.Force = true
	report, err := h.orchestrator(opts).Run(ctx, []types.Source{source("wt-m68")})
	require.NoError(t, err)

	res := result(t, report, "wt-m68")
	assert.Equal(t, types.OutcomeUpdated, res.Outcome)
	assert.Equal(t, "forced", res.Reason)
}

func TestRun_FetchErrorPreservesState(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(DefaultOptions())
	ctx := context.Background()
	sources := []types.Source{source("wt-f57"), source("wt-m80")}

	h.fetcher.set("wt-f57", table(kim, lee))
	h.fetcher.set("wt-m80", table(pak))
	_, err := o.Run(ctx, sources)
	require.NoError(t, err)
	before := h.meta(t, "wt-f57")

	h.clock.Advance(2 * time.Hour)
	h.fetcher.fail("wt-f57", errors.New("unexpected status 503 from https://example.org/wt-f57"))
	h.fetcher.set("wt-m80", table(pak, lee))

	report, err := o.Run(ctx, sources)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rwerrors.ErrSourcesFailed))
	assert.Equal(t, rwerrors.ExitPartialFailure, rwerrors.ExitCode(err))

	failed := result(t, report, "wt-f57")
	assert.Equal(t, types.OutcomeError, failed.Outcome)
	assert.Contains(t, failed.Error, "failed to fetch ranking table")
	assert.Contains(t, failed.Error, "status 503")

	assert.Equal(t, types.OutcomeUpdated, result(t, report, "wt-m80").Outcome, "other sources still run")

	after := h.meta(t, "wt-f57")
	assert.Equal(t, types.StatusError, after.Status)
	assert.True(t, after.LastCheckAt.Equal(t0.Add(2*time.Hour)))
	assert.Contains(t, after.LastError, "status 503")
	assert.Equal(t, before.RowCount, after.RowCount)
	assert.Equal(t, before.LatestSnapshotRef, after.LatestSnapshotRef)
	assert.Equal(t, before.Fingerprint, after.Fingerprint)
	assert.True(t, after.LastChangeAt.Equal(*before.LastChangeAt))
	assert.Len(t, h.history(t, "wt-f57"), 1)

	// the next good fetch of the same table clears the error
	h.clock.Advance(time.Hour)
	h.fetcher.set("wt-f57", table(kim, lee))
	report, err = o.Run(ctx, sources[:1])
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeUnchanged, result(t, report, "wt-f57").Outcome)
	recovered := h.meta(t, "wt-f57")
	assert.Equal(t, types.StatusUnchanged, recovered.Status)
	assert.Empty(t, recovered.LastError)
}

func TestRun_SchemaMismatch(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("wt-f67", &types.RawTable{
		Headers: []string{"Position", "Athlete"},
		Rows:    [][]string{{"1", "KIM Jun"}},
	})

	report, err := h.orchestrator(DefaultOptions()).Run(context.Background(), []types.Source{source("wt-f67")})
	require.ErrorIs(t, err, rwerrors.ErrSourcesFailed)

	res := result(t, report, "wt-f67")
	assert.Equal(t, types.OutcomeError, res.Outcome)
	assert.Contains(t, res.Error, "does not match the configured schema")

	meta := h.meta(t, "wt-f67")
	require.NotNil(t, meta)
	assert.Equal(t, types.StatusError, meta.Status)
	assert.Zero(t, meta.RowCount)
	assert.Empty(t, meta.LatestSnapshotRef)
	assert.Empty(t, h.history(t, "wt-f67"))
}

func TestRun_FetchTimeout(t *testing.T) {
	h := newHarness(t)
	h.fetcher.block = true

	opts := DefaultOptions()
	opts.FetchTimeout = 30 * time.Millisecond

	report, err := h.orchestrator(opts).Run(context.Background(), []types.Source{source("wt-m87")})
	require.ErrorIs(t, err, rwerrors.ErrSourcesFailed)

	res := result(t, report, "wt-m87")
	assert.Equal(t, types.OutcomeError, res.Outcome)
	assert.Contains(t, res.Error, "timed out")
	assert.Equal(t, types.StatusError, h.meta(t, "wt-m87").Status)
}

func TestRun_PerSourceTimeoutOverride(t *testing.T) {
	h := newHarness(t)
	h.fetcher.delay = 60 * time.Millisecond
	h.fetcher.set("wt-m87", table(kim))

	opts := DefaultOptions()
	opts.FetchTimeout = 10 * time.Millisecond
	src := source("wt-m87")
	src.Fetch.Timeout = 5 * time.Second

	report, err := h.orchestrator(opts).Run(context.Background(), []types.Source{src})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeUpdated, result(t, report, "wt-m87").Outcome)
}

func TestRun_CheckOnlyWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("wt-m58", table(kim, lee))
	ctx := context.Background()

	// a held lock does not block a read-only run
	held, err := h.locks.TryAcquire("wt-m58")
	require.NoError(t, err)
	require.NotNil(t, held)
	defer held.Release()

	opts := DefaultOptions()
	opts.CheckOnly = true
	report, err := h.orchestrator(opts).Run(ctx, []types.Source{source("wt-m58")})
	require.NoError(t, err)
	assert.True(t, report.CheckOnly)

	res := result(t, report, "wt-m58")
	assert.Equal(t, types.OutcomeUpdated, res.Outcome)
	require.NotNil(t, res.Changes)
	assert.Len(t, res.Changes.NewEntries, 2)

	assert.Nil(t, h.meta(t, "wt-m58"))
	latest, err := h.store.LatestSnapshot(ctx, "wt-m58")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRun_LockedSourceIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.fetcher.set("wt-m58", table(kim))
	h.fetcher.set("wt-f49", table(lee))

	held, err := h.locks.TryAcquire("wt-m58")
	require.NoError(t, err)
	require.NotNil(t, held)
	defer held.Release()

	opts := DefaultOptions()
	opts.LockTimeout = 20 * time.Millisecond
	report, err := h.orchestrator(opts).Run(context.Background(), []types.Source{source("wt-m58"), source("wt-f49")})
	require.NoError(t, err)

	locked := result(t, report, "wt-m58")
	assert.Equal(t, types.OutcomeSkipped, locked.Outcome)
	assert.Equal(t, ReasonLocked, locked.Reason)
	assert.Zero(t, h.fetcher.callsFor("wt-m58"))
	assert.Nil(t, h.meta(t, "wt-m58"))

	assert.Equal(t, types.OutcomeUpdated, result(t, report, "wt-f49").Outcome)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	h := newHarness(t)
	h.fetcher.delay = 20 * time.Millisecond

	var sources []types.Source
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		h.fetcher.set(id, table(kim))
		sources = append(sources, source(id))
	}

	var seen []string
	opts := DefaultOptions()
	opts.Concurrency = 2
	o := h.orchestrator(opts)
	o.OnResult(func(res types.SourceResult) {
		seen = append(seen, res.SourceID)
	})

	report, err := o.Run(context.Background(), sources)
	require.NoError(t, err)

	assert.Len(t, seen, 6)
	assert.Equal(t, 6, report.Counts.Updated)
	assert.LessOrEqual(t, h.fetcher.maxInflight, 2)
	assert.GreaterOrEqual(t, h.fetcher.maxInflight, 1)

	ids := make([]string, len(report.Results))
	for i, res := range report.Results {
		ids[i] = res.SourceID
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids)
}

func TestRun_DeadlineOmitsUndispatched(t *testing.T) {
	h := newHarness(t)
	h.fetcher.block = true

	opts := DefaultOptions()
	opts.Concurrency = 1
	opts.FetchTimeout = 0
	opts.RunDeadline = 50 * time.Millisecond

	report, err := h.orchestrator(opts).Run(context.Background(),
		[]types.Source{source("first"), source("second"), source("third")})
	require.ErrorIs(t, err, rwerrors.ErrSourcesFailed)

	require.Len(t, report.Results, 1)
	assert.Equal(t, "first", report.Results[0].SourceID)
	assert.Equal(t, types.OutcomeError, report.Results[0].Outcome)
	assert.Zero(t, h.fetcher.callsFor("second"))
	assert.Nil(t, h.meta(t, "third"))

	// the interrupted source still records its error
	assert.Equal(t, types.StatusError, h.meta(t, "first").Status)
}

type failingStore struct {
	storage.Store

	mu         sync.Mutex
	commitErr  error
	pingErr    error
	breakAfter bool
	broken     bool
}

func (s *failingStore) Commit(ctx context.Context, snap *types.Snapshot, meta *types.SourceMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.breakAfter {
		s.broken = true
	}
	if s.commitErr != nil {
		return s.commitErr
	}
	return s.Store.Commit(ctx, snap, meta)
}

func (s *failingStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pingErr != nil && (!s.breakAfter || s.broken) {
		return s.pingErr
	}
	return s.Store.Ping(ctx)
}

func TestRun_CommitFailurePreservesPreviousSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := source("wt-m74")

	h.fetcher.set(src.ID, table(kim, lee))
	_, err := h.orchestrator(DefaultOptions()).Run(ctx, []types.Source{src})
	require.NoError(t, err)
	before := h.meta(t, src.ID)

	h.clock.Advance(3 * time.Hour)
	h.fetcher.set(src.ID, table(kim, lee, pak))
	broken := &failingStore{Store: h.store, commitErr: errors.New("disk full")}

	report, err := h.orchestratorWith(broken, DefaultOptions()).Run(ctx, []types.Source{src})
	require.ErrorIs(t, err, rwerrors.ErrSourcesFailed)

	res := result(t, report, src.ID)
	assert.Equal(t, types.OutcomeError, res.Outcome)
	assert.Contains(t, res.Error, "disk full")
	assert.Nil(t, res.Changes)

	after := h.meta(t, src.ID)
	assert.Equal(t, types.StatusError, after.Status)
	assert.Equal(t, before.LatestSnapshotRef, after.LatestSnapshotRef)
	assert.Equal(t, before.RowCount, after.RowCount)
	assert.Len(t, h.history(t, src.ID), 1)
}

func TestRun_StoreUnavailable(t *testing.T) {
	t.Run("at start", func(t *testing.T) {
		h := newHarness(t)
		h.fetcher.set("wt-m58", table(kim))
		broken := &failingStore{Store: h.store, pingErr: errors.New("read-only file system")}

		report, err := h.orchestratorWith(broken, DefaultOptions()).Run(context.Background(), []types.Source{source("wt-m58")})
		require.Error(t, err)
		assert.Nil(t, report)
		assert.True(t, rwerrors.IsKind(err, rwerrors.KindStoreUnavailable))
		assert.Equal(t, rwerrors.ExitUnavailable, rwerrors.ExitCode(err))
		assert.Zero(t, h.fetcher.callsFor("wt-m58"))
	})

	t.Run("during commit", func(t *testing.T) {
		h := newHarness(t)
		h.fetcher.set("wt-m58", table(kim))
		broken := &failingStore{
			Store:      h.store,
			commitErr:  errors.New("input/output error"),
			pingErr:    errors.New("input/output error"),
			breakAfter: true,
		}

		report, err := h.orchestratorWith(broken, DefaultOptions()).Run(context.Background(), []types.Source{source("wt-m58")})
		require.Error(t, err)
		assert.True(t, rwerrors.IsKind(err, rwerrors.KindStoreUnavailable))
		require.NotNil(t, report)
		assert.Equal(t, types.OutcomeError, result(t, report, "wt-m58").Outcome)
	})
}

type recordingArchiver struct {
	mu    sync.Mutex
	snaps []string
	err   error
}

func (a *recordingArchiver) Archive(ctx context.Context, snap *types.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, snap.ID)
	return a.err
}

func TestRun_ArchivesCommittedSnapshots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetcher.set("wt-m58", table(kim))

	arch := &recordingArchiver{err: errors.New("bucket not found")}
	o := h.orchestrator(DefaultOptions())
	o.SetArchiver(arch)

	report, err := o.Run(ctx, []types.Source{source("wt-m58")})
	require.NoError(t, err, "archive failures never fail the run")
	assert.Equal(t, types.OutcomeUpdated, result(t, report, "wt-m58").Outcome)
	require.Len(t, arch.snaps, 1)
	assert.Equal(t, h.meta(t, "wt-m58").LatestSnapshotRef, arch.snaps[0])

	h.clock.Advance(time.Hour)
	_, err = o.Run(ctx, []types.Source{source("wt-m58")})
	require.NoError(t, err)
	assert.Len(t, arch.snaps, 1, "unchanged runs archive nothing")
}

// Package orchestrator runs one sync: it decides which sources are due,
// fetches them on a bounded pool, detects changes and persists the results.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/rankwatch/internal/archive"
	"github.com/yairfalse/rankwatch/internal/differ"
	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/internal/fetcher"
	"github.com/yairfalse/rankwatch/internal/fingerprint"
	"github.com/yairfalse/rankwatch/internal/locks"
	"github.com/yairfalse/rankwatch/internal/logger"
	"github.com/yairfalse/rankwatch/internal/scheduler"
	"github.com/yairfalse/rankwatch/internal/storage"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// Skip reasons that do not come from the scheduler
const (
	ReasonLocked   = "locked"
	ReasonCanceled = "canceled"
)

// Options holds the run-wide knobs
type Options struct {
	Concurrency  int
	FetchTimeout time.Duration
	// RunDeadline bounds the whole run. Sources not dispatched before it
	// expires are left out of the report.
	RunDeadline time.Duration
	LockTimeout time.Duration
	Policy      scheduler.Policy
	// CheckOnly fetches and diffs but writes nothing
	CheckOnly bool
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Concurrency:  4,
		FetchTimeout: 60 * time.Second,
		LockTimeout:  30 * time.Second,
		Policy:       scheduler.NewPolicy(),
	}
}

// Orchestrator coordinates a sync run across sources
type Orchestrator struct {
	fetcher  fetcher.SnapshotFetcher
	store    storage.Store
	locker   locks.Locker
	archiver archive.Archiver
	logger   logger.Logger
	opts     Options
	now      func() time.Time

	// onResult is called by the coordinating goroutine for every result
	onResult func(types.SourceResult)
}

// New creates an orchestrator
func New(f fetcher.SnapshotFetcher, store storage.Store, locker locks.Locker, opts Options, log logger.Logger) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		fetcher: f,
		store:   store,
		locker:  locker,
		logger:  log,
		opts:    opts,
		now:     time.Now,
	}
}

// SetArchiver sets the mirror every committed snapshot is archived to
func (o *Orchestrator) SetArchiver(a archive.Archiver) {
	o.archiver = a
}

// OnResult registers a callback invoked as each source finishes
func (o *Orchestrator) OnResult(fn func(types.SourceResult)) {
	o.onResult = fn
}

// Options returns the effective options
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Run syncs the given sources in order. Per-source failures are recorded in
// the report and never abort the run. The returned error is a
// StoreUnavailable error when the store could not be used, otherwise
// rwerrors.ErrSourcesFailed when any source ended in ERROR.
func (o *Orchestrator) Run(ctx context.Context, sources []types.Source) (*types.RunReport, error) {
	if err := o.store.Ping(ctx); err != nil {
		return nil, asUnavailable(err)
	}

	report := types.NewRunReport(o.now(), o.opts.Policy.Lookback)
	report.CheckOnly = o.opts.CheckOnly

	log := o.logger.WithFields(map[string]interface{}{
		"run":        report.ID,
		"sources":    len(sources),
		"check_only": o.opts.CheckOnly,
	})
	log.Info("starting sync run")

	runCtx := ctx
	if o.opts.RunDeadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.RunDeadline)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.opts.Concurrency)

	results := make(chan types.SourceResult, len(sources))
	done := make(chan error, 1)

	var omittedMu sync.Mutex
	var omitted []string
	omit := func(id string) {
		omittedMu.Lock()
		omitted = append(omitted, id)
		omittedMu.Unlock()
	}

	go func() {
		for i := range sources {
			src := sources[i]
			if gctx.Err() != nil {
				omit(src.ID)
				continue
			}
			g.Go(func() error {
				// the slot may free up only after the deadline
				if gctx.Err() != nil {
					omit(src.ID)
					return nil
				}
				res, err := o.syncSource(gctx, &src)
				results <- res
				return err
			})
		}
		done <- g.Wait()
		close(results)
	}()

	for res := range results {
		report.Add(res)
		if o.onResult != nil {
			o.onResult(res)
		}
	}
	runErr := <-done

	if len(omitted) > 0 {
		log.WithField("omitted", omitted).Warn("run deadline reached before all sources were dispatched")
	}

	report.Finish(o.now())
	log.WithFields(map[string]interface{}{
		"updated":   report.Counts.Updated,
		"unchanged": report.Counts.Unchanged,
		"skipped":   report.Counts.Skipped,
		"errored":   report.Counts.Errored,
		"duration":  report.Duration().String(),
	}).Info("sync run finished")

	if runErr != nil {
		return report, runErr
	}
	if report.HasErrors() {
		return report, rwerrors.ErrSourcesFailed
	}
	return report, nil
}

// syncSource drives one source to a terminal state. A non-nil error means
// the whole run must stop.
func (o *Orchestrator) syncSource(ctx context.Context, src *types.Source) (types.SourceResult, error) {
	start := time.Now()
	res := types.SourceResult{SourceID: src.ID, Name: src.Name}
	log := o.logger.WithField("source", src.ID)

	finish := func(outcome types.Outcome) (types.SourceResult, error) {
		res.Outcome = outcome
		res.Duration = time.Since(start)
		return res, nil
	}
	abort := func(fatal error) (types.SourceResult, error) {
		res.Error = fatal.Error()
		res.Outcome = types.OutcomeError
		res.Duration = time.Since(start)
		return res, fatal
	}

	if !o.opts.CheckOnly {
		unlock, err := o.locker.Acquire(ctx, src.ID, o.opts.LockTimeout)
		if err != nil {
			switch {
			case rwerrors.IsKind(err, rwerrors.KindLock):
				log.Warn("source is locked by another sync, skipping")
				res.Reason = ReasonLocked
				return finish(types.OutcomeSkipped)
			case ctx.Err() != nil:
				res.Reason = ReasonCanceled
				return finish(types.OutcomeSkipped)
			default:
				res.Error = err.Error()
				return finish(types.OutcomeError)
			}
		}
		defer func() {
			if err := unlock.Release(); err != nil {
				log.Error("failed to release source lock", err)
			}
		}()
	}

	meta, err := o.store.GetMetadata(ctx, src.ID)
	if err != nil {
		if fatal := o.checkStore(ctx, err); fatal != nil {
			return abort(fatal)
		}
		res.Error = err.Error()
		return finish(types.OutcomeError)
	}

	now := o.now()
	decision := o.opts.Policy.ShouldCheck(src, meta, now)
	res.Reason = string(decision.Reason)
	if !decision.Check {
		log.WithField("reason", decision.Reason).Debug("source is fresh, skipping")
		if meta != nil {
			res.RowCount = meta.RowCount
		}
		return finish(types.OutcomeSkipped)
	}

	log.WithField("reason", decision.Reason).Info("checking source")

	entries, err := o.fetchEntries(ctx, src)
	if err != nil {
		log.Error("source check failed", err)
		res.Error = err.Error()
		if fatal := o.recordError(ctx, meta, src.ID, now, err); fatal != nil {
			return abort(fatal)
		}
		return finish(types.OutcomeError)
	}
	res.RowCount = len(entries)

	tracked := src.Tracked()
	fp := fingerprint.Compute(entries, tracked)

	latest, err := o.store.LatestSnapshot(ctx, src.ID)
	if err != nil {
		if fatal := o.checkStore(ctx, err); fatal != nil {
			return abort(fatal)
		}
		res.Error = err.Error()
		return finish(types.OutcomeError)
	}

	if latest != nil && latest.Fingerprint == fp {
		log.Debug("fingerprint unchanged")
		if !o.opts.CheckOnly {
			if err := o.store.PutMetadata(ctx, types.MarkUnchanged(meta, latest, now)); err != nil {
				werr := rwerrors.StoreWrite(src.ID, "record unchanged check", err)
				if fatal := o.checkStore(ctx, werr); fatal != nil {
					return abort(fatal)
				}
				res.Error = werr.Error()
				return finish(types.OutcomeError)
			}
		}
		return finish(types.OutcomeUnchanged)
	}

	snap := types.NewSnapshot(src.ID, now, fp, entries)
	changes := differ.Diff(latest, snap, tracked)

	if !o.opts.CheckOnly {
		if err := o.store.Commit(ctx, snap, types.MarkUpdated(snap, now)); err != nil {
			werr := rwerrors.StoreWrite(src.ID, "commit snapshot", err)
			log.Error("commit failed", werr)
			res.Error = werr.Error()
			if fatal := o.recordError(ctx, meta, src.ID, now, werr); fatal != nil {
				return abort(fatal)
			}
			return finish(types.OutcomeError)
		}
		o.mirror(ctx, snap, log)
	}

	summary := differ.Summarize(changes)
	log.WithFields(map[string]interface{}{
		"snapshot": snap.ID,
		"new":      summary.New,
		"dropped":  summary.Dropped,
		"moved":    summary.Moved,
		"modified": summary.Modified,
	}).Info("ranking updated")

	res.Changes = changes
	return finish(types.OutcomeUpdated)
}

// fetchEntries fetches and normalizes a source under its fetch timeout
func (o *Orchestrator) fetchEntries(ctx context.Context, src *types.Source) ([]types.Entry, error) {
	timeout := o.opts.FetchTimeout
	if src.Fetch.Timeout > 0 {
		timeout = src.Fetch.Timeout
	}

	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := o.fetcher.Fetch(fetchCtx, src)
	if err != nil {
		if _, ok := rwerrors.As(err); !ok {
			err = rwerrors.FetchFailure(src.ID, src.Fetch.URL, err)
		}
		return nil, err
	}
	return fingerprint.Normalize(src, raw)
}

// recordError stores ERROR metadata, preserving the previous row count and
// snapshot reference. It returns a non-nil error only when the store is
// unavailable.
func (o *Orchestrator) recordError(ctx context.Context, prev *types.SourceMetadata, sourceID string, now time.Time, cause error) error {
	if o.opts.CheckOnly {
		return nil
	}
	if rwerrors.IsKind(cause, rwerrors.KindStoreWrite) {
		if fatal := o.checkStore(ctx, cause); fatal != nil {
			return fatal
		}
	}

	// store writes must land even when the fetch context expired
	writeCtx := context.WithoutCancel(ctx)
	if err := o.store.PutMetadata(writeCtx, types.MarkError(prev, sourceID, now, cause)); err != nil {
		o.logger.WithField("source", sourceID).Error("failed to record error state", err)
		return o.checkStore(writeCtx, err)
	}
	return nil
}

// checkStore pings the store after a failed operation. It returns a
// StoreUnavailable error when the store is unusable for every source.
func (o *Orchestrator) checkStore(ctx context.Context, cause error) error {
	if rwerrors.IsKind(cause, rwerrors.KindStoreUnavailable) {
		return cause
	}
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return nil
	}
	if err := o.store.Ping(context.WithoutCancel(ctx)); err != nil {
		return asUnavailable(err)
	}
	return nil
}

// mirror archives a committed snapshot. Failures are logged only.
func (o *Orchestrator) mirror(ctx context.Context, snap *types.Snapshot, log logger.Logger) {
	if o.archiver == nil {
		return
	}
	if err := o.archiver.Archive(context.WithoutCancel(ctx), snap); err != nil {
		log.Error("failed to archive snapshot", err)
	}
}

func asUnavailable(err error) error {
	if rwerrors.IsKind(err, rwerrors.KindStoreUnavailable) {
		return err
	}
	return rwerrors.StoreUnavailable("storage", err)
}

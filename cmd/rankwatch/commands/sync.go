package commands

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yairfalse/rankwatch/internal/archive"
	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/internal/orchestrator"
	"github.com/yairfalse/rankwatch/internal/scheduler"
	"github.com/yairfalse/rankwatch/pkg/progress"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// syncFlags are shared by sync and watch
type syncFlags struct {
	sources      []string
	lookback     time.Duration
	concurrency  int
	fetchTimeout time.Duration
	deadline     time.Duration
	force        bool
	checkOnly    bool
	jsonOut      bool
}

func (f *syncFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.sources, "source", "s", nil, "only sync these source ids")
	cmd.Flags().DurationVar(&f.lookback, "lookback", 0, "correction lookback after a change (default from config)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "sources checked in parallel (default from config)")
	cmd.Flags().DurationVar(&f.fetchTimeout, "fetch-timeout", 0, "per-source fetch timeout (default from config)")
	cmd.Flags().DurationVar(&f.deadline, "deadline", 0, "stop dispatching sources after this long")
	cmd.Flags().BoolVar(&f.force, "force", false, "check every selected source regardless of cadence")
	cmd.Flags().BoolVar(&f.checkOnly, "check-only", false, "detect and report changes without writing anything")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the run report as JSON")
}

func newSyncCommand(c *cli) *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Check due sources and record changed rankings",
		Long: `Run one sync. Every selected source is checked when it was never checked,
when its cadence has elapsed, or when it changed within the correction
lookback. A new snapshot is stored only when the table fingerprint changed.

Exit status is 0 when every source succeeded and 2 when any source failed.`,
		Example: `  # Check everything that is due
  rankwatch sync

  # Force a check of two sources
  rankwatch sync --source rankings --source olympics --force

  # See what changed without writing
  rankwatch sync --check-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			_, err := c.runSync(ctx, flags)
			return err
		},
	}

	flags.register(cmd)
	return cmd
}

// runSync wires one orchestrator run and delivers its report
func (c *cli) runSync(ctx context.Context, flags syncFlags) (*types.RunReport, error) {
	reg, err := c.registry()
	if err != nil {
		return nil, err
	}
	sources, err := reg.Filter(flags.sources)
	if err != nil {
		return nil, err
	}

	store, err := c.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	locker, err := c.lockManager()
	if err != nil {
		return nil, err
	}

	opts := c.orchestratorOptions(flags, reg.CorrectionLookback())
	orch := orchestrator.New(c.fetcher(), store, locker, opts, c.log)

	if c.cfg.Archive.URL != "" && !flags.checkOnly {
		mirror, err := archive.New(ctx, c.cfg.Archive.URL, c.log)
		if err != nil {
			return nil, rwerrors.Configuration("invalid archive.url").Wrap(err)
		}
		defer mirror.Close()
		orch.SetArchiver(mirror)
	}

	var tracker *progress.Tracker
	if !flags.jsonOut && isTerminal(c.out) {
		tracker = progress.NewReporter(c.out).StartOperation("Checking sources", int64(len(sources)))
	}
	orch.OnResult(func(res types.SourceResult) {
		c.log.WithFields(map[string]interface{}{
			"source":  res.SourceID,
			"outcome": res.Outcome,
		}).Debug("source finished")
		if tracker != nil {
			tracker.Increment(1)
			tracker.SetStatus(res.SourceID + " " + string(res.Outcome))
		}
	})

	report, runErr := orch.Run(ctx, sources)
	if tracker != nil {
		tracker.Complete()
	}
	if report == nil {
		return nil, runErr
	}

	if flags.jsonOut {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return report, err
		}
	}

	if err := c.notifier(!flags.jsonOut).Notify(context.WithoutCancel(ctx), report); err != nil {
		c.log.Error("failed to deliver run report", err)
	}

	return report, runErr
}

func (c *cli) orchestratorOptions(flags syncFlags, registryLookback time.Duration) orchestrator.Options {
	s := c.cfg.Sync
	opts := orchestrator.Options{
		Concurrency:  s.Concurrency,
		FetchTimeout: s.FetchTimeout,
		RunDeadline:  s.RunDeadline,
		LockTimeout:  s.LockTimeout,
		Policy:       scheduler.Policy{Lookback: s.CorrectionLookback, Force: flags.force},
		CheckOnly:    flags.checkOnly,
	}
	if opts.Policy.Lookback <= 0 {
		opts.Policy.Lookback = registryLookback
	}

	if flags.lookback > 0 {
		opts.Policy.Lookback = flags.lookback
	}
	if flags.concurrency > 0 {
		opts.Concurrency = flags.concurrency
	}
	if flags.fetchTimeout > 0 {
		opts.FetchTimeout = flags.fetchTimeout
	}
	if flags.deadline > 0 {
		opts.RunDeadline = flags.deadline
	}
	return opts
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/internal/logger"
)

func newWatchCommand(c *cli) *cobra.Command {
	var flags syncFlags
	var spec string
	var now bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run sync on a cron schedule until interrupted",
		Long: `Repeat sync on a cron schedule. The schedule comes from --cron or
schedule.cron in the config file. A run that is still going when the next
one is due is skipped, never overlapped.`,
		Example: `  # Every day at 06:00
  rankwatch watch --cron "0 6 * * *"

  # Every 6 hours, starting with an immediate run
  rankwatch watch --cron "@every 6h" --now`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if spec == "" {
				spec = c.cfg.Schedule.Cron
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return c.watch(ctx, spec, now, flags)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&spec, "cron", "", "cron schedule (default from config)")
	cmd.Flags().BoolVar(&now, "now", false, "run once immediately before waiting for the schedule")
	return cmd
}

func (c *cli) watch(ctx context.Context, spec string, now bool, flags syncFlags) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return rwerrors.Configuration("invalid cron schedule %q", spec).Wrap(err)
	}

	log := c.log.WithField("schedule", spec)
	clog := cronLogger{log: log}

	runOnce := func() {
		report, err := c.runSync(ctx, flags)
		switch {
		case err == nil:
		case errors.Is(err, rwerrors.ErrSourcesFailed):
			log.Warn("scheduled sync finished with failed sources")
		case rwerrors.IsKind(err, rwerrors.KindConfiguration):
			log.Error("scheduled sync has invalid configuration", err)
		default:
			log.Error("scheduled sync failed", err)
		}
		if report != nil {
			log.WithField("run", report.ID).Debug("scheduled sync done")
		}
	}

	scheduler := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	id, err := scheduler.AddFunc(spec, runOnce)
	if err != nil {
		return rwerrors.Configuration("invalid cron schedule %q", spec).Wrap(err)
	}

	if now {
		runOnce()
	}

	scheduler.Start()
	log.WithField("next", scheduler.Entry(id).Next).Info("watching for ranking updates")

	<-ctx.Done()
	log.Info("stopping watch, waiting for a running sync")
	<-scheduler.Stop().Done()
	return nil
}

// cronLogger adapts the application logger to cron.Logger
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) fields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(l.fields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(l.fields(keysAndValues)).Error("cron: "+msg, err)
}

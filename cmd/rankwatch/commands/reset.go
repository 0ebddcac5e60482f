package commands

import (
	"context"

	"github.com/spf13/cobra"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
)

func newResetCommand(c *cli) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reset <source>... | --all",
		Short: "Forget the sync state of sources",
		Long: `Delete the metadata record of the given sources so the next sync treats
them as never checked. Stored snapshots are kept, so the next check is still
compared against the latest one.`,
		Example: `  rankwatch reset rankings
  rankwatch reset --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) > 0:
				return rwerrors.Configuration("pass source ids or --all, not both")
			case !all && len(args) == 0:
				return rwerrors.Configuration("pass at least one source id, or --all to reset every source")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return c.reset(ctx, args, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "reset every source")
	return cmd
}

func (c *cli) reset(ctx context.Context, ids []string, all bool) error {
	reg, err := c.registry()
	if err != nil {
		return err
	}
	if all {
		ids = nil
	}
	sources, err := reg.Filter(ids)
	if err != nil {
		return err
	}

	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	locker, err := c.lockManager()
	if err != nil {
		return err
	}

	for _, src := range sources {
		// never reset a source under a running sync
		lock, err := locker.Acquire(ctx, src.ID, c.cfg.Sync.LockTimeout)
		if err != nil {
			return err
		}
		err = store.ResetMetadata(ctx, src.ID)
		lock.Release()
		if err != nil {
			return rwerrors.StoreWrite(src.ID, "reset metadata", err)
		}
		c.log.WithField("source", src.ID).Info("metadata reset")
		rwerrors.DisplaySuccess(c.out, "reset "+src.ID)
	}
	return nil
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/rankwatch/internal/differ"
	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/internal/notify"
	"github.com/yairfalse/rankwatch/internal/storage"
	"github.com/yairfalse/rankwatch/pkg/types"
)

const (
	refLatest   = "latest"
	refPrevious = "previous"
)

func newDiffCommand(c *cli) *cobra.Command {
	var (
		jsonOut bool
		stat    bool
	)

	cmd := &cobra.Command{
		Use:   "diff <source> [from [to]]",
		Short: "Compare two stored snapshots of a source",
		Long: `Show what changed between two stored snapshots, like 'git diff' for a
ranking table. Without refs the two latest snapshots are compared. With one
ref it is compared against the latest snapshot.

A ref is a snapshot id, a unique prefix of one, "latest" or "previous".`,
		Example: `  # What changed in the last update
  rankwatch diff rankings

  # Compare an older snapshot with the latest
  rankwatch diff rankings 20240101

  # Counts only
  rankwatch diff rankings --stat`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := refPrevious, refLatest
			if len(args) > 1 {
				from = args[1]
			}
			if len(args) > 2 {
				to = args[2]
			}

			src, cs, err := c.diff(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}

			switch {
			case jsonOut:
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(cs)
			case stat:
				s := differ.Summarize(cs)
				fmt.Fprintf(c.out, "%s: %d new, %d dropped, %d moved, %d modified, %d unchanged (rows %d → %d)\n",
					src.ID, s.New, s.Dropped, s.Moved, s.Modified, s.Unchanged, cs.RowCount.Old, cs.RowCount.New)
				return nil
			}

			fmt.Fprintf(c.out, "%s → %s\n", cs.PreviousID, cs.CurrentID)
			console := notify.NewConsole(c.out, c.noColor)
			console.SetDetailLimit(0)
			fmt.Fprint(c.out, console.RenderChanges(src.DisplayName(), cs))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the change set as JSON")
	cmd.Flags().BoolVar(&stat, "stat", false, "print change counts only")
	return cmd
}

func (c *cli) diff(ctx context.Context, sourceID, fromRef, toRef string) (types.Source, *types.ChangeSet, error) {
	src, err := c.source(sourceID)
	if err != nil {
		return src, nil, err
	}

	store, err := c.openStore()
	if err != nil {
		return src, nil, err
	}
	defer store.Close()

	infos, err := store.ListSnapshots(ctx, sourceID)
	if err != nil {
		return src, nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(infos) < 2 && (fromRef == refPrevious || toRef == refPrevious) {
		return src, nil, rwerrors.Configuration("%s has %d snapshot(s), need two to compare", sourceID, len(infos))
	}

	fromID, err := resolveRef(infos, fromRef)
	if err != nil {
		return src, nil, err
	}
	toID, err := resolveRef(infos, toRef)
	if err != nil {
		return src, nil, err
	}

	prev, err := loadSnapshot(ctx, store, sourceID, fromID)
	if err != nil {
		return src, nil, err
	}
	cur, err := loadSnapshot(ctx, store, sourceID, toID)
	if err != nil {
		return src, nil, err
	}
	return src, differ.Diff(prev, cur, src.Tracked()), nil
}

// resolveRef maps a snapshot ref to an id. infos is newest first.
func resolveRef(infos []types.SnapshotInfo, ref string) (string, error) {
	switch ref {
	case refLatest:
		if len(infos) == 0 {
			return "", rwerrors.Configuration("no snapshots stored yet")
		}
		return infos[0].ID, nil
	case refPrevious:
		if len(infos) < 2 {
			return "", rwerrors.Configuration("no previous snapshot")
		}
		return infos[1].ID, nil
	}

	var matches []string
	for _, info := range infos {
		if info.ID == ref {
			return ref, nil
		}
		if strings.HasPrefix(info.ID, ref) {
			matches = append(matches, info.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", rwerrors.Configuration("no snapshot matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", rwerrors.Configuration("snapshot ref %q is ambiguous (%d matches)", ref, len(matches)).
			WithSolutions("Use a longer prefix", "Run 'rankwatch history <source>' to list ids")
	}
}

func loadSnapshot(ctx context.Context, store storage.Store, sourceID, id string) (*types.Snapshot, error) {
	snap, err := store.LoadSnapshot(ctx, sourceID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", id, err)
	}
	return snap, nil
}

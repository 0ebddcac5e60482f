package differ

import (
	"sort"

	"github.com/yairfalse/rankwatch/pkg/types"
)

// DifferEngine is the main implementation of the Differ interface
type DifferEngine struct {
	matcher EntryMatcher
	options DiffOptions
}

// NewDifferEngine creates a new differ engine with the identity matcher
func NewDifferEngine(options ...DiffOptions) *DifferEngine {
	opts := DiffOptions{}
	if len(options) > 0 {
		opts = options[0]
	}
	if len(opts.TrackedFields) == 0 {
		opts.TrackedFields = types.DefaultTrackedFields
	}

	return &DifferEngine{
		matcher: &IdentityMatcher{},
		options: opts,
	}
}

// Diff compares two snapshots with the given tracked fields
func Diff(previous, current *types.Snapshot, tracked []string) *types.ChangeSet {
	return NewDifferEngine(DiffOptions{TrackedFields: tracked}).Compare(previous, current)
}

// Compare returns the change set from previous to current. A nil previous
// snapshot makes every current entry new.
func (d *DifferEngine) Compare(previous, current *types.Snapshot) *types.ChangeSet {
	cs := &types.ChangeSet{
		SourceID:  current.SourceID,
		CurrentID: current.ID,
	}

	var prevEntries []types.Entry
	if previous != nil {
		cs.PreviousID = previous.ID
		prevEntries = previous.Entries
	}

	cs.RowCount = types.RowCountDelta{
		Old:   len(prevEntries),
		New:   len(current.Entries),
		Delta: len(current.Entries) - len(prevEntries),
	}

	matches, added, removed := d.matcher.Match(prevEntries, current.Entries)

	sortByRank(added)
	sortByRank(removed)
	sort.SliceStable(matches, func(i, j int) bool {
		return rankLess(matches[i].Current, matches[j].Current)
	})

	cs.NewEntries = added
	cs.DroppedEntries = removed

	for _, m := range matches {
		changed := false

		if m.Previous.Rank != m.Current.Rank {
			cs.RankChanges = append(cs.RankChanges, types.RankChange{
				Key:     m.Current.Key,
				OldRank: m.Previous.Rank,
				NewRank: m.Current.Rank,
				Delta:   m.Previous.Rank - m.Current.Rank,
			})
			changed = true
		}

		for _, field := range d.options.TrackedFields {
			if field == types.FieldRank {
				continue
			}
			oldV, newV := m.Previous.Attr(field), m.Current.Attr(field)
			if oldV == newV {
				continue
			}
			cs.ValueChanges = append(cs.ValueChanges, types.ValueChange{
				Key:      m.Current.Key,
				Field:    field,
				OldValue: oldV,
				NewValue: newV,
			})
			changed = true
		}

		if !changed {
			cs.UnchangedCount++
		}
	}

	return cs
}

// Summarize returns the counts reports print for a change set
func Summarize(cs *types.ChangeSet) types.ChangeSummary {
	if cs == nil {
		return types.ChangeSummary{}
	}

	modified := make(map[string]struct{})
	for _, vc := range cs.ValueChanges {
		modified[vc.Key] = struct{}{}
	}

	return types.ChangeSummary{
		New:       len(cs.NewEntries),
		Dropped:   len(cs.DroppedEntries),
		Moved:     len(cs.RankChanges),
		Modified:  len(modified),
		Unchanged: cs.UnchangedCount,
		RowDelta:  cs.RowCount.Delta,
	}
}

func sortByRank(entries []types.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return rankLess(entries[i], entries[j])
	})
}

func rankLess(a, b types.Entry) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.Key < b.Key
}

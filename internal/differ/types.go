package differ

import (
	"github.com/yairfalse/rankwatch/pkg/types"
)

// Differ compares two snapshots of the same source
type Differ interface {
	Compare(previous, current *types.Snapshot) *types.ChangeSet
}

// EntryMatcher pairs entries across two snapshots
type EntryMatcher interface {
	Match(previous, current []types.Entry) (matches []EntryMatch, added, removed []types.Entry)
}

// EntryMatch is one identity present on both sides of a diff
type EntryMatch struct {
	Previous types.Entry
	Current  types.Entry
}

// DiffOptions configures the comparison
type DiffOptions struct {
	// TrackedFields are compared for value changes, in this order
	TrackedFields []string
}

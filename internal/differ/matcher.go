package differ

import (
	"github.com/yairfalse/rankwatch/pkg/types"
)

// IdentityMatcher implements EntryMatcher using exact identity keys.
// A renamed athlete is reported as one drop and one new entry.
type IdentityMatcher struct{}

// Match returns matched pairs plus the added and removed entries. Matches and
// added entries keep current order; removed entries keep previous order.
func (m *IdentityMatcher) Match(previous, current []types.Entry) ([]EntryMatch, []types.Entry, []types.Entry) {
	previousMap := make(map[string]types.Entry, len(previous))
	for _, e := range previous {
		previousMap[e.Key] = e
	}
	currentKeys := make(map[string]struct{}, len(current))

	var matches []EntryMatch
	var added, removed []types.Entry

	for _, e := range current {
		currentKeys[e.Key] = struct{}{}
		if prev, ok := previousMap[e.Key]; ok {
			matches = append(matches, EntryMatch{Previous: prev, Current: e})
			continue
		}
		added = append(added, e)
	}

	for _, e := range previous {
		if _, ok := currentKeys[e.Key]; !ok {
			removed = append(removed, e)
		}
	}

	return matches, added, removed
}

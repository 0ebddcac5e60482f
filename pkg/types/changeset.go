package types

// RankChange records an entry whose position moved. Delta is old - new, so
// a positive delta means the entry climbed.
type RankChange struct {
	Key     string `json:"key"`
	OldRank int    `json:"old_rank"`
	NewRank int    `json:"new_rank"`
	Delta   int    `json:"delta"`
}

// ValueChange records a tracked field that differs for a matched entry
type ValueChange struct {
	Key      string `json:"key"`
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// RowCountDelta compares the table size of both sides of a diff
type RowCountDelta struct {
	Old   int `json:"old"`
	New   int `json:"new"`
	Delta int `json:"delta"`
}

// ChangeSet is the structured difference between two snapshots of the same
// source. A matched entry may appear in both RankChanges and ValueChanges.
type ChangeSet struct {
	SourceID       string        `json:"source_id"`
	PreviousID     string        `json:"previous_id,omitempty"`
	CurrentID      string        `json:"current_id"`
	NewEntries     []Entry       `json:"new_entries,omitempty"`
	DroppedEntries []Entry       `json:"dropped_entries,omitempty"`
	RankChanges    []RankChange  `json:"rank_changes,omitempty"`
	ValueChanges   []ValueChange `json:"value_changes,omitempty"`
	UnchangedCount int           `json:"unchanged_count"`
	RowCount       RowCountDelta `json:"row_count"`
}

// IsEmpty returns true when no entry-level change exists
func (cs *ChangeSet) IsEmpty() bool {
	if cs == nil {
		return true
	}
	return len(cs.NewEntries) == 0 &&
		len(cs.DroppedEntries) == 0 &&
		len(cs.RankChanges) == 0 &&
		len(cs.ValueChanges) == 0
}

// ChangedKeys returns the distinct matched keys with a rank or value change
func (cs *ChangeSet) ChangedKeys() []string {
	if cs == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, rc := range cs.RankChanges {
		add(rc.Key)
	}
	for _, vc := range cs.ValueChanges {
		add(vc.Key)
	}
	return keys
}

// ChangeSummary holds the counts reports print for a change set
type ChangeSummary struct {
	New       int `json:"new"`
	Dropped   int `json:"dropped"`
	Moved     int `json:"moved"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
	RowDelta  int `json:"row_delta"`
}

// Total returns the number of individual changes
func (s ChangeSummary) Total() int {
	return s.New + s.Dropped + s.Moved + s.Modified
}

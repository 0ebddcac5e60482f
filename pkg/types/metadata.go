package types

import "time"

// SyncStatus is the outcome recorded for the last check of a source
type SyncStatus string

const (
	StatusUpdated   SyncStatus = "UPDATED"
	StatusUnchanged SyncStatus = "UNCHANGED"
	StatusError     SyncStatus = "ERROR"
)

// SourceMetadata is the durable per-source sync state. A missing record
// means the source was never checked.
type SourceMetadata struct {
	SourceID          string     `json:"source_id"`
	LastCheckAt       time.Time  `json:"last_check_at"`
	LastChangeAt      *time.Time `json:"last_change_at,omitempty"`
	RowCount          int        `json:"row_count"`
	Status            SyncStatus `json:"status"`
	LatestSnapshotRef string     `json:"latest_snapshot_ref,omitempty"`
	Fingerprint       string     `json:"fingerprint,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// Clone returns a deep copy, or nil for a nil receiver
func (m *SourceMetadata) Clone() *SourceMetadata {
	if m == nil {
		return nil
	}
	c := *m
	if m.LastChangeAt != nil {
		t := *m.LastChangeAt
		c.LastChangeAt = &t
	}
	return &c
}

// MarkError records a failed check. Row count, snapshot ref, fingerprint and
// last change time of the previous record are preserved.
func MarkError(prev *SourceMetadata, sourceID string, now time.Time, err error) *SourceMetadata {
	m := prev.Clone()
	if m == nil {
		m = &SourceMetadata{SourceID: sourceID}
	}
	m.LastCheckAt = now
	m.Status = StatusError
	if err != nil {
		m.LastError = err.Error()
	}
	return m
}

// MarkUnchanged records a check whose fingerprint matched the latest stored
// snapshot. Last change time is carried over from the previous record.
func MarkUnchanged(prev *SourceMetadata, latest *Snapshot, now time.Time) *SourceMetadata {
	m := prev.Clone()
	if m == nil {
		m = &SourceMetadata{SourceID: latest.SourceID}
	}
	m.LastCheckAt = now
	m.Status = StatusUnchanged
	m.RowCount = len(latest.Entries)
	m.LatestSnapshotRef = latest.ID
	m.Fingerprint = latest.Fingerprint
	m.LastError = ""
	return m
}

// MarkUpdated builds the record committed together with a new snapshot
func MarkUpdated(snap *Snapshot, now time.Time) *SourceMetadata {
	changed := now
	return &SourceMetadata{
		SourceID:          snap.SourceID,
		LastCheckAt:       now,
		LastChangeAt:      &changed,
		RowCount:          len(snap.Entries),
		Status:            StatusUpdated,
		LatestSnapshotRef: snap.ID,
		Fingerprint:       snap.Fingerprint,
	}
}

package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time capture of one source's normalized table.
// A snapshot is immutable once created.
type Snapshot struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Timestamp   time.Time `json:"timestamp"`
	Fingerprint string    `json:"fingerprint"`
	Entries     []Entry   `json:"entries"`
}

// NewSnapshot creates a snapshot with a fresh identifier
func NewSnapshot(sourceID string, ts time.Time, fingerprint string, entries []Entry) *Snapshot {
	return &Snapshot{
		ID:          NewSnapshotID(ts),
		SourceID:    sourceID,
		Timestamp:   ts.UTC(),
		Fingerprint: fingerprint,
		Entries:     entries,
	}
}

// NewSnapshotID returns a time-sortable snapshot identifier
func NewSnapshotID(ts time.Time) string {
	return fmt.Sprintf("%s-%s", ts.UTC().Format("20060102T150405Z"), uuid.New().String()[:8])
}

// Validate checks if the Snapshot has all required fields and valid values
func (s *Snapshot) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("snapshot ID is required")
	}
	if strings.TrimSpace(s.SourceID) == "" {
		return errors.New("snapshot source ID is required")
	}
	if s.Timestamp.IsZero() {
		return errors.New("snapshot timestamp is required")
	}
	if s.Fingerprint == "" {
		return errors.New("snapshot fingerprint is required")
	}

	seen := make(map[string]struct{}, len(s.Entries))
	for i := range s.Entries {
		if err := s.Entries[i].Validate(); err != nil {
			return fmt.Errorf("entry at index %d is invalid: %w", i, err)
		}
		if _, dup := seen[s.Entries[i].Key]; dup {
			return fmt.Errorf("duplicate entry key %q", s.Entries[i].Key)
		}
		seen[s.Entries[i].Key] = struct{}{}
	}

	return nil
}

// EntryCount returns the number of entries in the snapshot
func (s *Snapshot) EntryCount() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Index returns the entries keyed by identity
func (s *Snapshot) Index() map[string]*Entry {
	idx := make(map[string]*Entry, len(s.Entries))
	for i := range s.Entries {
		idx[s.Entries[i].Key] = &s.Entries[i]
	}
	return idx
}

// GetEntry returns an entry by its key, or nil if not found
func (s *Snapshot) GetEntry(key string) *Entry {
	for i := range s.Entries {
		if s.Entries[i].Key == key {
			return &s.Entries[i]
		}
	}
	return nil
}

// SnapshotInfo is the listing form of a stored snapshot
type SnapshotInfo struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id"`
	Timestamp   time.Time `json:"timestamp"`
	Fingerprint string    `json:"fingerprint"`
	EntryCount  int       `json:"entry_count"`
}

// Info returns the listing form of the snapshot
func (s *Snapshot) Info() SnapshotInfo {
	return SnapshotInfo{
		ID:          s.ID,
		SourceID:    s.SourceID,
		Timestamp:   s.Timestamp,
		Fingerprint: s.Fingerprint,
		EntryCount:  len(s.Entries),
	}
}

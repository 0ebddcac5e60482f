package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/pkg/types"
)

const backupsKept = 5

// sourceRecord is the per-source index file. Only snapshots listed in
// History are visible; a snapshot file without an entry is an orphan.
type sourceRecord struct {
	Metadata *types.SourceMetadata `json:"metadata,omitempty"`
	Head     string                `json:"head,omitempty"`
	History  []types.SnapshotInfo  `json:"history"`
}

func (r *sourceRecord) has(id string) bool {
	for _, h := range r.History {
		if h.ID == id {
			return true
		}
	}
	return false
}

// LocalStore implements Store on the local filesystem:
//
//	<base>/snapshots/<source>/<snapshot-id>.json
//	<base>/sources/<source>.json
//	<base>/backups/
type LocalStore struct {
	baseDir   string
	snapshots string
	sources   string
	backups   string

	writer fileWriter
	atomic *AtomicWriter

	// mu serializes read-modify-write of source records
	mu sync.Mutex
}

// NewLocalStore creates a file store rooted at baseDir
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".rankwatch")
	}

	aw := NewAtomicWriter(filepath.Join(baseDir, "backups"))
	s := newLocalStore(baseDir, aw)
	s.atomic = aw

	for _, dir := range []string{s.snapshots, s.sources, s.backups} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, rwerrors.StoreUnavailable("file", fmt.Errorf("failed to create directory %s: %w", dir, err))
		}
	}

	return s, nil
}

func newLocalStore(baseDir string, w fileWriter) *LocalStore {
	return &LocalStore{
		baseDir:   baseDir,
		snapshots: filepath.Join(baseDir, "snapshots"),
		sources:   filepath.Join(baseDir, "sources"),
		backups:   filepath.Join(baseDir, "backups"),
		writer:    w,
	}
}

// BaseDir returns the store root
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

func (s *LocalStore) recordPath(sourceID string) string {
	return filepath.Join(s.sources, sanitizeFilename(sourceID)+".json")
}

func (s *LocalStore) snapshotPath(sourceID, snapshotID string) string {
	return filepath.Join(s.snapshots, sanitizeFilename(sourceID), sanitizeFilename(snapshotID)+".json")
}

// GetMetadata implements MetadataStore
func (s *LocalStore) GetMetadata(ctx context.Context, sourceID string) (*types.SourceMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(sourceID)
	if err != nil {
		return nil, err
	}
	return rec.Metadata.Clone(), nil
}

// PutMetadata implements MetadataStore
func (s *LocalStore) PutMetadata(ctx context.Context, meta *types.SourceMetadata) error {
	if meta == nil || meta.SourceID == "" {
		return fmt.Errorf("metadata source ID is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(meta.SourceID)
	if err != nil {
		return err
	}
	rec.Metadata = meta.Clone()
	return s.saveRecord(meta.SourceID, rec)
}

// ResetMetadata implements MetadataStore. Head and history are kept so the
// next sync still diffs against the latest snapshot.
func (s *LocalStore) ResetMetadata(ctx context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(sourceID)
	if err != nil {
		return err
	}
	if rec.Metadata == nil {
		return nil
	}
	rec.Metadata = nil
	return s.saveRecord(sourceID, rec)
}

// ListMetadata implements MetadataStore
func (s *LocalStore) ListMetadata(ctx context.Context) (map[string]*types.SourceMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := os.ReadDir(s.sources)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*types.SourceMetadata{}, nil
		}
		return nil, fmt.Errorf("failed to read sources directory: %w", err)
	}

	result := make(map[string]*types.SourceMetadata)
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		var rec sourceRecord
		if err := s.loadJSON(filepath.Join(s.sources, f.Name()), &rec); err != nil {
			// skip corrupted records
			continue
		}
		if rec.Metadata != nil {
			result[rec.Metadata.SourceID] = rec.Metadata
		}
	}
	return result, nil
}

// AppendSnapshot implements SnapshotStore
func (s *LocalStore) AppendSnapshot(ctx context.Context, snap *types.Snapshot) error {
	return s.commit(ctx, snap, nil)
}

// Commit implements Store. The snapshot file is written first and the
// source record second; the record rename is the commit point.
func (s *LocalStore) Commit(ctx context.Context, snap *types.Snapshot, meta *types.SourceMetadata) error {
	if meta == nil {
		return fmt.Errorf("metadata is required")
	}
	return s.commit(ctx, snap, meta)
}

func (s *LocalStore) commit(ctx context.Context, snap *types.Snapshot, meta *types.SourceMetadata) error {
	if snap == nil {
		return fmt.Errorf("snapshot is required")
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	if meta != nil && meta.SourceID != snap.SourceID {
		return fmt.Errorf("metadata source %q does not match snapshot source %q", meta.SourceID, snap.SourceID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(snap.SourceID)
	if err != nil {
		return err
	}
	if rec.has(snap.ID) {
		return fmt.Errorf("snapshot %s already exists for source %s", snap.ID, snap.SourceID)
	}

	path := s.snapshotPath(snap.SourceID, snap.ID)
	if err := s.saveJSON(path, snap); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	rec.History = append(rec.History, snap.Info())
	rec.Head = snap.ID
	if meta != nil {
		rec.Metadata = meta.Clone()
	}

	if err := s.saveRecord(snap.SourceID, rec); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// LatestSnapshot implements SnapshotStore
func (s *LocalStore) LatestSnapshot(ctx context.Context, sourceID string) (*types.Snapshot, error) {
	s.mu.Lock()
	rec, err := s.loadRecord(sourceID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if rec.Head == "" {
		return nil, nil
	}
	return s.readSnapshot(sourceID, rec.Head)
}

// ListSnapshots implements SnapshotStore
func (s *LocalStore) ListSnapshots(ctx context.Context, sourceID string) ([]types.SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadRecord(sourceID)
	if err != nil {
		return nil, err
	}

	infos := make([]types.SnapshotInfo, len(rec.History))
	copy(infos, rec.History)
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})
	return infos, nil
}

// LoadSnapshot implements SnapshotStore
func (s *LocalStore) LoadSnapshot(ctx context.Context, sourceID, snapshotID string) (*types.Snapshot, error) {
	s.mu.Lock()
	rec, err := s.loadRecord(sourceID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !rec.has(snapshotID) {
		return nil, fmt.Errorf("snapshot %s for source %s: %w", snapshotID, sourceID, ErrNotFound)
	}
	return s.readSnapshot(sourceID, snapshotID)
}

func (s *LocalStore) readSnapshot(sourceID, snapshotID string) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := s.loadJSON(s.snapshotPath(sourceID, snapshotID), &snap); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshot %s for source %s: %w", snapshotID, sourceID, ErrNotFound)
		}
		return nil, err
	}
	return &snap, nil
}

// Ping implements Store by writing and removing a probe file
func (s *LocalStore) Ping(ctx context.Context) error {
	if err := os.MkdirAll(s.sources, 0755); err != nil {
		return rwerrors.StoreUnavailable("file", err)
	}
	probe := filepath.Join(s.baseDir, fmt.Sprintf(".probe-%d", time.Now().UnixNano()))
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return rwerrors.StoreUnavailable("file", err)
	}
	return os.Remove(probe)
}

// Close implements Store
func (s *LocalStore) Close() error {
	if s.atomic == nil {
		return nil
	}
	return s.atomic.CleanupBackups(0, backupsKept)
}

func (s *LocalStore) loadRecord(sourceID string) (*sourceRecord, error) {
	if sourceID == "" {
		return nil, fmt.Errorf("source ID is required")
	}
	var rec sourceRecord
	if err := s.loadJSON(s.recordPath(sourceID), &rec); err != nil {
		if os.IsNotExist(err) {
			return &sourceRecord{}, nil
		}
		return nil, fmt.Errorf("failed to load record for %s: %w", sourceID, err)
	}
	return &rec, nil
}

func (s *LocalStore) saveRecord(sourceID string, rec *sourceRecord) error {
	if err := s.saveJSON(s.recordPath(sourceID), rec); err != nil {
		return fmt.Errorf("failed to write record for %s: %w", sourceID, err)
	}
	return nil
}

// saveJSON saves data as indented JSON through the atomic writer
func (s *LocalStore) saveJSON(path string, data interface{}) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return s.writer.WriteFile(path, raw, 0644)
}

// loadJSON loads JSON data from the specified path. Not-exist errors are
// returned unwrapped.
func (s *LocalStore) loadJSON(path string, target interface{}) error {
	raw, err := s.writer.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode JSON %s: %w", path, err)
	}
	return nil
}

// sanitizeFilename removes invalid characters from filenames
func sanitizeFilename(name string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " ", ".."}
	result := name
	for _, char := range invalid {
		result = strings.ReplaceAll(result, char, "-")
	}
	return result
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/yairfalse/rankwatch/pkg/types"
)

// ErrNotFound is returned when a snapshot reference does not exist
var ErrNotFound = errors.New("not found")

// MetadataStore persists per-source sync state
type MetadataStore interface {
	// GetMetadata returns nil, nil when the source was never checked
	GetMetadata(ctx context.Context, sourceID string) (*types.SourceMetadata, error)
	// PutMetadata overwrites the record; repeated puts are idempotent
	PutMetadata(ctx context.Context, meta *types.SourceMetadata) error
	// ResetMetadata deletes the record. Snapshots are kept.
	ResetMetadata(ctx context.Context, sourceID string) error
	// ListMetadata returns every stored record keyed by source id
	ListMetadata(ctx context.Context) (map[string]*types.SourceMetadata, error)
}

// SnapshotStore persists the append-only snapshot history of each source
type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, snap *types.Snapshot) error
	// LatestSnapshot returns nil, nil when the source has no snapshot
	LatestSnapshot(ctx context.Context, sourceID string) (*types.Snapshot, error)
	// ListSnapshots returns committed snapshots, newest first
	ListSnapshots(ctx context.Context, sourceID string) ([]types.SnapshotInfo, error)
	LoadSnapshot(ctx context.Context, sourceID, snapshotID string) (*types.Snapshot, error)
}

// Store is the full persistence contract used by the orchestrator
type Store interface {
	MetadataStore
	SnapshotStore

	// Commit appends snap and writes meta atomically: after a failure
	// neither is visible.
	Commit(ctx context.Context, snap *types.Snapshot, meta *types.SourceMetadata) error
	// Ping reports whether the store is usable at all
	Ping(ctx context.Context) error
	Close() error
}

// Config holds storage configuration
type Config struct {
	Backend    string `json:"backend"`
	BaseDir    string `json:"base_dir"`
	SQLitePath string `json:"sqlite_path,omitempty"`
}

// Open creates the store selected by cfg.Backend
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewLocalStore(cfg.BaseDir)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

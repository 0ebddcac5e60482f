package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	rwerrors "github.com/yairfalse/rankwatch/internal/errors"
	"github.com/yairfalse/rankwatch/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// timestamps are stored fixed-width so text order is time order. Parsing
// with RFC3339Nano also accepts rows written without trailing zeros.
const (
	timeLayout      = "2006-01-02T15:04:05.000000000Z07:00"
	parseTimeLayout = time.RFC3339Nano
)

// SQLiteStore implements Store on a single SQLite database. Commit is one
// transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and migrates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, rwerrors.StoreUnavailable("sqlite", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rwerrors.StoreUnavailable("sqlite", fmt.Errorf("failed to open database: %w", err))
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, rwerrors.StoreUnavailable("sqlite", fmt.Errorf("failed to set pragma: %w", err))
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, rwerrors.StoreUnavailable("sqlite", fmt.Errorf("failed to apply schema: %w", err))
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file
func (s *SQLiteStore) Path() string {
	return s.path
}

// GetMetadata implements MetadataStore
func (s *SQLiteStore) GetMetadata(ctx context.Context, sourceID string) (*types.SourceMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_id, last_check_at, last_change_at, row_count, status,
		       latest_snapshot_ref, fingerprint, last_error
		FROM source_metadata WHERE source_id = ?`, sourceID)

	meta, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return meta, err
}

// PutMetadata implements MetadataStore
func (s *SQLiteStore) PutMetadata(ctx context.Context, meta *types.SourceMetadata) error {
	if meta == nil || meta.SourceID == "" {
		return fmt.Errorf("metadata source ID is required")
	}
	return putMetadata(ctx, s.db, meta)
}

// ResetMetadata implements MetadataStore
func (s *SQLiteStore) ResetMetadata(ctx context.Context, sourceID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM source_metadata WHERE source_id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to reset metadata for %s: %w", sourceID, err)
	}
	return nil
}

// ListMetadata implements MetadataStore
func (s *SQLiteStore) ListMetadata(ctx context.Context) (map[string]*types.SourceMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, last_check_at, last_change_at, row_count, status,
		       latest_snapshot_ref, fingerprint, last_error
		FROM source_metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*types.SourceMetadata)
	for rows.Next() {
		meta, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		result[meta.SourceID] = meta
	}
	return result, rows.Err()
}

// AppendSnapshot implements SnapshotStore
func (s *SQLiteStore) AppendSnapshot(ctx context.Context, snap *types.Snapshot) error {
	return s.commit(ctx, snap, nil)
}

// Commit implements Store
func (s *SQLiteStore) Commit(ctx context.Context, snap *types.Snapshot, meta *types.SourceMetadata) error {
	if meta == nil {
		return fmt.Errorf("metadata is required")
	}
	return s.commit(ctx, snap, meta)
}

func (s *SQLiteStore) commit(ctx context.Context, snap *types.Snapshot, meta *types.SourceMetadata) error {
	if snap == nil {
		return fmt.Errorf("snapshot is required")
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	if meta != nil && meta.SourceID != snap.SourceID {
		return fmt.Errorf("metadata source %q does not match snapshot source %q", meta.SourceID, snap.SourceID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, source_id, taken_at, fingerprint, entry_count)
		VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.SourceID, snap.Timestamp.UTC().Format(timeLayout), snap.Fingerprint, len(snap.Entries),
	); err != nil {
		return fmt.Errorf("failed to insert snapshot %s: %w", snap.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (snapshot_id, position, key, rank, points, attributes)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range snap.Entries {
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("failed to encode attributes of %s: %w", e.Key, err)
		}
		if _, err := stmt.ExecContext(ctx, snap.ID, i, e.Key, e.Rank, e.Points, string(attrs)); err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.Key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO source_heads (source_id, snapshot_id) VALUES (?, ?)
		ON CONFLICT(source_id) DO UPDATE SET snapshot_id = excluded.snapshot_id`,
		snap.SourceID, snap.ID,
	); err != nil {
		return fmt.Errorf("failed to move head of %s: %w", snap.SourceID, err)
	}

	if meta != nil {
		if err := putMetadata(ctx, tx, meta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LatestSnapshot implements SnapshotStore
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, sourceID string) (*types.Snapshot, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_id FROM source_heads WHERE source_id = ?`, sourceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read head of %s: %w", sourceID, err)
	}
	return s.LoadSnapshot(ctx, sourceID, id)
}

// ListSnapshots implements SnapshotStore
func (s *SQLiteStore) ListSnapshots(ctx context.Context, sourceID string) ([]types.SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, taken_at, fingerprint, entry_count
		FROM snapshots WHERE source_id = ?
		ORDER BY taken_at DESC, seq DESC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var infos []types.SnapshotInfo
	for rows.Next() {
		var info types.SnapshotInfo
		var takenAt string
		if err := rows.Scan(&info.ID, &info.SourceID, &takenAt, &info.Fingerprint, &info.EntryCount); err != nil {
			return nil, err
		}
		if info.Timestamp, err = time.Parse(parseTimeLayout, takenAt); err != nil {
			return nil, fmt.Errorf("bad timestamp on snapshot %s: %w", info.ID, err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// LoadSnapshot implements SnapshotStore
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, sourceID, snapshotID string) (*types.Snapshot, error) {
	snap := &types.Snapshot{}
	var takenAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, taken_at, fingerprint
		FROM snapshots WHERE id = ? AND source_id = ?`, snapshotID, sourceID,
	).Scan(&snap.ID, &snap.SourceID, &takenAt, &snap.Fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s for source %s: %w", snapshotID, sourceID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", snapshotID, err)
	}
	if snap.Timestamp, err = time.Parse(parseTimeLayout, takenAt); err != nil {
		return nil, fmt.Errorf("bad timestamp on snapshot %s: %w", snapshotID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, rank, points, attributes
		FROM entries WHERE snapshot_id = ? ORDER BY position`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries of %s: %w", snapshotID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e types.Entry
		var attrs string
		if err := rows.Scan(&e.Key, &e.Rank, &e.Points, &attrs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &e.Attributes); err != nil {
			return nil, fmt.Errorf("bad attributes on %s/%s: %w", snapshotID, e.Key, err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// Ping implements Store
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return rwerrors.StoreUnavailable("sqlite", err)
	}
	if _, err := s.db.ExecContext(ctx, `SELECT 1 FROM snapshots LIMIT 1`); err != nil {
		return rwerrors.StoreUnavailable("sqlite", err)
	}
	return nil
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func putMetadata(ctx context.Context, db execer, meta *types.SourceMetadata) error {
	var changeAt sql.NullString
	if meta.LastChangeAt != nil {
		changeAt = sql.NullString{String: meta.LastChangeAt.UTC().Format(timeLayout), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO source_metadata (source_id, last_check_at, last_change_at, row_count, status,
		                             latest_snapshot_ref, fingerprint, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			last_check_at = excluded.last_check_at,
			last_change_at = excluded.last_change_at,
			row_count = excluded.row_count,
			status = excluded.status,
			latest_snapshot_ref = excluded.latest_snapshot_ref,
			fingerprint = excluded.fingerprint,
			last_error = excluded.last_error`,
		meta.SourceID, meta.LastCheckAt.UTC().Format(timeLayout), changeAt, meta.RowCount,
		string(meta.Status), meta.LatestSnapshotRef, meta.Fingerprint, meta.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", meta.SourceID, err)
	}
	return nil
}

func scanMetadata(row scanner) (*types.SourceMetadata, error) {
	var (
		meta     types.SourceMetadata
		checkAt  string
		changeAt sql.NullString
		status   string
	)
	if err := row.Scan(&meta.SourceID, &checkAt, &changeAt, &meta.RowCount, &status,
		&meta.LatestSnapshotRef, &meta.Fingerprint, &meta.LastError); err != nil {
		return nil, err
	}
	meta.Status = types.SyncStatus(status)

	t, err := time.Parse(parseTimeLayout, checkAt)
	if err != nil {
		return nil, fmt.Errorf("bad last_check_at for %s: %w", meta.SourceID, err)
	}
	meta.LastCheckAt = t

	if changeAt.Valid {
		t, err := time.Parse(parseTimeLayout, changeAt.String)
		if err != nil {
			return nil, fmt.Errorf("bad last_change_at for %s: %w", meta.SourceID, err)
		}
		meta.LastChangeAt = &t
	}
	return &meta, nil
}

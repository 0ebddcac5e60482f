package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/rankwatch/internal/logger"
	"github.com/yairfalse/rankwatch/pkg/types"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Target
		wantErr bool
	}{
		{
			name: "s3 with region",
			raw:  "s3://wt-archive/rankings?region=eu-west-1",
			want: Target{Backend: BackendS3, Bucket: "wt-archive", Prefix: "rankings", Region: "eu-west-1"},
		},
		{
			name: "gs alias",
			raw:  "gs://wt-archive/a/b/",
			want: Target{Backend: BackendGCS, Bucket: "wt-archive", Prefix: "a/b"},
		},
		{
			name: "azure with prefix",
			raw:  "azurerm://wtstorage/snapshots/2026",
			want: Target{Backend: BackendAzure, Bucket: "wtstorage", Container: "snapshots", Prefix: "2026"},
		},
		{
			name: "file",
			raw:  "file:///srv/mirror",
			want: Target{Backend: BackendFile, Prefix: "/srv/mirror"},
		},
		{name: "azure without container", raw: "azurerm://wtstorage", wantErr: true},
		{name: "s3 without bucket", raw: "s3:///x", wantErr: true},
		{name: "unknown scheme", raw: "ftp://host/x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescribe(t *testing.T) {
	desc, err := Describe("s3://wt-archive/rankings?region=eu-west-1")
	require.NoError(t, err)
	assert.Contains(t, desc, "wt-archive")
	assert.Contains(t, desc, "eu-west-1")

	_, err = Describe("ftp://x")
	assert.Error(t, err)
}

func testSnapshot() *types.Snapshot {
	return &types.Snapshot{
		ID:          "20260504T060000Z-abcd1234",
		SourceID:    "rankings",
		Timestamp:   time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC),
		Fingerprint: "fp",
		Entries:     []types.Entry{{Key: "Kim", Rank: 1, Points: 300}},
	}
}

func TestMirror_File(t *testing.T) {
	dir := t.TempDir()
	m, err := New(context.Background(), "file://"+dir, logger.NewNop())
	require.NoError(t, err)
	defer m.Close()

	snap := testSnapshot()
	require.NoError(t, m.Archive(context.Background(), snap))

	for _, name := range []string{snap.ID + ".json", "latest.json"} {
		data, err := os.ReadFile(filepath.Join(dir, "rankings", name))
		require.NoError(t, err, name)

		var got types.Snapshot
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, snap.ID, got.ID)
		assert.Len(t, got.Entries, 1)
	}
}

type recordingUploader struct {
	keys []string
	err  error
}

func (r *recordingUploader) put(ctx context.Context, key string, data []byte) error {
	if r.err != nil {
		return r.err
	}
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordingUploader) close() error { return nil }

func TestMirror_Keys(t *testing.T) {
	up := &recordingUploader{}
	m := &Mirror{
		target:   Target{Backend: BackendS3, Bucket: "b", Prefix: "wt/rankings"},
		uploader: up,
		logger:   logger.NewNop(),
	}

	require.NoError(t, m.Archive(context.Background(), testSnapshot()))
	assert.Equal(t, []string{
		"wt/rankings/rankings/20260504T060000Z-abcd1234.json",
		"wt/rankings/rankings/latest.json",
	}, up.keys)
}

func TestMirror_UploadError(t *testing.T) {
	m := &Mirror{
		target:   Target{Backend: BackendGCS, Bucket: "b"},
		uploader: &recordingUploader{err: errors.New("permission denied")},
		logger:   logger.NewNop(),
	}

	err := m.Archive(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestS3Error(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "The specified bucket does not exist"}
	err := s3Error(fmt.Errorf("operation error S3: PutObject: %w", apiErr))
	assert.EqualError(t, err, "NoSuchBucket: The specified bucket does not exist")

	plain := errors.New("dial tcp: timeout")
	assert.Same(t, plain, s3Error(plain))
}

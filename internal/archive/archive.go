// Package archive mirrors committed snapshots to object storage so the
// history survives the loss of the local store.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/yairfalse/rankwatch/internal/logger"
	"github.com/yairfalse/rankwatch/pkg/types"
)

// Archiver receives every snapshot committed by a sync
type Archiver interface {
	Archive(ctx context.Context, snap *types.Snapshot) error
}

// Backend names
const (
	BackendS3    = "s3"
	BackendAzure = "azurerm"
	BackendGCS   = "gcs"
	BackendFile  = "file"
)

// Target is a parsed archive URL
type Target struct {
	Backend string
	// Bucket is the S3/GCS bucket or the Azure storage account
	Bucket string
	// Container is only used by Azure
	Container string
	Prefix    string
	Region    string
}

// uploader writes one object
type uploader interface {
	put(ctx context.Context, key string, data []byte) error
	close() error
}

// ParseURL parses an archive location:
//
//	s3://bucket/prefix?region=eu-west-1
//	gcs://bucket/prefix (gs:// also accepted)
//	azurerm://account/container/prefix
//	file:///var/lib/rankwatch/mirror
func ParseURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid URL: %w", err)
	}

	trimmed := strings.Trim(u.Path, "/")
	switch u.Scheme {
	case "s3":
		t := Target{Backend: BackendS3, Bucket: u.Host, Prefix: trimmed, Region: u.Query().Get("region")}
		return t, t.Validate()

	case "gcs", "gs":
		t := Target{Backend: BackendGCS, Bucket: u.Host, Prefix: trimmed}
		return t, t.Validate()

	case "azurerm":
		t := Target{Backend: BackendAzure, Bucket: u.Host}
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) >= 1 {
			t.Container = parts[0]
		}
		if len(parts) == 2 {
			t.Prefix = parts[1]
		}
		return t, t.Validate()

	case "file":
		t := Target{Backend: BackendFile, Prefix: u.Path}
		return t, t.Validate()

	default:
		return Target{}, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
}

// Validate checks the fields each backend needs
func (t Target) Validate() error {
	switch t.Backend {
	case BackendS3:
		if t.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
	case BackendGCS:
		if t.Bucket == "" {
			return fmt.Errorf("GCS bucket is required")
		}
	case BackendAzure:
		if t.Bucket == "" {
			return fmt.Errorf("Azure storage account name is required")
		}
		if t.Container == "" {
			return fmt.Errorf("Azure container name is required")
		}
	case BackendFile:
		if t.Prefix == "" {
			return fmt.Errorf("file archive path is required")
		}
	default:
		return fmt.Errorf("unsupported backend: %s", t.Backend)
	}
	return nil
}

// String renders the target as a location users recognize
func (t Target) String() string {
	switch t.Backend {
	case BackendS3:
		return fmt.Sprintf("s3://%s/%s", t.Bucket, t.Prefix)
	case BackendGCS:
		return fmt.Sprintf("gs://%s/%s", t.Bucket, t.Prefix)
	case BackendAzure:
		return fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", t.Bucket, t.Container, t.Prefix)
	default:
		return "file://" + t.Prefix
	}
}

// Describe returns a short human description of an archive URL
func Describe(raw string) (string, error) {
	t, err := ParseURL(raw)
	if err != nil {
		return "", err
	}
	switch t.Backend {
	case BackendS3:
		desc := fmt.Sprintf("AWS S3 bucket %s, prefix %q", t.Bucket, t.Prefix)
		if t.Region != "" {
			desc += ", region " + t.Region
		}
		return desc, nil
	case BackendAzure:
		return fmt.Sprintf("Azure Storage %s, container %s", t.Bucket, t.Container), nil
	case BackendGCS:
		return fmt.Sprintf("Google Cloud Storage bucket %s", t.Bucket), nil
	default:
		return "local directory " + t.Prefix, nil
	}
}

// Mirror uploads snapshots as JSON objects under
// <prefix>/<source>/<snapshot-id>.json and refreshes <prefix>/<source>/latest.json.
type Mirror struct {
	target   Target
	uploader uploader
	logger   logger.Logger
}

// New creates a mirror for the archive URL. Cloud clients pick up
// credentials the way their SDKs normally do.
func New(ctx context.Context, raw string, log logger.Logger) (*Mirror, error) {
	t, err := ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse archive URL: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	var up uploader
	switch t.Backend {
	case BackendS3:
		up, err = newS3Uploader(ctx, t)
	case BackendGCS:
		up, err = newGCSUploader(ctx, t)
	case BackendAzure:
		up, err = newAzureUploader(t)
	case BackendFile:
		up = newFileUploader(t.Prefix)
	}
	if err != nil {
		return nil, err
	}

	return &Mirror{target: t, uploader: up, logger: log.WithField("archive", t.String())}, nil
}

// Target returns the parsed destination
func (m *Mirror) Target() Target {
	return m.target
}

// Archive implements Archiver
func (m *Mirror) Archive(ctx context.Context, snap *types.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := path.Join(m.target.Prefix, snap.SourceID)
	if m.target.Backend == BackendFile {
		dir = snap.SourceID
	}
	for _, key := range []string{
		path.Join(dir, snap.ID+".json"),
		path.Join(dir, "latest.json"),
	} {
		if err := m.uploader.put(ctx, key, data); err != nil {
			return fmt.Errorf("failed to upload %s to %s: %w", key, m.target.Backend, err)
		}
	}

	m.logger.WithFields(map[string]interface{}{
		"source":   snap.SourceID,
		"snapshot": snap.ID,
		"bytes":    len(data),
	}).Debug("snapshot archived")
	return nil
}

// Close releases backend clients
func (m *Mirror) Close() error {
	return m.uploader.close()
}

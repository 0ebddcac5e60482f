package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"google.golang.org/api/option"
)

const contentType = "application/json"

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func newS3Uploader(ctx context.Context, t Target) (*s3Uploader, error) {
	var awsConfig aws.Config
	var err error
	if t.Region != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(t.Region))
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &s3Uploader{client: s3.NewFromConfig(awsConfig), bucket: t.Bucket}, nil
}

func (u *s3Uploader) put(ctx context.Context, key string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3://%s/%s: %w", u.bucket, key, s3Error(err))
	}
	return nil
}

// s3Error shortens SDK errors to the service error code and message
func s3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err
}

func (u *s3Uploader) close() error { return nil }

type gcsUploader struct {
	client *storage.Client
	bucket string
}

func newGCSUploader(ctx context.Context, t Target) (*gcsUploader, error) {
	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &gcsUploader{client: client, bucket: t.Bucket}, nil
}

func (u *gcsUploader) put(ctx context.Context, key string, data []byte) error {
	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("gs://%s/%s: %w", u.bucket, key, err)
	}
	// the object is only committed on Close
	if err := w.Close(); err != nil {
		return fmt.Errorf("gs://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}

func (u *gcsUploader) close() error {
	return u.client.Close()
}

type azureUploader struct {
	container azblob.ContainerURL
}

// newAzureUploader authenticates with AZURE_STORAGE_KEY when set and falls
// back to anonymous access, which works for SAS-enabled containers.
func newAzureUploader(t Target) (*azureUploader, error) {
	var cred azblob.Credential = azblob.NewAnonymousCredential()
	if key := os.Getenv("AZURE_STORAGE_KEY"); key != "" {
		shared, err := azblob.NewSharedKeyCredential(t.Bucket, key)
		if err != nil {
			return nil, fmt.Errorf("invalid Azure storage key: %w", err)
		}
		cred = shared
	}

	raw := fmt.Sprintf("https://%s.blob.core.windows.net/%s", t.Bucket, t.Container)
	if sas := os.Getenv("AZURE_STORAGE_SAS_TOKEN"); sas != "" {
		raw += "?" + sas
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure container URL: %w", err)
	}

	pipeline := azblob.NewPipeline(cred, azblob.PipelineOptions{})
	return &azureUploader{container: azblob.NewContainerURL(*parsed, pipeline)}, nil
}

func (u *azureUploader) put(ctx context.Context, key string, data []byte) error {
	blob := u.container.NewBlockBlobURL(key)
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blob, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: contentType},
	})
	if err != nil {
		return fmt.Errorf("azure blob %s: %w", key, err)
	}
	return nil
}

func (u *azureUploader) close() error { return nil }

// fileUploader mirrors to a local directory, typically a mounted share
type fileUploader struct {
	root string
}

func newFileUploader(root string) *fileUploader {
	return &fileUploader{root: root}
}

func (u *fileUploader) put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := filepath.Join(u.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (u *fileUploader) close() error { return nil }

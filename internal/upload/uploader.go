package upload

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets

	"github.com/pitabwire/inkline/internal/config"
)

// Options configure one upload.
type Options struct {
	Folder string
	Preset string
}

// Result is where an uploaded file can be fetched from.
type Result struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
}

// Uploader stores one file remotely.
type Uploader interface {
	Upload(ctx context.Context, f File, opts Options) (Result, error)
}

// BlobUploader writes files to a gocloud.dev bucket and serves them from a
// public base URL.
type BlobUploader struct {
	bucket    *blob.Bucket
	publicURL string
}

// NewBlobUploader creates an uploader over bucket. publicURL is the prefix
// objects are reachable under.
func NewBlobUploader(bucket *blob.Bucket, publicURL string) *BlobUploader {
	return &BlobUploader{bucket: bucket, publicURL: strings.TrimSuffix(publicURL, "/")}
}

// Upload implements Uploader.
func (u *BlobUploader) Upload(ctx context.Context, f File, opts Options) (Result, error) {
	publicID := path.Join(opts.Folder, uuid.NewString())
	key := publicID + extension(f)

	err := u.bucket.WriteAll(ctx, key, f.Data, &blob.WriterOptions{
		ContentType: f.ContentType,
		Metadata:    map[string]string{"original_name": f.Name},
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload: write %s: %w", key, err)
	}
	return Result{PublicID: publicID, SecureURL: u.publicURL + "/" + key}, nil
}

// HealthCheck reports whether the bucket is reachable.
func (u *BlobUploader) HealthCheck(ctx context.Context) error {
	ok, err := u.bucket.IsAccessible(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("upload: bucket is not accessible")
	}
	return nil
}

// Close releases the bucket.
func (u *BlobUploader) Close() error {
	return u.bucket.Close()
}

func extension(f File) string {
	if ext := path.Ext(f.Name); ext != "" {
		return strings.ToLower(ext)
	}
	if exts, _ := mime.ExtensionsByType(f.ContentType); len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// Open builds the uploader selected by cfg.Driver. The returned close func
// releases any bucket that was opened.
func Open(ctx context.Context, cfg config.UploadConfig, client *http.Client) (Uploader, func() error, error) {
	switch cfg.Driver {
	case "cloudinary":
		return NewCloudinaryUploader(client, cfg.CloudName, cfg.UploadPreset), func() error { return nil }, nil
	case "blob", "":
		bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
		if err != nil {
			return nil, nil, fmt.Errorf("upload: open bucket %s: %w", cfg.BucketURL, err)
		}
		u := NewBlobUploader(bucket, cfg.PublicURL)
		return u, u.Close, nil
	}
	return nil, nil, fmt.Errorf("upload: unknown driver %q", cfg.Driver)
}

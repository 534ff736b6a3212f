// Package objectstore uploads rendered images to a bucket and derives the
// public URL they are served from.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Store writes one object.
type Store interface {
	Upload(ctx context.Context, bucket, key string, r io.Reader) error
}

// UploadError reports a failed upload.
type UploadError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload gs://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// PublicURL joins prefix, bucket and key with exactly one slash between them.
func PublicURL(prefix, bucket, key string) string {
	return strings.TrimRight(prefix, "/") + "/" + strings.Trim(bucket, "/") + "/" + strings.TrimLeft(key, "/")
}

// Uploader pushes local files through a Store.
type Uploader struct {
	Store  Store
	Prefix string // public URL prefix, e.g. https://storage.googleapis.com/
}

// UploadFile uploads the file at path under key and returns its public URL.
// It returns only once the store has acknowledged the write.
func (u *Uploader) UploadFile(ctx context.Context, bucket, path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &UploadError{Bucket: bucket, Key: key, Err: err}
	}
	defer f.Close()

	if err := u.Store.Upload(ctx, bucket, key, f); err != nil {
		return "", &UploadError{Bucket: bucket, Key: key, Err: err}
	}
	return PublicURL(u.Prefix, bucket, key), nil
}

// GCS is a Store backed by Google Cloud Storage.
type GCS struct {
	client *storage.Client
}

// NewGCS connects with the service account key at credentialsFile, or with
// application default credentials when it is empty.
func NewGCS(ctx context.Context, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &GCS{client: client}, nil
}

func (g *GCS) Upload(ctx context.Context, bucket, key string, r io.Reader) error {
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "image/jpeg"
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	// the object only exists once Close succeeds
	return w.Close()
}

func (g *GCS) Close() error { return g.client.Close() }

// Package gcs stores exported result documents in a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the target bucket.
type Config struct {
	Bucket string
	// CacheControl is set on every object. Empty leaves the bucket default.
	CacheControl string
}

// BlobStore implements export.BlobStore over one bucket.
type BlobStore struct {
	bucket       *storage.BucketHandle
	name         string
	cacheControl string
}

// New binds a BlobStore to cfg.Bucket. The client stays owned by the caller.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs: nil client")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	return &BlobStore{
		bucket:       client.Bucket(cfg.Bucket),
		name:         cfg.Bucket,
		cacheControl: cfg.CacheControl,
	}, nil
}

// PutObject uploads data in a single request and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	name, err := objectName(key)
	if err != nil {
		return "", err
	}
	w := s.bucket.Object(name).NewWriter(ctx)
	// Result documents are small; skip resumable chunking.
	w.ChunkSize = 0
	w.ContentType = contentType
	w.CacheControl = s.cacheControl

	_, copyErr := io.Copy(w, bytes.NewReader(data))
	closeErr := w.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", fmt.Errorf("gcs upload %s: %w", name, err)
	}
	return ObjectURI(s.name, name), nil
}

// ObjectURI formats the gs:// location of an object.
func ObjectURI(bucket, key string) string {
	return "gs://" + bucket + "/" + strings.TrimLeft(key, "/")
}

// objectName cleans key into a bucket-relative object name.
func objectName(key string) (string, error) {
	name := strings.TrimLeft(path.Clean("/"+strings.TrimSpace(key)), "/")
	if name == "" || name == "." {
		return "", fmt.Errorf("gcs: empty object key %q", key)
	}
	return name, nil
}

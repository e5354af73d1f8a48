// Package snapshots archives served bibliographies in object storage so a
// library state can be recovered after upstream edits.
package snapshots

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/overlab/overlab/internal/config"
	"github.com/overlab/overlab/pkg/logger"
)

// MinioStore writes one object per served bibliography under
// <prefix>/<name>/<timestamp>.bib.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore connects to the endpoint and ensures the bucket exists.
// prefix namespaces the objects, normally the library owner id.
func NewMinioStore(ctx context.Context, cfg config.SnapshotConfig, prefix string) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
		logger.Infof("snapshots: created bucket %s", cfg.Bucket)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Store archives one bibliography under a timestamped object name.
func (s *MinioStore) Store(ctx context.Context, name string, data []byte) error {
	object := fmt.Sprintf("%s/%s/%s.bib", s.prefix, name, time.Now().UTC().Format("20060102T150405Z"))
	_, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/x-bibtex",
	})
	if err != nil {
		return fmt.Errorf("storing snapshot %s: %w", object, err)
	}
	logger.Debugf("snapshots: stored %s (%d bytes)", object, len(data))
	return nil
}

// Latest returns the newest snapshot for a name, or nil when none exists.
func (s *MinioStore) Latest(ctx context.Context, name string) ([]byte, error) {
	prefix := fmt.Sprintf("%s/%s/", s.prefix, name)
	var newest string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key > newest {
			newest = obj.Key
		}
	}
	if newest == "" {
		return nil, nil
	}

	r, err := s.client.GetObject(ctx, s.bucket, newest, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Package blob is the object-storage collaborator: attachment uploads and
// time-limited signed URLs for private objects.
package blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store struct {
	client *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Upload streams one object into the bucket. onProgress, when non-nil,
// receives 0-100 as bytes go out.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, onProgress func(pct int)) error {
	if onProgress != nil {
		r = &progressReader{r: r, total: size, report: onProgress}
		onProgress(0)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// SignURL issues a presigned GET URL for a private object. ttl is capped by
// the platform at 7 days.
func (s *Store) SignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("sign url %s: %w", key, err)
	}
	return u.String(), nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(pct int)
	last   int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}

// Package blobstore keeps opaque chat attachments. Payloads are encrypted by
// clients, so the store never inspects content.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-platform/internal/apperr"
	"github.com/wolfman30/clinic-booking-platform/pkg/logging"
)

// Blob describes a stored object.
type Blob struct {
	Key         string    `json:"fileId"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"-"`
}

// Object is an open blob; callers must close Body.
type Object struct {
	Blob
	Body io.ReadCloser
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store writes blobs under prefix/<yyyy>/<mm>/<uuid>.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	logger *logging.Logger
}

func NewS3Store(client S3API, bucket, prefix string, logger *logging.Logger) *S3Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Enabled reports whether a bucket is configured.
func (s *S3Store) Enabled() bool {
	return s != nil && s.client != nil && s.bucket != ""
}

func (s *S3Store) Put(ctx context.Context, filename, contentType string, data []byte) (Blob, error) {
	if !s.Enabled() {
		return Blob{}, apperr.Unavailable("file uploads are not configured")
	}
	now := time.Now().UTC()
	key := path.Join(s.prefix, fmt.Sprintf("%d/%02d/%s", now.Year(), now.Month(), uuid.NewString()))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      map[string]string{"filename": filename},
	})
	if err != nil {
		return Blob{}, fmt.Errorf("blobstore: s3 put %s: %w", key, err)
	}
	return Blob{Key: key, Filename: filename, ContentType: contentType, Size: int64(len(data)), CreatedAt: now}, nil
}

func (s *S3Store) Open(ctx context.Context, key string) (*Object, error) {
	if !s.Enabled() {
		return nil, apperr.Unavailable("file downloads are not configured")
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, apperr.NotFound("file not found")
		}
		return nil, fmt.Errorf("blobstore: s3 get %s: %w", key, err)
	}
	return &Object{
		Blob: Blob{
			Key:         key,
			Filename:    out.Metadata["filename"],
			ContentType: aws.ToString(out.ContentType),
			Size:        aws.ToInt64(out.ContentLength),
		},
		Body: out.Body,
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if !s.Enabled() {
		return nil
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("blobstore: s3 delete %s: %w", key, err)
	}
	return nil
}

// MemoryStore is an in-process store for local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memBlob
}

type memBlob struct {
	meta Blob
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memBlob)}
}

func (m *MemoryStore) Put(ctx context.Context, filename, contentType string, data []byte) (Blob, error) {
	b := Blob{
		Key:         uuid.NewString(),
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.blobs[b.Key] = memBlob{meta: b, data: cp}
	m.mu.Unlock()
	return b, nil
}

func (m *MemoryStore) Open(ctx context.Context, key string) (*Object, error) {
	m.mu.RLock()
	b, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("file not found")
	}
	return &Object{Blob: b.meta, Body: io.NopCloser(bytes.NewReader(b.data))}, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

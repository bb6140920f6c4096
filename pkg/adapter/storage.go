package adapter

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// ErrObjectNotFound is returned by Storage.Read when the key does not exist
var ErrObjectNotFound = goerr.New("object not found")

// Storage keeps archived blobs such as conversation sessions
type Storage interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
}

// CloudStorage implements Storage on a Cloud Storage bucket
type CloudStorage struct {
	bucket string
	prefix string
	client *storage.Client
}

type StorageOption func(*CloudStorage)

// WithStoragePrefix prepends prefix to every object key
func WithStoragePrefix(prefix string) StorageOption {
	return func(s *CloudStorage) {
		s.prefix = prefix
	}
}

func NewCloudStorage(ctx context.Context, bucket string, opts ...StorageOption) (*CloudStorage, error) {
	if bucket == "" {
		return nil, goerr.New("bucket name is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	s := &CloudStorage{
		bucket: bucket,
		client: client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *CloudStorage) Close() error {
	return s.client.Close()
}

func (s *CloudStorage) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + key)
}

func (s *CloudStorage) Write(ctx context.Context, key string, data []byte) error {
	w := s.object(key).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("bucket", s.bucket), goerr.V("key", key))
	}
	// The object is committed on Close
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to commit object", goerr.V("bucket", s.bucket), goerr.V("key", key))
	}
	return nil
}

func (s *CloudStorage) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, goerr.Wrap(ErrObjectNotFound, "no such object", goerr.V("bucket", s.bucket), goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to open object", goerr.V("bucket", s.bucket), goerr.V("key", key))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read object", goerr.V("bucket", s.bucket), goerr.V("key", key))
	}
	return data, nil
}

package uploader

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ObjectStore is the object storage the uploader writes to
type ObjectStore interface {
	// NewWriter returns a writer that creates bucket/object on Close
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser

	// Size returns the stored size of bucket/object
	Size(ctx context.Context, bucket, object string) (int64, error)

	// Delete removes bucket/object
	Delete(ctx context.Context, bucket, object string) error

	// Compose concatenates sources, in order, into bucket/object and
	// returns the composed size
	Compose(ctx context.Context, bucket, object string, sources []string) (int64, error)

	Close() error
}

// gcsStore is the Google Cloud Storage implementation of ObjectStore
type gcsStore struct {
	client    *storage.Client
	chunkSize int
}

// newGCSStore creates a GCS client, over gRPC with a connection pool when requested
func newGCSStore(ctx context.Context, config Config) (*gcsStore, error) {
	var (
		client *storage.Client
		err    error
	)

	if config.UseGRPC {
		client, err = storage.NewGRPCClient(ctx,
			option.WithGRPCConnectionPool(config.GRPCPoolSize),
		)
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &gcsStore{client: client, chunkSize: config.ChunkSize}, nil
}

func (s *gcsStore) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ChunkSize = s.chunkSize
	w.ContentType = "application/octet-stream"
	return w
}

func (s *gcsStore) Size(ctx context.Context, bucket, object string) (int64, error) {
	attrs, err := s.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return attrs.Size, nil
}

func (s *gcsStore) Delete(ctx context.Context, bucket, object string) error {
	return s.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (s *gcsStore) Compose(ctx context.Context, bucket, object string, sources []string) (int64, error) {
	bkt := s.client.Bucket(bucket)
	handles := make([]*storage.ObjectHandle, len(sources))
	for i, src := range sources {
		handles[i] = bkt.Object(src)
	}

	composer := bkt.Object(object).ComposerFrom(handles...)
	composer.ContentType = "application/octet-stream"

	attrs, err := composer.Run(ctx)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (s *gcsStore) Close() error {
	return s.client.Close()
}

package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
)

// GCSBackend stores objects in a Google Cloud Storage bucket.
type GCSBackend struct {
	client    *gcs.Client
	bucket    string
	prefix    string
	publicURL string
}

// NewGCSBackend creates a client using the credentials file from settings,
// or application default credentials when it is empty. Extra client
// options are appended, which tests use to point at an emulator.
func NewGCSBackend(ctx context.Context, settings *conf.GCSSettings, extra ...option.ClientOption) (*GCSBackend, error) {
	var opts []option.ClientOption
	if settings.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(settings.CredentialsFile))
	}
	opts = append(opts, extra...)

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.New(err).
			Component("storage").
			Category(errors.CategoryConfiguration).
			Context("backend", "gcs").
			Build()
	}

	publicURL := settings.PublicURL
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://storage.googleapis.com/%s", settings.Bucket)
	}

	return &GCSBackend{
		client:    client,
		bucket:    settings.Bucket,
		prefix:    settings.Prefix,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// Save writes data with a resumable object writer.
func (b *GCSBackend) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := objectKey(b.prefix, name)
	w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", b.wrap(err, "write_object", key)
	}
	if err := w.Close(); err != nil {
		return "", b.wrap(err, "close_writer", key)
	}
	return b.publicURL + "/" + key, nil
}

// Open returns an object reader.
func (b *GCSBackend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := objectKey(b.prefix, name)
	r, err := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, b.wrap(err, "read_object", key)
	}
	return r, nil
}

// Delete removes the object.
func (b *GCSBackend) Delete(ctx context.Context, name string) error {
	key := objectKey(b.prefix, name)
	err := b.client.Bucket(b.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return b.wrap(err, "delete_object", key)
	}
	return nil
}

// Name returns "gcs".
func (b *GCSBackend) Name() string {
	return "gcs"
}

// Close releases the client.
func (b *GCSBackend) Close() error {
	return b.client.Close()
}

func (b *GCSBackend) wrap(err error, op, key string) error {
	return errors.New(err).
		Component("storage").
		Category(errors.CategoryStorage).
		Context("backend", "gcs").
		Context("operation", op).
		Context("bucket", b.bucket).
		Context("key", key).
		Build()
}

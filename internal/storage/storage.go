// Package storage persists uploaded thermal images on local disk, Amazon S3
// or Google Cloud Storage behind one Backend interface.
package storage

import (
	"context"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
)

// ErrObjectNotFound is returned when a stored object does not exist.
var ErrObjectNotFound = errors.NewSentinel("stored object not found", errors.CategoryNotFound)

// Backend stores and retrieves image objects by file name.
type Backend interface {
	// Save writes data under name and returns the public URL of the object.
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
	// Open returns a reader for the object. Returns ErrObjectNotFound.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes the object; deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	// Name identifies the backend in logs and health output.
	Name() string
}

// New creates the backend selected by settings.
func New(ctx context.Context, settings *conf.StorageSettings) (Backend, error) {
	switch settings.Type {
	case "s3":
		return NewS3Backend(ctx, &settings.S3)
	case "gcs":
		return NewGCSBackend(ctx, &settings.GCS)
	case "local", "":
		return NewLocalBackend(settings.UploadDir, settings.URLPrefix)
	}
	return nil, errors.Newf("unknown storage type %q", settings.Type).
		Component("storage").
		Category(errors.CategoryConfiguration).
		Build()
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename replaces every character outside [a-zA-Z0-9._-] with an
// underscore. Empty names become "file".
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return unsafeChars.ReplaceAllString(name, "_")
}

// UniqueName returns "{uuid}_{sanitized original}".
func UniqueName(original string) string {
	return uuid.NewString() + "_" + SanitizeFilename(original)
}

// NameFromURL extracts the object name from an image URL produced by Save.
func NameFromURL(imageURL string) string {
	if i := strings.IndexAny(imageURL, "?#"); i >= 0 {
		imageURL = imageURL[:i]
	}
	return path.Base(imageURL)
}

// ReadAll reads the whole object.
func ReadAll(ctx context.Context, b Backend, name string) ([]byte, error) {
	rc, err := b.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.New(err).
			Component("storage").
			Category(errors.CategoryFileIO).
			Context("backend", b.Name()).
			Context("object", name).
			Build()
	}
	return data, nil
}

// objectKey joins a bucket prefix and an object name.
func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

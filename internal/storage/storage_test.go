package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlens/gridlens/internal/conf"
	"github.com/gridlens/gridlens/internal/errors"
)

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"thermal.jpg", "thermal.jpg"},
		{"my photo (1).jpg", "my_photo__1_.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\images\t-01.png`, "t-01.png"},
		{"", "file"},
		{"ünïcode.jpg", "_n_code.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestUniqueName(t *testing.T) {
	t.Parallel()

	a := UniqueName("a b.jpg")
	b := UniqueName("a b.jpg")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "_a_b.jpg"), a)
	assert.Len(t, a, 36+1+len("a_b.jpg"))
}

func TestNameFromURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "x.jpg", NameFromURL("/uploads/x.jpg"))
	assert.Equal(t, "x.jpg", NameFromURL("https://bucket.s3.eu-west-1.amazonaws.com/images/x.jpg?v=1"))
	assert.Equal(t, "x.jpg", NameFromURL("x.jpg"))
}

func TestLocalBackend_SaveOpenDelete(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "uploads")
	b, err := NewLocalBackend(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())

	ctx := t.Context()
	url, err := b.Save(ctx, "img.jpg", []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/img.jpg", url)

	onDisk, err := os.ReadFile(filepath.Join(dir, "img.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(onDisk))

	data, err := ReadAll(ctx, b, NameFromURL(url))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	require.NoError(t, b.Delete(ctx, "img.jpg"))
	require.NoError(t, b.Delete(ctx, "img.jpg"), "deleting twice is not an error")

	_, err = b.Open(ctx, "img.jpg")
	require.ErrorIs(t, err, ErrObjectNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestLocalBackend_RejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b, err := NewLocalBackend(filepath.Join(dir, "uploads"), "/files")
	require.NoError(t, err)

	url, err := b.Save(t.Context(), "../escape.jpg", []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, "/files/escape.jpg", url)

	_, err = os.Stat(filepath.Join(dir, "escape.jpg"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "uploads", "escape.jpg"))
	assert.NoError(t, err)
}

func TestNew_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &conf.StorageSettings{Type: "floppy"})
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestNew_Local(t *testing.T) {
	t.Parallel()

	b, err := New(context.Background(), &conf.StorageSettings{Type: "local", UploadDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, "local", b.Name())
}

// fakeS3 is a minimal path-style S3 endpoint keeping objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		_, _ = w.Write(body)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Backend_RoundTrip(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	b, err := NewS3Backend(t.Context(), &conf.S3Settings{
		Bucket:          "thermal",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Prefix:          "images/",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", b.Name())

	ctx := t.Context()
	url, err := b.Save(ctx, "a.jpg", []byte("payload"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/thermal/images/a.jpg", url)

	fake.mu.Lock()
	assert.Equal(t, "payload", string(fake.objects["thermal/images/a.jpg"]))
	assert.Equal(t, "image/jpeg", fake.types["thermal/images/a.jpg"])
	fake.mu.Unlock()

	data, err := ReadAll(ctx, b, "a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	require.NoError(t, b.Delete(ctx, "a.jpg"))
	_, err = b.Open(ctx, "a.jpg")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestS3Backend_DefaultPublicURL(t *testing.T) {
	t.Parallel()

	b, err := NewS3Backend(t.Context(), &conf.S3Settings{
		Bucket:          "thermal",
		Region:          "eu-west-1",
		AccessKeyID:     "k",
		SecretAccessKey: "s",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://thermal.s3.eu-west-1.amazonaws.com", b.publicURL)
}

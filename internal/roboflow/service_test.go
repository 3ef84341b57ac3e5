package roboflow

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/storage"
	"github.com/gridlens/gridlens/internal/testutil"
)

type serviceFixture struct {
	svc       *Service
	store     *repository.Store
	images    *storage.LocalBackend
	transport *httpmock.MockTransport
}

func newServiceFixture(t *testing.T, cfg ServiceConfig) *serviceFixture {
	t.Helper()
	store := testutil.NewStore(t)
	images, err := storage.NewLocalBackend(t.TempDir(), "/uploads")
	require.NoError(t, err)
	dc, transport := newTestDatasetClient(t)
	return &serviceFixture{
		svc:       NewService(store, images, dc, cfg, testutil.DiscardLogger()),
		store:     store,
		images:    images,
		transport: transport,
	}
}

// seedUploadable stores an image file and one annotation.
func (f *serviceFixture) seedUploadable(t *testing.T, name string) *entities.ThermalImage {
	t.Helper()
	url, err := f.images.Save(context.Background(), name, []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	img := testutil.SeedImage(t, f.store, url)
	testutil.SeedAnnotation(t, f.store, img, "d-1", entities.AnnotationUserAdded, "faulty")
	return img
}

func TestService_UploadWithAnnotations(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, ServiceConfig{AutoAnnotate: true})
	img := f.seedUploadable(t, "img1.jpg")

	f.transport.RegisterResponder(http.MethodPost, testAPIURL+"/dataset/thermal/upload",
		httpmock.NewStringResponder(http.StatusOK, `{"id": "item-1", "duplicate": false}`))
	f.transport.RegisterResponder(http.MethodPost, testAPIURL+"/dataset/thermal/annotate/item-1",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "img1.txt", req.URL.Query().Get("name"))
			return httpmock.NewStringResponse(http.StatusOK, `{"success": true}`), nil
		})

	summary, err := f.svc.UploadWithAnnotations(t.Context(), img.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "item-1", summary.Upload.ID)
	assert.True(t, summary.Annotated)
	assert.Equal(t, 1, summary.Annotations)
}

func TestService_UploadSurvivesAnnotateFailure(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, ServiceConfig{AutoAnnotate: true})
	img := f.seedUploadable(t, "img2.jpg")

	f.transport.RegisterResponder(http.MethodPost, testAPIURL+"/dataset/thermal/upload",
		httpmock.NewStringResponder(http.StatusCreated, `{"id": "item-2"}`))
	f.transport.RegisterResponder(http.MethodPost, testAPIURL+"/dataset/thermal/annotate/item-2",
		httpmock.NewStringResponder(http.StatusInternalServerError, `nope`))

	summary, err := f.svc.UploadWithAnnotations(t.Context(), img.ID, "train")
	require.NoError(t, err)
	assert.False(t, summary.Annotated)
	assert.NotEmpty(t, summary.AnnotateError)
	assert.Equal(t, 1+annotateAttempts, f.transport.GetTotalCallCount())
}

func TestService_UploadFallsBackToAnnotatePath(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, ServiceConfig{AutoAnnotate: true, AnnotatePath: "fixed-item"})
	img := f.seedUploadable(t, "img3.jpg")

	f.transport.RegisterResponder(http.MethodPost, testAPIURL+"/dataset/thermal/upload",
		httpmock.NewStringResponder(http.StatusOK, `{"duplicate": true}`))
	f.transport.RegisterResponder(http.MethodPost, testAPIURL+"/dataset/thermal/annotate/fixed-item",
		httpmock.NewStringResponder(http.StatusOK, `{"success": true}`))

	summary, err := f.svc.UploadWithAnnotations(t.Context(), img.ID, "train")
	require.NoError(t, err)
	assert.True(t, summary.Annotated)
}

func TestService_UploadPreconditions(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, ServiceConfig{})

	t.Run("unknown image", func(t *testing.T) {
		_, err := f.svc.UploadWithAnnotations(t.Context(), "missing", "train")
		require.ErrorIs(t, err, repository.ErrThermalImageNotFound)
	})

	t.Run("no annotations", func(t *testing.T) {
		img := testutil.SeedImage(t, f.store, "/uploads/none.jpg")
		_, err := f.svc.UploadWithAnnotations(t.Context(), img.ID, "train")
		require.ErrorIs(t, err, ErrNoAnnotations)
		assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
	})

	t.Run("deleted annotations do not count", func(t *testing.T) {
		img := testutil.SeedImage(t, f.store, "/uploads/del.jpg")
		a := testutil.SeedAnnotation(t, f.store, img, "d-9", entities.AnnotationUserAdded, "faulty")
		a.IsDeleted = true
		require.NoError(t, f.store.Annotations.Save(t.Context(), a))
		_, err := f.svc.UploadWithAnnotations(t.Context(), img.ID, "train")
		require.ErrorIs(t, err, ErrNoAnnotations)
	})

	t.Run("missing file", func(t *testing.T) {
		img := testutil.SeedImage(t, f.store, "/uploads/ghost.jpg")
		testutil.SeedAnnotation(t, f.store, img, "d-1", entities.AnnotationAIDetected, "faulty")
		_, err := f.svc.UploadWithAnnotations(t.Context(), img.ID, "train")
		require.ErrorIs(t, err, storage.ErrObjectNotFound)
	})

	assert.Zero(t, f.transport.GetTotalCallCount())
}

func TestService_BatchUploadCountsFailures(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, ServiceConfig{UploadConcurrency: 3})
	ok1 := f.seedUploadable(t, "ok1.jpg")
	ok2 := f.seedUploadable(t, "ok2.jpg")

	var uploads atomic.Int32
	f.transport.RegisterResponder(http.MethodPost, testAPIURL+"/dataset/thermal/upload",
		func(*http.Request) (*http.Response, error) {
			uploads.Add(1)
			return httpmock.NewStringResponse(http.StatusOK, `{"id": "x"}`), nil
		})

	summary, err := f.svc.BatchUpload(t.Context(), []string{ok1.ID, "missing", ok2.ID}, "test")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 1, summary.Failure)
	assert.Equal(t, "test", summary.Split)
	assert.Equal(t, int32(2), uploads.Load())
}

func TestService_UploadUserCorrections(t *testing.T) {
	t.Parallel()

	t.Run("nothing to upload", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t, ServiceConfig{})
		img := testutil.SeedImage(t, f.store, "/uploads/ai.jpg")
		testutil.SeedAnnotation(t, f.store, img, "d-1", entities.AnnotationAIDetected, "faulty")

		summary, err := f.svc.UploadUserCorrections(t.Context(), "")
		require.NoError(t, err)
		assert.Zero(t, summary.Total)
		assert.Equal(t, "No user-corrected annotations found", summary.Message)
	})

	t.Run("deduplicates images", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t, ServiceConfig{})
		img := f.seedUploadable(t, "corr.jpg")
		testutil.SeedAnnotation(t, f.store, img, "d-2", entities.AnnotationUserEdited, "normal")

		f.transport.RegisterResponder(http.MethodPost, testAPIURL+"/dataset/thermal/upload",
			httpmock.NewStringResponder(http.StatusOK, `{"id": "x"}`))

		summary, err := f.svc.UploadUserCorrections(t.Context(), "train")
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Total)
		assert.Equal(t, 1, summary.Success)
	})
}

func TestService_ExportYOLO(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t, ServiceConfig{})
	img := f.seedUploadable(t, "yolo.jpg")

	text, err := f.svc.ExportYOLO(t.Context(), img.ID)
	require.NoError(t, err)
	// single box 100,50 40x30 normalized by its own extent 140x80
	assert.Equal(t, "0 0.857143 0.812500 0.285714 0.375000\n", text)

	_, err = f.svc.ExportYOLO(t.Context(), "missing")
	require.ErrorIs(t, err, repository.ErrThermalImageNotFound)
}

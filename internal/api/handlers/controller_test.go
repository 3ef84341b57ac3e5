package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlens/gridlens/internal/annotation"
	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/feedback"
	"github.com/gridlens/gridlens/internal/storage"
	"github.com/gridlens/gridlens/internal/testutil"
	"github.com/gridlens/gridlens/internal/thermal"
)

type exportCounter struct {
	calls map[string]int
}

func (e *exportCounter) RecordExport(format, status string) {
	if e.calls == nil {
		e.calls = map[string]int{}
	}
	e.calls[format+"/"+status]++
}

type testEnv struct {
	e       *echo.Echo
	store   *repository.Store
	exports *exportCounter
}

func setupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()
	store := testutil.NewStore(t)
	backend, err := storage.NewLocalBackend(t.TempDir(), "/uploads")
	require.NoError(t, err)
	log := testutil.DiscardLogger()

	fb := feedback.NewService(store, time.Minute, nil, log)
	alerts := thermal.NewAlertService(store, nil, 0.5, log)
	exports := &exportCounter{}

	e := echo.New()
	New(e.Group("/api"), Services{
		Transformers: thermal.NewTransformerService(store, backend, time.Minute, log),
		Inspections:  thermal.NewInspectionService(store, log),
		Images:       thermal.NewImageService(store, backend, nil, alerts, nil, log),
		Alerts:       alerts,
		Annotations:  annotation.NewService(store, annotation.Options{Synthesizer: fb, Logger: log}),
		Feedback:     fb,
		Exports:      exports,
	}, log)
	return &testEnv{e: e, store: store, exports: exports}
}

func (env *testEnv) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTransformerEndpoints(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodPost, "/api/transformers", `{"transformerNo":"AZ-8890","type":"Distribution","region":"Nugegoda"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[entities.Transformer](t, rec)
	require.NotEmpty(t, created.ID)

	rec = env.do(t, http.MethodGet, "/api/transformers/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AZ-8890", decode[entities.Transformer](t, rec).TransformerNo)

	rec = env.do(t, http.MethodPost, "/api/transformers", `{"transformerNo":"AZ-8890","type":"Bulk"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate transformer number")

	rec = env.do(t, http.MethodPost, "/api/transformers", `{"type":"Bulk"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/transformers/"+created.ID, `{"transformerNo":"AZ-8890","type":"Bulk","region":"Maharagama"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Maharagama", decode[entities.Transformer](t, rec).Region)

	rec = env.do(t, http.MethodGet, "/api/transformers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]entities.Transformer](t, rec), 1)

	rec = env.do(t, http.MethodDelete, "/api/transformers/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/transformers/"+created.ID, "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, errResp.Code)
	assert.Len(t, errResp.CorrelationID, 8)
	assert.Equal(t, "Failed to get transformer", errResp.Message)
}

func TestBaselineEndpoints(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	tr := testutil.SeedTransformer(t, env.store)

	rec := env.do(t, http.MethodGet, "/api/transformers/"+tr.ID+"/baseline?weatherCondition=sunny", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body, contentType := multipartBody(t, nil, map[string][]byte{"file": []byte("jpeg-bytes")})
	req := httptest.NewRequest(http.MethodPost, "/api/transformers/"+tr.ID+"/baseline?weatherCondition=sunny", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rr := httptest.NewRecorder()
	env.e.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rec = env.do(t, http.MethodGet, "/api/transformers/"+tr.ID+"/baseline?weatherCondition=sunny", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]string](t, rec)
	assert.True(t, strings.HasPrefix(got["imageUrl"], "/uploads/"), got["imageUrl"])
}

func TestInspectionEndpoints(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	tr := testutil.SeedTransformer(t, env.store)
	other := testutil.SeedTransformer(t, env.store)
	testutil.SeedInspection(t, env.store, other)

	rec := env.do(t, http.MethodPost, "/api/inspections",
		`{"inspectionNo":"000123","transformerId":"`+tr.ID+`","inspectedDate":"2025-09-14T08:30:00Z","status":"Pending"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	insp := decode[entities.Inspection](t, rec)

	rec = env.do(t, http.MethodGet, "/api/inspections?transformerId="+tr.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]entities.Inspection](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, insp.ID, list[0].ID)

	rec = env.do(t, http.MethodPut, "/api/inspections/"+insp.ID, `{"status":"Completed"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[entities.Inspection](t, rec)
	assert.Equal(t, "Completed", updated.Status)
	assert.Equal(t, "000123", updated.InspectionNo, "absent fields are kept")

	rec = env.do(t, http.MethodPost, "/api/inspections", `{"inspectionNo":"x","transformerId":"missing","inspectedDate":"2025-09-14T08:30:00Z"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for k, data := range files {
		part, err := w.CreateFormFile(k, "capture.jpg")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestUploadImage(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	insp := testutil.SeedInspection(t, env.store, testutil.SeedTransformer(t, env.store))

	tests := []struct {
		name     string
		query    string
		meta     string
		file     []byte
		wantCode int
	}{
		{"baseline upload", "?inspectionId=" + insp.ID, `{"imageType":"Baseline","weatherCondition":"sunny"}`, []byte("img"), http.StatusOK},
		{"missing image type", "?inspectionId=" + insp.ID, `{"weatherCondition":"sunny"}`, []byte("img"), http.StatusBadRequest},
		{"missing inspection id", "", `{"imageType":"Baseline"}`, []byte("img"), http.StatusBadRequest},
		{"unknown inspection", "?inspectionId=nope", `{"imageType":"Baseline"}`, []byte("img"), http.StatusNotFound},
		{"missing file", "?inspectionId=" + insp.ID, `{"imageType":"Baseline"}`, nil, http.StatusBadRequest},
		{"malformed metadata", "?inspectionId=" + insp.ID, `{imageType`, []byte("img"), http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := map[string][]byte{}
			if tc.file != nil {
				files["file"] = tc.file
			}
			body, contentType := multipartBody(t, map[string]string{"image": tc.meta}, files)
			req := httptest.NewRequest(http.MethodPost, "/api/thermal-images/upload"+tc.query, body)
			req.Header.Set(echo.HeaderContentType, contentType)
			rec := httptest.NewRecorder()
			env.e.ServeHTTP(rec, req)
			assert.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
		})
	}

	rec := env.do(t, http.MethodGet, "/api/thermal-images?inspectionId="+insp.ID+"&imageType=Baseline", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	images := decode[[]entities.ThermalImage](t, rec)
	require.Len(t, images, 1)
	assert.True(t, strings.HasPrefix(images[0].ImageURL, "/uploads/"))

	rec = env.do(t, http.MethodPut, "/api/thermal-images/"+images[0].ID+"/detections", `{"predictions":[]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/api/thermal-images/missing/detections", `{"predictions":[]}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/thermal-images/"+images[0].ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/thermal-images/"+images[0].ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnnotationSyncEndpoint(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	img := testutil.SeedImage(t, env.store, "/uploads/a.jpg")
	user := map[string]string{UserIDHeader: "alice"}
	target := "/api/annotations/thermal-image/" + img.ID

	set := `[
		{"detection_id": "d1", "class": "faulty", "confidence": 0.8, "x": 10, "y": 20, "width": 30, "height": 40},
		{"detection_id": "d2", "class": "normal", "confidence": "0.6", "x": 1, "y": 2, "width": 3, "height": 4, "annotationType": "user_added"}
	]`
	for range 2 {
		rec := env.do(t, http.MethodPost, target+"/sync", set, user)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Len(t, decode[[]annotation.Detection](t, rec), 2)
	}

	rec := env.do(t, http.MethodPost, target+"/sync", `[{"detection_id": "d1", "class": "faulty"}]`, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, target, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]annotation.Record](t, rec), 1)

	rec = env.do(t, http.MethodGet, target+"?includeDeleted=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]annotation.Record](t, rec)
	require.Len(t, all, 2)
	for _, r := range all {
		assert.Equal(t, "alice", r.CreatedBy)
	}

	rec = env.do(t, http.MethodGet, target+"?includeDeleted=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/feedback-logs/thermal-image/"+img.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]entities.FeedbackLog](t, rec), "user corrections produce feedback logs")
}

func TestAnnotationCRUDEndpoints(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	img := testutil.SeedImage(t, env.store, "/uploads/b.jpg")
	target := "/api/annotations/thermal-image/" + img.ID

	rec := env.do(t, http.MethodPost, target, `{"detectionClass":"faulty","confidence":0.9,"x":5,"y":5,"width":10,"height":10}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[annotation.Record](t, rec)
	assert.Equal(t, annotation.DefaultUserID, created.CreatedBy)
	assert.Equal(t, entities.AnnotationUserAdded, created.AnnotationType)

	rec = env.do(t, http.MethodPut, "/api/annotations/"+created.ID, `{"detectionClass":"normal","x":6,"y":6,"width":10,"height":10}`,
		map[string]string{UserIDHeader: "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[annotation.Record](t, rec)
	assert.Equal(t, "normal", updated.DetectionClass)
	require.NotNil(t, updated.ModifiedBy)
	assert.Equal(t, "bob", *updated.ModifiedBy)

	rec = env.do(t, http.MethodDelete, "/api/annotations/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, target+"?includeDeleted=true", "", nil)
	require.Len(t, decode[[]annotation.Record](t, rec), 1, "soft delete keeps the row")

	rec = env.do(t, http.MethodDelete, "/api/annotations/"+created.ID+"?hardDelete=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, target+"?includeDeleted=true", "", nil)
	assert.Empty(t, decode[[]annotation.Record](t, rec))

	rec = env.do(t, http.MethodPut, "/api/annotations/missing", `{"detectionClass":"normal"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedbackEndpoints(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	img := testutil.SeedImage(t, env.store, "/uploads/c.jpg")

	rec := env.do(t, http.MethodPost, "/api/feedback-logs/create?thermalImageId="+img.ID,
		`{"aiPrediction":{"detectionClass":"faulty"},"finalAnnotation":{"detectionClass":"normal"},"feedbackType":"modified","annotatorId":"u1","annotatorName":"Nimal"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, rec)
	assert.Equal(t, true, created["success"])
	assert.Equal(t, "Feedback log created successfully", created["message"])
	logID, _ := created["feedbackLogId"].(string)
	require.NotEmpty(t, logID)

	rec = env.do(t, http.MethodPost, "/api/feedback-logs/create", `{"feedbackType":"modified"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["success"])

	rec = env.do(t, http.MethodGet, "/api/feedback-logs/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[feedback.Stats](t, rec)
	assert.Equal(t, int64(1), stats.TotalLogs)
	assert.Equal(t, int64(1), stats.UnusedLogs)

	rec = env.do(t, http.MethodGet, "/api/feedback-logs/export/csv/unused", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "feedback_logs_"+time.Now().Format(time.DateOnly)+".csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), strings.Join(feedback.CSVHeader, ",")))
	assert.Equal(t, 1, env.exports.calls["csv/success"])

	rec = env.do(t, http.MethodGet, "/api/feedback-logs/export/json/thermal-image/"+img.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "feedback_logs_"+img.ID+".json")
	records := decode[[]feedback.ExportRecord](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, "Nimal", records[0].AnnotatorMetadata.AnnotatorName)

	rec = env.do(t, http.MethodPost, "/api/feedback-logs/mark-used", `["`+logID+`"]`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	marked := decode[map[string]any](t, rec)
	assert.Equal(t, "Marked 1 feedback logs as used for training", marked["message"])
	assert.InDelta(t, 1, marked["count"], 0)

	rec = env.do(t, http.MethodGet, "/api/feedback-logs/unused", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]entities.FeedbackLog](t, rec))

	rec = env.do(t, http.MethodGet, "/api/feedback-logs?feedbackType=modified", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]entities.FeedbackLog](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/feedback-logs?from=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimeParam_DateOnlyUpperBound(t *testing.T) {
	t.Parallel()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/feedback-logs?from=2026-10-18&to=2026-10-18", http.NoBody)
	ctx := e.NewContext(req, httptest.NewRecorder())

	from, err := timeParam(ctx, "from", false)
	require.NoError(t, err)
	to, err := timeParam(ctx, "to", true)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 10, 18, 23, 59, 59, 999999999, time.UTC), to)

	noon := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	assert.True(t, !noon.Before(from) && !noon.After(to), "a date-only range covers the whole day")

	req = httptest.NewRequest(http.MethodGet, "/api/feedback-logs?to=2026-10-18T08:00:00Z", http.NoBody)
	to, err = timeParam(e.NewContext(req, httptest.NewRecorder()), "to", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC), to, "explicit timestamps are kept")
}

func TestAlertEndpoints(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)
	tr := testutil.SeedTransformer(t, env.store)

	rec := env.do(t, http.MethodPost, "/api/alerts", `{"transformerId":"`+tr.ID+`","alertType":"maintenance","message":"check oil","severity":"low"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a := decode[entities.Alert](t, rec)
	assert.False(t, a.IsRead)

	rec = env.do(t, http.MethodPut, "/api/alerts/"+a.ID+"/read", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/alerts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]entities.Alert](t, rec)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsRead)

	rec = env.do(t, http.MethodPost, "/api/alerts", `{"alertType":"maintenance"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisabledIntegrations(t *testing.T) {
	t.Parallel()
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodPost, "/api/roboflow/upload/abc", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Roboflow integration is not configured", body["error"])

	rec = env.do(t, http.MethodPost, "/api/training/jobs", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/training/jobs/abc", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{repository.ErrTransformerNotFound, http.StatusNotFound},
		{errors.ValidationError("bad"), http.StatusBadRequest},
		{repository.ErrDuplicateKey, http.StatusConflict},
		{errors.Newf("upstream").Category(errors.CategoryIntegration).Build(), http.StatusBadGateway},
		{errors.Newf("dial").Category(errors.CategoryNetwork).Build(), http.StatusBadGateway},
		{errors.Newf("busy").Category(errors.CategoryLock).Build(), http.StatusServiceUnavailable},
		{errors.NewStd("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestUserIDHeader(t *testing.T) {
	t.Parallel()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	ctx := e.NewContext(req, httptest.NewRecorder())
	assert.Equal(t, annotation.DefaultUserID, userID(ctx))

	req.Header.Set(UserIDHeader, "  carol ")
	assert.Equal(t, "carol", userID(ctx))
}

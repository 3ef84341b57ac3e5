package feedback

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlens/gridlens/internal/annotation"
	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/testutil"
)

type fixture struct {
	store       *repository.Store
	feedback    *Service
	annotations *annotation.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	fb := NewService(store, time.Minute, nil, testutil.DiscardLogger())
	return &fixture{
		store:       store,
		feedback:    fb,
		annotations: annotation.NewService(store, annotation.Options{Synthesizer: fb, Logger: testutil.DiscardLogger()}),
	}
}

func decodeDetections(t *testing.T, raw string) []annotation.Detection {
	t.Helper()
	var out []annotation.Detection
	require.NoError(t, json.Unmarshal([]byte(raw), &out))
	return out
}

func decodeSnapshot(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestSync_OneFeedbackLogPerCorrection(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	img := testutil.SeedImage(t, f.store, "/uploads/fb.jpg")
	ctx := t.Context()

	// Model output stored at upload time.
	require.NoError(t, f.store.ThermalImages.UpdateDetectionData(ctx, img.ID,
		`[{"detection_id": "ai-1", "class": "faulty", "confidence": 0.91, "x": 10, "y": 10, "width": 5, "height": 5},
		  {"detection_id": "ai-2", "class": "normal", "confidence": 0.55, "x": 40, "y": 40, "width": 8, "height": 8}]`, nil))
	testutil.SeedAnnotation(t, f.store, img, "ai-1", entities.AnnotationAIDetected, "faulty")
	testutil.SeedAnnotation(t, f.store, img, "ai-2", entities.AnnotationAIDetected, "normal")

	set := decodeDetections(t, `[
		{"detection_id": "ai-1", "class": "potentially_faulty", "confidence": 0.91, "annotationType": "user_edited"},
		{"detection_id": "new-1", "class": "faulty", "annotationType": "user_added", "comments": "missed hotspot"}
	]`)

	for range 3 {
		_, err := f.annotations.Sync(ctx, img.ID, set, "inspector-7")
		require.NoError(t, err)
	}

	logs, err := f.feedback.ListByImage(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3, "edited, added and the dropped ai-2")

	all, err := f.store.Annotations.ListByImage(ctx, img.ID, true)
	require.NoError(t, err)
	byAnnotation := make(map[string]entities.FeedbackLog)
	for _, l := range logs {
		require.NotNil(t, l.AnnotationID)
		_, dup := byAnnotation[*l.AnnotationID]
		require.False(t, dup)
		byAnnotation[*l.AnnotationID] = l
	}

	for _, a := range all {
		if !a.IsUserCorrection() {
			continue
		}
		l, ok := byAnnotation[a.ID]
		require.True(t, ok, "correction %s has no feedback log", a.DetectionID)
		assert.Equal(t, "inspector-7", l.AnnotatorID)

		before := decodeSnapshot(t, l.AIPrediction)
		after := decodeSnapshot(t, l.FinalAnnotation)
		assert.Equal(t, a.DetectionID, after["detectionId"])

		switch a.DetectionID {
		case "ai-1":
			assert.Equal(t, entities.FeedbackCorrection, l.FeedbackType)
			assert.Equal(t, "faulty", before["detectionClass"], "before-state from stored detection data")
			assert.Equal(t, "potentially_faulty", after["detectionClass"])
		case "ai-2":
			assert.Equal(t, entities.FeedbackDeletion, l.FeedbackType)
			assert.Equal(t, "normal", before["detectionClass"])
		case "new-1":
			assert.Equal(t, entities.FeedbackAddition, l.FeedbackType)
			assert.Equal(t, false, before["exists"])
			assert.Equal(t, "User added new detection not found by AI", before["note"])
			require.NotNil(t, l.Comments)
			assert.Equal(t, "missed hotspot", *l.Comments)
		default:
			t.Fatalf("unexpected correction %s", a.DetectionID)
		}
	}
}

func TestSynthesize_PrefersAIAnnotation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	img := testutil.SeedImage(t, f.store, "/uploads/pair.jpg")
	testutil.SeedAnnotation(t, f.store, img, "p-1", entities.AnnotationAIDetected, "normal")
	testutil.SeedAnnotation(t, f.store, img, "p-1", entities.AnnotationUserEdited, "faulty")

	n, err := f.feedback.SynthesizeFromSync(t.Context(), img.ID, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	logs, err := f.feedback.ListByImage(t.Context(), img.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	before := decodeSnapshot(t, logs[0].AIPrediction)
	assert.Equal(t, entities.AnnotationAIDetected, before["annotationType"])
	assert.Equal(t, "normal", before["detectionClass"])
	assert.Equal(t, "tester", logs[0].AnnotatorID, "annotator is the last modifier")
}

func TestSynthesize_RestoredDetectionResetsDeletionLog(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	img := testutil.SeedImage(t, f.store, "/uploads/restore.jpg")
	ctx := t.Context()
	aiOnly := decodeDetections(t, `[{"detection_id": "ai-1", "class": "faulty", "confidence": 0.9}]`)

	_, err := f.annotations.Sync(ctx, img.ID, aiOnly, "inspector")
	require.NoError(t, err)
	_, err = f.annotations.Sync(ctx, img.ID, nil, "inspector")
	require.NoError(t, err)

	logs, err := f.feedback.ListByImage(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, entities.FeedbackDeletion, logs[0].FeedbackType)
	deletionID := logs[0].ID

	_, err = f.annotations.Sync(ctx, img.ID, aiOnly, "inspector")
	require.NoError(t, err)

	logs, err = f.feedback.ListByImage(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, deletionID, logs[0].ID)
	assert.Equal(t, entities.FeedbackNoChange, logs[0].FeedbackType)
	after := decodeSnapshot(t, logs[0].FinalAnnotation)
	assert.Equal(t, entities.AnnotationAIDetected, after["annotationType"])

	unused, err := f.feedback.List(ctx, Filter{Type: entities.FeedbackDeletion})
	require.NoError(t, err)
	assert.Empty(t, unused, "a live box is no longer exported as a deletion")
}

func TestSynthesize_UnknownImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.feedback.SynthesizeFromSync(t.Context(), "missing", "x")
	require.ErrorIs(t, err, repository.ErrThermalImageNotFound)
}

func TestCreate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	img := testutil.SeedImage(t, f.store, "/uploads/manual.jpg")

	log, err := f.feedback.Create(t.Context(), CreateInput{
		ThermalImageID:  img.ID,
		AIPrediction:    Snapshot{"detectionId": "a"},
		FinalAnnotation: Snapshot{"detectionId": "a", "detectionClass": "normal"},
		FeedbackType:    entities.FeedbackCorrection,
	})
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultAnnotatorID, log.AnnotatorID)
	assert.Equal(t, entities.DefaultAnnotatorName, log.AnnotatorName)
	assert.Equal(t, entities.DefaultAnnotatorRole, log.AnnotatorRole)
	assert.False(t, log.UsedForTraining)

	t.Run("annotation id adds a row", func(t *testing.T) {
		a := testutil.SeedAnnotation(t, f.store, img, "m-1", entities.AnnotationUserAdded, "faulty")
		for range 2 {
			log, err := f.feedback.Create(t.Context(), CreateInput{
				ThermalImageID: img.ID,
				AnnotationID:   &a.ID,
				FeedbackType:   entities.FeedbackAddition,
			})
			require.NoError(t, err)
			assert.True(t, log.Manual)
			require.NotNil(t, log.AnnotationID)
		}
		logs, err := f.feedback.List(t.Context(), Filter{Type: entities.FeedbackAddition})
		require.NoError(t, err)
		assert.Len(t, logs, 2)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := f.feedback.Create(t.Context(), CreateInput{})
		assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))

		_, err = f.feedback.Create(t.Context(), CreateInput{ThermalImageID: img.ID, FeedbackType: "bogus"})
		assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))

		_, err = f.feedback.Create(t.Context(), CreateInput{ThermalImageID: "missing"})
		require.ErrorIs(t, err, repository.ErrThermalImageNotFound)
	})
}

func TestCreate_KeepsSynthesizedLog(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	img := testutil.SeedImage(t, f.store, "/uploads/keep.jpg")
	ctx := t.Context()

	_, err := f.annotations.Sync(ctx, img.ID, decodeDetections(t,
		`[{"detection_id": "n1", "class": "faulty", "annotationType": "user_added"}]`), "inspector-7")
	require.NoError(t, err)

	synced, err := f.feedback.ListByImage(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, synced, 1)
	require.NotNil(t, synced[0].AnnotationID)
	syncedPrediction := string(synced[0].AIPrediction)

	manual, err := f.feedback.Create(ctx, CreateInput{
		ThermalImageID: img.ID,
		AnnotationID:   synced[0].AnnotationID,
		FeedbackType:   entities.FeedbackNoChange,
	})
	require.NoError(t, err)
	assert.NotEqual(t, synced[0].ID, manual.ID)
	assert.Equal(t, entities.DefaultAnnotatorID, manual.AnnotatorID)
	assert.Equal(t, entities.DefaultAnnotatorName, manual.AnnotatorName)

	// a later sync refreshes its own log and leaves the manual one alone
	_, err = f.annotations.Sync(ctx, img.ID, decodeDetections(t,
		`[{"detection_id": "n1", "class": "faulty", "annotationType": "user_added"}]`), "inspector-7")
	require.NoError(t, err)

	logs, err := f.feedback.ListByImage(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, l := range logs {
		if l.Manual {
			assert.Equal(t, manual.ID, l.ID)
			assert.Equal(t, entities.FeedbackNoChange, l.FeedbackType)
			assert.Equal(t, entities.DefaultAnnotatorID, l.AnnotatorID)
			continue
		}
		assert.Equal(t, synced[0].ID, l.ID)
		assert.Equal(t, entities.FeedbackAddition, l.FeedbackType)
		assert.Equal(t, "inspector-7", l.AnnotatorID)
		assert.JSONEq(t, syncedPrediction, string(l.AIPrediction))
	}
}

func TestMarkUsedAndStats(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	img := testutil.SeedImage(t, f.store, "/uploads/stats.jpg")
	var ids []string
	for _, typ := range []string{entities.FeedbackAddition, entities.FeedbackAddition, entities.FeedbackDeletion} {
		l, err := f.feedback.Create(t.Context(), CreateInput{ThermalImageID: img.ID, FeedbackType: typ})
		require.NoError(t, err)
		ids = append(ids, l.ID)
	}

	st, err := f.feedback.Stats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalLogs)
	assert.Equal(t, int64(3), st.UnusedLogs)
	assert.Equal(t, int64(2), st.FeedbackTypeCounts[entities.FeedbackAddition])

	n, err := f.feedback.MarkUsed(t.Context(), append(ids[:2:2], "missing"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	st, err = f.feedback.Stats(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.UsedLogs, "mark-used invalidates the cached stats")
	assert.Equal(t, int64(1), st.UnusedLogs)

	unused, err := f.feedback.ListUnused(t.Context())
	require.NoError(t, err)
	require.Len(t, unused, 1)
	assert.Equal(t, ids[2], unused[0].ID)
}

func TestList_Filters(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	img := testutil.SeedImage(t, f.store, "/uploads/filter.jpg")
	_, err := f.feedback.Create(t.Context(), CreateInput{ThermalImageID: img.ID, FeedbackType: entities.FeedbackAddition, AnnotatorID: "u1"})
	require.NoError(t, err)
	_, err = f.feedback.Create(t.Context(), CreateInput{ThermalImageID: img.ID, FeedbackType: entities.FeedbackDeletion, AnnotatorID: "u2"})
	require.NoError(t, err)

	all, err := f.feedback.List(t.Context(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byAnnotator, err := f.feedback.List(t.Context(), Filter{AnnotatorID: "u2"})
	require.NoError(t, err)
	require.Len(t, byAnnotator, 1)
	assert.Equal(t, entities.FeedbackDeletion, byAnnotator[0].FeedbackType)

	recent, err := f.feedback.List(t.Context(), Filter{From: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	old, err := f.feedback.List(t.Context(), Filter{From: time.Now().Add(-48 * time.Hour), To: time.Now().Add(-24 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestExport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	img := testutil.SeedImage(t, f.store, "/uploads/export.jpg")
	note := `said "hot", very`
	_, err := f.feedback.Create(t.Context(), CreateInput{
		ThermalImageID:  img.ID,
		AIPrediction:    notFoundByAI(),
		FinalAnnotation: Snapshot{"detectionId": "e-1", "detectionClass": "faulty", "confidence": 0.5, "x": 100.0, "y": 2.25, "width": 3, "height": 4},
		FeedbackType:    entities.FeedbackAddition,
		AnnotatorID:     "u9",
		Comments:        &note,
	})
	require.NoError(t, err)

	t.Run("json", func(t *testing.T) {
		logs, err := f.feedback.List(t.Context(), Filter{})
		require.NoError(t, err)
		out, err := f.feedback.ExportJSON(t.Context(), logs)
		require.NoError(t, err)

		var records []ExportRecord
		require.NoError(t, json.Unmarshal(out, &records))
		require.Len(t, records, 1)
		r := records[0]
		assert.Equal(t, img.ID, r.ImageID)
		assert.Equal(t, "/uploads/export.jpg", r.ImageURL)
		assert.Equal(t, entities.ImageTypeMaintenance, r.ImageType)
		assert.Equal(t, "u9", r.AnnotatorMetadata.AnnotatorID)
		assert.Equal(t, entities.DefaultAnnotatorRole, r.AnnotatorMetadata.AnnotatorRole)
		assert.NotEmpty(t, r.AnnotatorMetadata.Timestamp)
		assert.JSONEq(t, `{"exists": false, "note": "User added new detection not found by AI"}`, string(r.ModelPredictedAnomalies))

		stored, err := f.store.FeedbackLogs.GetByID(t.Context(), logs[0].ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.ExportedAt)
	})

	t.Run("csv", func(t *testing.T) {
		logs, err := f.feedback.List(t.Context(), Filter{})
		require.NoError(t, err)
		out, err := f.feedback.ExportCSV(t.Context(), logs)
		require.NoError(t, err)

		rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, CSVHeader, rows[0])

		row := rows[1]
		require.Len(t, row, len(CSVHeader))
		assert.Equal(t, img.ID, row[0])
		assert.Equal(t, []string{"", "", "", "", "", "", ""}, row[3:10], "AI columns empty when the model had no box")
		assert.Equal(t, []string{"e-1", "faulty", "0.5", "100", "2.25", "3", "4"}, row[10:17])
		assert.Equal(t, entities.FeedbackAddition, row[17])
		assert.Equal(t, note, row[22])
		assert.Equal(t, "false", row[23])
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := f.feedback.Export(t.Context(), "xml", nil)
		assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
	})
}

func TestExportFilename(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "feedback_logs_2025-03-09.csv", ExportFilename(FormatCSV, at))
	assert.Equal(t, "feedback_logs_2025-03-09.json", ExportFilename(FormatJSON, at))
}

func TestSnapshotFromDetectionData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		id   string
		ok   bool
	}{
		{"array", `[{"detection_id": "a", "class": "faulty"}]`, "a", true},
		{"wrapped", `{"predictions": [{"detection_id": "a"}]}`, "a", true},
		{"numeric id", `[{"detection_id": 7}]`, "7", true},
		{"absent", `[{"detection_id": "b"}]`, "a", false},
		{"garbage", `not json`, "a", false},
		{"empty", ``, "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, ok := snapshotFromDetectionData(tt.raw, tt.id)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.id, snap["detectionId"])
			}
		})
	}
}

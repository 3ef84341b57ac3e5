package repository_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/gridlens/gridlens/internal/datastore"
	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
)

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	m, err := datastore.NewSQLiteManager(datastore.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { _ = m.Close() })
	return repository.NewStore(m.DB())
}

// seedImage creates a transformer, an inspection and a maintenance image.
func seedImage(t *testing.T, store *repository.Store) *entities.ThermalImage {
	t.Helper()
	ctx := context.Background()

	tr := &entities.Transformer{TransformerNo: "TX-" + t.Name(), Type: "Distribution"}
	require.NoError(t, store.Transformers.Create(ctx, tr))

	insp := &entities.Inspection{InspectionNo: "INS-" + t.Name(), TransformerID: &tr.ID, InspectedDate: time.Now()}
	require.NoError(t, store.Inspections.Create(ctx, insp))

	img := &entities.ThermalImage{InspectionID: &insp.ID, ImageURL: "/uploads/a.jpg", ImageType: entities.ImageTypeMaintenance}
	require.NoError(t, store.ThermalImages.Create(ctx, img))

	loaded, err := store.ThermalImages.GetByID(ctx, img.ID)
	require.NoError(t, err)
	return loaded
}

func TestTransformers_DuplicateNumberIsConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Transformers.Create(ctx, &entities.Transformer{TransformerNo: "TX-1", Type: "Distribution"}))
	err := store.Transformers.Create(ctx, &entities.Transformer{TransformerNo: "TX-1", Type: "Distribution"})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrDuplicateKey)
	assert.Equal(t, errors.CategoryConflict, errors.CategoryOf(err))
}

func TestTransformers_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Transformers.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrTransformerNotFound)
	assert.True(t, errors.IsNotFound(err))
}

func TestTransformers_DeleteCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	img := seedImage(t, store)

	ann := &entities.Annotation{ThermalImageID: img.ID, DetectionID: "d1", AnnotationType: entities.AnnotationUserAdded, DetectionClass: "faulty", CreatedBy: "u"}
	require.NoError(t, store.Annotations.Create(ctx, ann))
	require.NoError(t, store.FeedbackLogs.Create(ctx, &entities.FeedbackLog{ThermalImageID: img.ID, AnnotationID: &ann.ID, FeedbackType: entities.FeedbackAddition}))

	require.NoError(t, store.Transformers.Delete(ctx, *img.TransformerID()))

	_, err := store.ThermalImages.GetByID(ctx, img.ID)
	assert.ErrorIs(t, err, repository.ErrThermalImageNotFound)
	_, err = store.Annotations.GetByID(ctx, ann.ID)
	assert.ErrorIs(t, err, repository.ErrAnnotationNotFound)
	logs, err := store.FeedbackLogs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, logs)

	assert.ErrorIs(t, store.Transformers.Delete(ctx, "missing"), repository.ErrTransformerNotFound)
}

func TestInspections_ListFilterAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tr := &entities.Transformer{TransformerNo: "TX-A", Type: "Distribution"}
	other := &entities.Transformer{TransformerNo: "TX-B", Type: "Distribution"}
	require.NoError(t, store.Transformers.Create(ctx, tr))
	require.NoError(t, store.Transformers.Create(ctx, other))

	first := &entities.Inspection{InspectionNo: "I-1", TransformerID: &tr.ID, InspectedDate: time.Now(), CreatedAt: time.Now().Add(-time.Hour)}
	second := &entities.Inspection{InspectionNo: "I-2", TransformerID: &tr.ID, InspectedDate: time.Now()}
	third := &entities.Inspection{InspectionNo: "I-3", TransformerID: &other.ID, InspectedDate: time.Now()}
	for _, i := range []*entities.Inspection{first, second, third} {
		require.NoError(t, store.Inspections.Create(ctx, i))
	}
	require.NotNil(t, second.Transformer)
	assert.Equal(t, "TX-A", second.Transformer.TransformerNo)

	list, err := store.Inspections.List(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "I-2", list[0].InspectionNo)
	assert.Equal(t, "I-1", list[1].InspectionNo)
	assert.Equal(t, "TX-A", list[0].Transformer.TransformerNo)

	all, err := store.Inspections.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAnnotations_ListByImageHonoursDeletedFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	img := seedImage(t, store)

	live := &entities.Annotation{ThermalImageID: img.ID, DetectionID: "a", AnnotationType: entities.AnnotationAIDetected, DetectionClass: "faulty", CreatedBy: "ai_system"}
	gone := &entities.Annotation{ThermalImageID: img.ID, DetectionID: "b", AnnotationType: entities.AnnotationUserDeleted, DetectionClass: "normal", CreatedBy: "u", IsDeleted: true}
	require.NoError(t, store.Annotations.Create(ctx, live))
	require.NoError(t, store.Annotations.Create(ctx, gone))

	visible, err := store.Annotations.ListByImage(ctx, img.ID, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "a", visible[0].DetectionID)

	all, err := store.Annotations.ListByImage(ctx, img.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NotNil(t, live.ModifiedBy)
	assert.Equal(t, "ai_system", *live.ModifiedBy)
	assert.NotNil(t, live.ModifiedAt)
}

func TestAnnotations_Queries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	img := seedImage(t, store)

	create := func(det, typ string, deleted bool) *entities.Annotation {
		a := &entities.Annotation{ThermalImageID: img.ID, DetectionID: det, AnnotationType: typ, DetectionClass: "faulty", CreatedBy: "u", IsDeleted: deleted}
		require.NoError(t, store.Annotations.Create(ctx, a))
		return a
	}
	create("d1", entities.AnnotationAIDetected, false)
	edited := create("d1", entities.AnnotationUserEdited, false)
	create("d2", entities.AnnotationUserAdded, false)
	create("d3", entities.AnnotationUserDeleted, true)

	ai, err := store.Annotations.FindAIDetected(ctx, img.ID, "d1")
	require.NoError(t, err)
	assert.Equal(t, entities.AnnotationAIDetected, ai.AnnotationType)

	_, err = store.Annotations.FindAIDetected(ctx, img.ID, "d2")
	assert.ErrorIs(t, err, repository.ErrAnnotationNotFound)

	byDet, err := store.Annotations.FindByDetectionID(ctx, img.ID, "d3")
	require.NoError(t, err)
	assert.True(t, byDet.IsDeleted)

	corrections, err := store.Annotations.ListCorrectionsByImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Len(t, corrections, 3)

	corrected, err := store.Annotations.ListUserCorrected(ctx)
	require.NoError(t, err)
	assert.Len(t, corrected, 2)

	counts, err := store.Annotations.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[entities.AnnotationUserEdited])
	assert.Zero(t, counts[entities.AnnotationUserDeleted])

	require.NoError(t, store.Annotations.Delete(ctx, edited.ID))
	assert.ErrorIs(t, store.Annotations.Delete(ctx, edited.ID), repository.ErrAnnotationNotFound)
}

func TestFeedbackLogs_UpsertByAnnotation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	img := seedImage(t, store)

	ann := &entities.Annotation{ThermalImageID: img.ID, DetectionID: "d1", AnnotationType: entities.AnnotationUserAdded, DetectionClass: "faulty", CreatedBy: "u"}
	require.NoError(t, store.Annotations.Create(ctx, ann))

	first := &entities.FeedbackLog{ThermalImageID: img.ID, AnnotationID: &ann.ID, FeedbackType: entities.FeedbackAddition, FinalAnnotation: datatypes.JSON(`{"x":1}`)}
	require.NoError(t, store.FeedbackLogs.UpsertByAnnotation(ctx, first))
	assert.Equal(t, entities.DefaultAnnotatorName, first.AnnotatorName)

	n, err := store.FeedbackLogs.MarkUsed(ctx, []string{first.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	second := &entities.FeedbackLog{ThermalImageID: img.ID, AnnotationID: &ann.ID, FeedbackType: entities.FeedbackCorrection, FinalAnnotation: datatypes.JSON(`{"x":2}`)}
	require.NoError(t, store.FeedbackLogs.UpsertByAnnotation(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	logs, err := store.FeedbackLogs.ListByImage(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, entities.FeedbackCorrection, logs[0].FeedbackType)
	assert.True(t, logs[0].UsedForTraining)
	assert.JSONEq(t, `{"x":2}`, string(logs[0].FinalAnnotation))
	require.NotNil(t, logs[0].ThermalImage)
	assert.Equal(t, "/uploads/a.jpg", logs[0].ThermalImage.ImageURL)

	err = store.FeedbackLogs.UpsertByAnnotation(ctx, &entities.FeedbackLog{ThermalImageID: img.ID})
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
}

func TestFeedbackLogs_UpsertLeavesManualLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	img := seedImage(t, store)

	ann := &entities.Annotation{ThermalImageID: img.ID, DetectionID: "d1", AnnotationType: entities.AnnotationUserEdited, DetectionClass: "faulty", CreatedBy: "u"}
	require.NoError(t, store.Annotations.Create(ctx, ann))

	manual := &entities.FeedbackLog{ThermalImageID: img.ID, AnnotationID: &ann.ID, FeedbackType: entities.FeedbackNoChange, Manual: true, AIPrediction: datatypes.JSON(`{"m":1}`)}
	require.NoError(t, store.FeedbackLogs.Create(ctx, manual))

	synced := &entities.FeedbackLog{ThermalImageID: img.ID, AnnotationID: &ann.ID, FeedbackType: entities.FeedbackCorrection}
	require.NoError(t, store.FeedbackLogs.UpsertByAnnotation(ctx, synced))
	assert.NotEqual(t, manual.ID, synced.ID)
	assert.False(t, synced.Manual)

	again := &entities.FeedbackLog{ThermalImageID: img.ID, AnnotationID: &ann.ID, FeedbackType: entities.FeedbackCorrection}
	require.NoError(t, store.FeedbackLogs.UpsertByAnnotation(ctx, again))
	assert.Equal(t, synced.ID, again.ID)

	got, err := store.FeedbackLogs.GetByID(ctx, manual.ID)
	require.NoError(t, err)
	assert.True(t, got.Manual)
	assert.Equal(t, entities.FeedbackNoChange, got.FeedbackType)
	assert.JSONEq(t, `{"m":1}`, string(got.AIPrediction))

	logs, err := store.FeedbackLogs.ListByImage(ctx, img.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestFeedbackLogs_StatsAndQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	img := seedImage(t, store)

	var ids []string
	for _, typ := range []string{entities.FeedbackAddition, entities.FeedbackAddition, entities.FeedbackDeletion} {
		f := &entities.FeedbackLog{ThermalImageID: img.ID, FeedbackType: typ, AnnotatorID: "alice"}
		require.NoError(t, store.FeedbackLogs.Create(ctx, f))
		ids = append(ids, f.ID)
	}
	_, err := store.FeedbackLogs.MarkUsed(ctx, ids[:1])
	require.NoError(t, err)

	stats, err := store.FeedbackLogs.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Used)
	assert.Equal(t, int64(2), stats.Unused)
	assert.Equal(t, int64(2), stats.TypeCount[entities.FeedbackAddition])
	assert.Equal(t, int64(1), stats.TypeCount[entities.FeedbackDeletion])

	unused, err := store.FeedbackLogs.ListUnused(ctx)
	require.NoError(t, err)
	assert.Len(t, unused, 2)

	byType, err := store.FeedbackLogs.ListByType(ctx, entities.FeedbackDeletion)
	require.NoError(t, err)
	assert.Len(t, byType, 1)

	byAnnotator, err := store.FeedbackLogs.ListByAnnotator(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, byAnnotator, 3)

	inRange, err := store.FeedbackLogs.ListByDateRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, inRange, 3)

	at := time.Now()
	require.NoError(t, store.FeedbackLogs.MarkExported(ctx, ids, at))
	got, err := store.FeedbackLogs.GetByID(ctx, ids[2])
	require.NoError(t, err)
	require.NotNil(t, got.ExportedAt)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.NewStd("boom")
	err := store.Transaction(ctx, func(tx *repository.Store) error {
		require.NoError(t, tx.Transformers.Create(ctx, &entities.Transformer{TransformerNo: "TX-RB", Type: "Distribution"}))
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	n, err := store.Transformers.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestThermalImages_ListAndUpdateDetections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	img := seedImage(t, store)

	anomaly := true
	require.NoError(t, store.ThermalImages.UpdateDetectionData(ctx, img.ID, `[{"detection_id":"d1"}]`, &anomaly))
	assert.ErrorIs(t, store.ThermalImages.UpdateDetectionData(ctx, "missing", "[]", nil), repository.ErrThermalImageNotFound)

	list, err := store.ThermalImages.List(ctx, repository.ThermalImageFilter{InspectionID: *img.InspectionID, ImageType: "maintenance"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `[{"detection_id":"d1"}]`, list[0].DetectionData)
	require.NotNil(t, list[0].AnomalyDetected)
	assert.True(t, *list[0].AnomalyDetected)
	require.NotNil(t, list[0].Inspection)
	require.NotNil(t, list[0].Inspection.Transformer)

	none, err := store.ThermalImages.List(ctx, repository.ThermalImageFilter{ImageType: entities.ImageTypeBaseline})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAlerts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tr := &entities.Transformer{TransformerNo: "TX-AL", Type: "Distribution"}
	require.NoError(t, store.Transformers.Create(ctx, tr))

	a := &entities.Alert{TransformerID: &tr.ID, AlertType: entities.AlertTypeThermalAnomaly, Message: "hot spot", Severity: entities.SeverityHigh}
	require.NoError(t, store.Alerts.Create(ctx, a))
	require.NotNil(t, a.Transformer)

	require.NoError(t, store.Alerts.MarkRead(ctx, a.ID))
	list, err := store.Alerts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsRead)
	assert.Equal(t, "TX-AL", list[0].Transformer.TransformerNo)
}

package testutil

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gridlens/gridlens/internal/datastore"
	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/logger"
)

// NewStore opens a migrated SQLite database in t.TempDir().
func NewStore(t *testing.T) *repository.Store {
	t.Helper()
	m, err := datastore.NewSQLiteManager(datastore.Config{Path: filepath.Join(t.TempDir(), "gridlens.db")})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { _ = m.Close() })
	return repository.NewStore(m.DB())
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

// SeedTransformer creates a transformer with a unique number.
func SeedTransformer(t *testing.T, store *repository.Store) *entities.Transformer {
	t.Helper()
	tr := &entities.Transformer{
		TransformerNo: "TX-" + uuid.NewString()[:8],
		Type:          "Distribution",
		Region:        "Nugegoda",
	}
	require.NoError(t, store.Transformers.Create(context.Background(), tr))
	return tr
}

// SeedInspection creates an inspection for tr.
func SeedInspection(t *testing.T, store *repository.Store, tr *entities.Transformer) *entities.Inspection {
	t.Helper()
	insp := &entities.Inspection{
		InspectionNo:  "INS-" + uuid.NewString()[:8],
		TransformerID: &tr.ID,
		InspectedDate: time.Now().UTC(),
		Status:        "Pending",
	}
	require.NoError(t, store.Inspections.Create(context.Background(), insp))
	return insp
}

// SeedImage creates a transformer, an inspection and a maintenance image
// with the given URL and returns the image with its inspection loaded.
func SeedImage(t *testing.T, store *repository.Store, imageURL string) *entities.ThermalImage {
	t.Helper()
	ctx := context.Background()

	insp := SeedInspection(t, store, SeedTransformer(t, store))
	img := &entities.ThermalImage{
		InspectionID: &insp.ID,
		ImageURL:     imageURL,
		ImageType:    entities.ImageTypeMaintenance,
	}
	require.NoError(t, store.ThermalImages.Create(ctx, img))

	loaded, err := store.ThermalImages.GetByID(ctx, img.ID)
	require.NoError(t, err)
	return loaded
}

// SeedAnnotation stores an annotation on img.
func SeedAnnotation(t *testing.T, store *repository.Store, img *entities.ThermalImage, detectionID, annotationType, class string) *entities.Annotation {
	t.Helper()
	a := &entities.Annotation{
		ThermalImageID: img.ID,
		TransformerID:  img.TransformerID(),
		DetectionID:    detectionID,
		AnnotationType: annotationType,
		DetectionClass: class,
		Confidence:     0.9,
		X:              100,
		Y:              50,
		Width:          40,
		Height:         30,
		CreatedBy:      "tester",
	}
	require.NoError(t, store.Annotations.Create(context.Background(), a))
	return a
}

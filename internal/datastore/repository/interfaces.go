package repository

import (
	"context"
	"time"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// TransformerRepository provides access to the transformers table.
type TransformerRepository interface {
	// Create inserts a transformer. Returns ErrDuplicateKey if the
	// transformer number is taken.
	Create(ctx context.Context, t *entities.Transformer) error
	// GetByID returns ErrTransformerNotFound if not found.
	GetByID(ctx context.Context, id string) (*entities.Transformer, error)
	// List returns all transformers, newest first.
	List(ctx context.Context) ([]entities.Transformer, error)
	// Save updates every column of t.
	Save(ctx context.Context, t *entities.Transformer) error
	// Delete removes the transformer and, by cascade, its inspections.
	Delete(ctx context.Context, id string) error
	// Count returns the number of transformers.
	Count(ctx context.Context) (int64, error)
}

// InspectionRepository provides access to the inspections table.
// Returned inspections have their transformer preloaded.
type InspectionRepository interface {
	Create(ctx context.Context, i *entities.Inspection) error
	GetByID(ctx context.Context, id string) (*entities.Inspection, error)
	// List returns inspections newest first, filtered by transformer when
	// transformerID is non-empty.
	List(ctx context.Context, transformerID string) ([]entities.Inspection, error)
	Save(ctx context.Context, i *entities.Inspection) error
	Delete(ctx context.Context, id string) error
}

// ThermalImageFilter narrows ThermalImageRepository.List.
type ThermalImageFilter struct {
	InspectionID string
	ImageType    string
}

// ThermalImageRepository provides access to the thermal_images table.
// Returned images have inspection and transformer preloaded.
type ThermalImageRepository interface {
	Create(ctx context.Context, img *entities.ThermalImage) error
	GetByID(ctx context.Context, id string) (*entities.ThermalImage, error)
	List(ctx context.Context, filter ThermalImageFilter) ([]entities.ThermalImage, error)
	// GetByIDs returns the images found among ids keyed by id.
	GetByIDs(ctx context.Context, ids []string) (map[string]*entities.ThermalImage, error)
	Save(ctx context.Context, img *entities.ThermalImage) error
	// UpdateDetectionData replaces the raw detection JSON and anomaly flag.
	UpdateDetectionData(ctx context.Context, id, data string, anomaly *bool) error
	Delete(ctx context.Context, id string) error
}

// AnnotationRepository provides access to the annotations table.
type AnnotationRepository interface {
	Create(ctx context.Context, a *entities.Annotation) error
	GetByID(ctx context.Context, id string) (*entities.Annotation, error)
	Save(ctx context.Context, a *entities.Annotation) error
	// Delete removes the row permanently.
	Delete(ctx context.Context, id string) error
	// ListByImage returns annotations newest first; soft-deleted rows are
	// included only when includeDeleted is true.
	ListByImage(ctx context.Context, imageID string, includeDeleted bool) ([]entities.Annotation, error)
	// FindByDetectionID returns the most recent annotation of the image with
	// the detection id, deleted or not. Returns ErrAnnotationNotFound.
	FindByDetectionID(ctx context.Context, imageID, detectionID string) (*entities.Annotation, error)
	// FindAIDetected returns the ai_detected annotation for the detection id.
	FindAIDetected(ctx context.Context, imageID, detectionID string) (*entities.Annotation, error)
	// ListCorrectionsByImage returns user_added, user_edited and user_deleted
	// annotations of the image, including soft-deleted ones.
	ListCorrectionsByImage(ctx context.Context, imageID string) ([]entities.Annotation, error)
	// ListUserCorrected returns non-deleted user_added and user_edited
	// annotations across all images.
	ListUserCorrected(ctx context.Context) ([]entities.Annotation, error)
	// CountByType counts non-deleted annotations per lineage tag.
	CountByType(ctx context.Context) (map[string]int64, error)
}

// FeedbackStats summarises the feedback_logs table.
type FeedbackStats struct {
	Total     int64
	Unused    int64
	Used      int64
	TypeCount map[string]int64
}

// FeedbackLogRepository provides access to the feedback_logs table.
// Returned logs have their thermal image preloaded.
type FeedbackLogRepository interface {
	Create(ctx context.Context, f *entities.FeedbackLog) error
	// UpsertByAnnotation creates f as a synthesized log, or overwrites the
	// synthesized log for the same annotation. f.AnnotationID must be set.
	UpsertByAnnotation(ctx context.Context, f *entities.FeedbackLog) error
	GetByID(ctx context.Context, id string) (*entities.FeedbackLog, error)
	List(ctx context.Context) ([]entities.FeedbackLog, error)
	ListByImage(ctx context.Context, imageID string) ([]entities.FeedbackLog, error)
	ListUnused(ctx context.Context) ([]entities.FeedbackLog, error)
	ListByType(ctx context.Context, feedbackType string) ([]entities.FeedbackLog, error)
	ListByAnnotator(ctx context.Context, annotatorID string) ([]entities.FeedbackLog, error)
	ListByDateRange(ctx context.Context, from, to time.Time) ([]entities.FeedbackLog, error)
	// MarkUsed flags the logs as used for training and returns how many
	// rows changed.
	MarkUsed(ctx context.Context, ids []string) (int64, error)
	// MarkExported stamps exported_at on the logs.
	MarkExported(ctx context.Context, ids []string, at time.Time) error
	Stats(ctx context.Context) (*FeedbackStats, error)
}

// AlertRepository provides access to the alerts table.
type AlertRepository interface {
	Create(ctx context.Context, a *entities.Alert) error
	GetByID(ctx context.Context, id string) (*entities.Alert, error)
	// List returns alerts newest first with their transformer.
	List(ctx context.Context) ([]entities.Alert, error)
	MarkRead(ctx context.Context, id string) error
}

// TrainingJobRepository provides access to the training_jobs table.
type TrainingJobRepository interface {
	Create(ctx context.Context, j *entities.TrainingJob) error
	GetByID(ctx context.Context, id string) (*entities.TrainingJob, error)
	Save(ctx context.Context, j *entities.TrainingJob) error
	// ListByStatus returns jobs in the given state, oldest first.
	ListByStatus(ctx context.Context, status string) ([]entities.TrainingJob, error)
}

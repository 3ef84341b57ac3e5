package roboflow

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/storage"
)

// ErrNoAnnotations is returned when an image has nothing to upload.
var ErrNoAnnotations = errors.NewSentinel("cannot upload image without annotations", errors.CategoryValidation)

// ServiceConfig tunes dataset uploads.
type ServiceConfig struct {
	AutoAnnotate      bool   // annotate right after upload
	AnnotatePath      string // fallback item id when the upload returns none
	UploadConcurrency int    // parallel uploads in batch operations
}

// Service uploads annotated thermal images to the Roboflow dataset.
type Service struct {
	store   *repository.Store
	images  storage.Backend
	dataset *DatasetClient
	cfg     ServiceConfig
	log     logger.Logger
}

// NewService wires the dataset client to the repositories and image storage.
func NewService(store *repository.Store, images storage.Backend, dataset *DatasetClient, cfg ServiceConfig, log logger.Logger) *Service {
	if cfg.UploadConcurrency < 1 {
		cfg.UploadConcurrency = 1
	}
	if log == nil {
		log = logger.Global().Module("roboflow")
	}
	return &Service{store: store, images: images, dataset: dataset, cfg: cfg, log: log}
}

// UploadWithAnnotations uploads the image file and then, when auto-annotate
// is on, its non-deleted annotations as YOLO labels. Annotation failure is
// reported in the summary but does not fail the upload.
func (s *Service) UploadWithAnnotations(ctx context.Context, imageID, split string) (*UploadSummary, error) {
	if split == "" {
		split = "train"
	}

	img, err := s.store.ThermalImages.GetByID(ctx, imageID)
	if err != nil {
		return nil, err
	}

	annotations, err := s.store.Annotations.ListByImage(ctx, imageID, false)
	if err != nil {
		return nil, err
	}
	if len(annotations) == 0 {
		s.log.Warn("no annotations for thermal image", logger.String("thermal_image_id", imageID))
		return nil, ErrNoAnnotations
	}

	name := storage.NameFromURL(img.ImageURL)
	data, err := storage.ReadAll(ctx, s.images, name)
	if err != nil {
		return nil, err
	}

	upload, err := s.dataset.UploadImage(ctx, name, data, split)
	if err != nil {
		return nil, err
	}

	summary := &UploadSummary{ThermalImageID: imageID, Upload: upload, Annotations: len(annotations)}
	if !s.cfg.AutoAnnotate {
		return summary, nil
	}

	itemID := upload.ID
	if itemID == "" {
		itemID = s.cfg.AnnotatePath
	}
	if itemID == "" {
		s.log.Warn("upload returned no item id and no annotate path is set, skipping annotation",
			logger.String("thermal_image_id", imageID))
		summary.AnnotateError = "no dataset item id available"
		return summary, nil
	}

	if _, err := s.dataset.AnnotateWithRetry(ctx, itemID, annotationName(name), ExportYOLO(annotations)); err != nil {
		s.log.Error("annotate failed, continuing without labels",
			logger.String("thermal_image_id", imageID),
			logger.String("item_id", itemID),
			logger.Error(err))
		summary.AnnotateError = err.Error()
		return summary, nil
	}
	summary.Annotated = true

	s.log.Info("uploaded thermal image to dataset",
		logger.String("thermal_image_id", imageID),
		logger.String("item_id", itemID),
		logger.Bool("duplicate", upload.Duplicate),
		logger.Int("annotations", len(annotations)))
	return summary, nil
}

// BatchUpload uploads every image; per-image failures are counted and logged.
func (s *Service) BatchUpload(ctx context.Context, imageIDs []string, split string) (*BatchSummary, error) {
	if split == "" {
		split = "train"
	}

	var success, failure atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.UploadConcurrency)

	for _, id := range imageIDs {
		g.Go(func() error {
			if _, err := s.UploadWithAnnotations(ctx, id, split); err != nil {
				failure.Add(1)
				s.log.Error("batch upload failed for thermal image",
					logger.String("thermal_image_id", id),
					logger.Error(err))
				return nil
			}
			success.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &BatchSummary{
		Total:   len(imageIDs),
		Success: int(success.Load()),
		Failure: int(failure.Load()),
		Split:   split,
	}, nil
}

// UploadUserCorrections uploads every image carrying user-added or
// user-edited annotations.
func (s *Service) UploadUserCorrections(ctx context.Context, split string) (*BatchSummary, error) {
	corrected, err := s.store.Annotations.ListUserCorrected(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(corrected))
	ids := make([]string, 0, len(corrected))
	for i := range corrected {
		id := corrected[i].ThermalImageID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		if split == "" {
			split = "train"
		}
		return &BatchSummary{Split: split, Message: "No user-corrected annotations found"}, nil
	}
	return s.BatchUpload(ctx, ids, split)
}

// ExportYOLO renders the non-deleted annotations of an image as YOLO text.
func (s *Service) ExportYOLO(ctx context.Context, imageID string) (string, error) {
	if _, err := s.store.ThermalImages.GetByID(ctx, imageID); err != nil {
		return "", err
	}
	annotations, err := s.store.Annotations.ListByImage(ctx, imageID, false)
	if err != nil {
		return "", err
	}
	return ExportYOLO(annotations), nil
}

// Train triggers training on the configured project.
func (s *Service) Train(ctx context.Context, version string) (*TrainResult, error) {
	return s.dataset.Train(ctx, version)
}

package thermal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/observability/metrics"
	"github.com/gridlens/gridlens/internal/roboflow"
	"github.com/gridlens/gridlens/internal/storage"
)

// Audit values stamped on annotations produced by inference.
const (
	AISystemUser = "ai_system"
	AIComment    = "Automatically detected by AI anomaly detection system"
)

// Detector runs anomaly detection on raw image bytes.
type Detector interface {
	Detect(ctx context.Context, image []byte) (*roboflow.InferenceResult, error)
}

// UploadRecorder receives upload metrics.
type UploadRecorder interface {
	RecordUpload(imageType, status string)
}

// ImageMeta is the JSON "image" part of an upload.
type ImageMeta struct {
	ImageType          string   `json:"imageType"`
	WeatherCondition   string   `json:"weatherCondition"`
	TemperatureReading *float64 `json:"temperatureReading"`
}

// UploadRequest is a parsed thermal image upload.
type UploadRequest struct {
	InspectionID string
	Meta         ImageMeta
	FileName     string
	ContentType  string
	Data         []byte
}

// ImageService stores thermal images and runs best-effort anomaly
// detection on maintenance captures.
type ImageService struct {
	store    *repository.Store
	images   storage.Backend
	detector Detector
	alerts   *AlertService
	metrics  UploadRecorder
	log      logger.Logger
	now      func() time.Time
}

// NewImageService creates an ImageService. detector, alerts and rec may be
// nil; without a detector no inference runs.
func NewImageService(store *repository.Store, images storage.Backend, detector Detector, alerts *AlertService, rec UploadRecorder, log logger.Logger) *ImageService {
	if log == nil {
		log = logger.Global().Module("thermal")
	}
	return &ImageService{
		store:    store,
		images:   images,
		detector: detector,
		alerts:   alerts,
		metrics:  rec,
		log:      log,
		now:      time.Now,
	}
}

// List returns images newest first, filtered by inspection and type.
func (s *ImageService) List(ctx context.Context, inspectionID, imageType string) ([]entities.ThermalImage, error) {
	return s.store.ThermalImages.List(ctx, repository.ThermalImageFilter{
		InspectionID: inspectionID,
		ImageType:    imageType,
	})
}

// Get returns one image.
func (s *ImageService) Get(ctx context.Context, id string) (*entities.ThermalImage, error) {
	return s.store.ThermalImages.GetByID(ctx, id)
}

// Upload stores the file and the image record. Maintenance images are then
// analyzed; analysis failures are logged and never fail the upload.
func (s *ImageService) Upload(ctx context.Context, req UploadRequest) (img *entities.ThermalImage, err error) {
	imageType, err := canonicalImageType(req.Meta.ImageType)
	if err != nil {
		return nil, err
	}
	defer func() {
		if s.metrics == nil {
			return
		}
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		s.metrics.RecordUpload(imageType, status)
	}()

	if len(req.Data) == 0 {
		return nil, errors.ValidationError("file is required")
	}
	insp, err := s.store.Inspections.GetByID(ctx, req.InspectionID)
	if err != nil {
		return nil, err
	}

	name := storage.UniqueName(req.FileName)
	url, err := s.images.Save(ctx, name, req.Data, req.ContentType)
	if err != nil {
		return nil, err
	}

	img = &entities.ThermalImage{
		InspectionID:       &insp.ID,
		ImageURL:           url,
		ImageType:          imageType,
		WeatherCondition:   req.Meta.WeatherCondition,
		TemperatureReading: req.Meta.TemperatureReading,
	}
	if err := s.store.ThermalImages.Create(ctx, img); err != nil {
		_ = s.images.Delete(context.WithoutCancel(ctx), name)
		return nil, err
	}
	s.log.Info("thermal image stored",
		logger.String("thermal_image_id", img.ID),
		logger.String("inspection_id", insp.ID),
		logger.String("image_type", imageType),
		logger.String("url", url))

	if img.IsMaintenance() && s.detector != nil {
		s.analyze(ctx, img.ID, req.Data)
	}
	return s.store.ThermalImages.GetByID(ctx, img.ID)
}

// analyze runs inference and records the result. Errors are logged only.
func (s *ImageService) analyze(ctx context.Context, imageID string, data []byte) {
	result, err := s.detector.Detect(ctx, data)
	if err != nil {
		s.log.Warn("anomaly detection failed, image kept without detections",
			logger.String("thermal_image_id", imageID),
			logger.Error(err))
		return
	}

	img, err := s.store.ThermalImages.GetByID(ctx, imageID)
	if err != nil {
		s.log.Error("reload after inference failed", logger.String("thermal_image_id", imageID), logger.Error(err))
		return
	}

	anomaly := result.HasAnomalies()
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.ThermalImages.UpdateDetectionData(ctx, imageID, string(result.RawPredictions), &anomaly); err != nil {
			return err
		}
		now := s.now()
		for i, p := range result.Predictions {
			if err := tx.Annotations.Create(ctx, s.aiAnnotation(img, p, i, now)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("storing detections failed",
			logger.String("thermal_image_id", imageID),
			logger.Error(err))
		return
	}

	s.log.Info("anomaly detection completed",
		logger.String("thermal_image_id", imageID),
		logger.Int("count_objects", result.CountObjects),
		logger.Int("predictions", len(result.Predictions)))

	if anomaly && s.alerts != nil {
		if _, err := s.alerts.RaiseForImage(ctx, img, result.Predictions); err != nil {
			s.log.Error("raising anomaly alert failed",
				logger.String("thermal_image_id", imageID),
				logger.Error(err))
		}
	}
}

func (s *ImageService) aiAnnotation(img *entities.ThermalImage, p roboflow.Prediction, index int, now time.Time) *entities.Annotation {
	detectionID := p.DetectionID
	if detectionID == "" {
		detectionID = fmt.Sprintf("ai_%s_%d", strconv.FormatInt(now.UnixMilli(), 10), index)
	}
	class := p.Class
	if class == "" {
		class = "unknown"
	}
	by := AISystemUser
	comment := AIComment
	return &entities.Annotation{
		ThermalImageID: img.ID,
		TransformerID:  img.TransformerID(),
		DetectionID:    detectionID,
		AnnotationType: entities.AnnotationAIDetected,
		DetectionClass: class,
		Confidence:     p.Confidence,
		X:              p.X,
		Y:              p.Y,
		Width:          p.Width,
		Height:         p.Height,
		Comments:       &comment,
		CreatedBy:      AISystemUser,
		CreatedAt:      now,
		ModifiedBy:     &by,
	}
}

// UpdateDetections replaces the legacy detection JSON of an image. The
// body must be valid JSON.
func (s *ImageService) UpdateDetections(ctx context.Context, id string, raw []byte) (*entities.ThermalImage, error) {
	if !json.Valid(raw) {
		return nil, errors.ValidationError("detections must be valid JSON")
	}
	if err := s.store.ThermalImages.UpdateDetectionData(ctx, id, string(raw), nil); err != nil {
		return nil, err
	}
	return s.store.ThermalImages.GetByID(ctx, id)
}

// Delete removes an image record and its stored file.
func (s *ImageService) Delete(ctx context.Context, id string) error {
	img, err := s.store.ThermalImages.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.ThermalImages.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.images.Delete(ctx, storage.NameFromURL(img.ImageURL)); err != nil {
		s.log.Warn("stored image file not removed",
			logger.String("thermal_image_id", id),
			logger.Error(err))
	}
	return nil
}

func canonicalImageType(t string) (string, error) {
	switch {
	case strings.EqualFold(strings.TrimSpace(t), entities.ImageTypeBaseline):
		return entities.ImageTypeBaseline, nil
	case strings.EqualFold(strings.TrimSpace(t), entities.ImageTypeMaintenance):
		return entities.ImageTypeMaintenance, nil
	case strings.TrimSpace(t) == "":
		return "", errors.ValidationError("imageType is required (Baseline or Maintenance)")
	}
	return "", errors.Newf("unknown imageType %q (Baseline or Maintenance)", t).
		Component("thermal").
		Category(errors.CategoryValidation).
		Build()
}

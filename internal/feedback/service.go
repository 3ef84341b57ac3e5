package feedback

import (
	"context"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/datatypes"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/observability/metrics"
)

const statsCacheKey = "feedback:stats"

// Recorder receives feedback metrics.
type Recorder interface {
	RecordOperation(operation string, err error, duration time.Duration)
	RecordFeedbackLog(feedbackType string)
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(string, error, time.Duration) {}
func (noopRecorder) RecordFeedbackLog(string)                     {}

// Stats summarises the feedback logs.
type Stats struct {
	TotalLogs          int64            `json:"totalLogs"`
	UnusedLogs         int64            `json:"unusedLogs"`
	UsedLogs           int64            `json:"usedLogs"`
	FeedbackTypeCounts map[string]int64 `json:"feedbackTypeCounts"`
}

// CreateInput is a manually entered feedback log.
type CreateInput struct {
	ThermalImageID  string   `json:"thermalImageId"`
	AnnotationID    *string  `json:"annotationId"`
	AIPrediction    Snapshot `json:"aiPrediction"`
	FinalAnnotation Snapshot `json:"finalAnnotation"`
	FeedbackType    string   `json:"feedbackType"`
	AnnotatorID     string   `json:"annotatorId"`
	AnnotatorName   string   `json:"annotatorName"`
	Comments        *string  `json:"comments"`
}

// Filter narrows List. At most one criterion is applied, checked in the
// order Type, AnnotatorID, date range.
type Filter struct {
	Type        string
	AnnotatorID string
	From, To    time.Time
}

// Service synthesizes, queries and exports feedback logs.
type Service struct {
	store   *repository.Store
	cache   *cache.Cache
	metrics Recorder
	log     logger.Logger
	now     func() time.Time
}

// NewService creates a Service. statsTTL bounds how stale Stats may be;
// every write through the service invalidates it.
func NewService(store *repository.Store, statsTTL time.Duration, rec Recorder, log logger.Logger) *Service {
	if statsTTL <= 0 {
		statsTTL = 30 * time.Second
	}
	if rec == nil {
		rec = noopRecorder{}
	}
	if log == nil {
		log = logger.Global().Module("feedback")
	}
	return &Service{
		store:   store,
		cache:   cache.New(statsTTL, 2*statsTTL),
		metrics: rec,
		log:     log,
		now:     time.Now,
	}
}

// SynthesizeFromSync writes one feedback log per user correction on the
// image. Logs are upserted by annotation id, so repeated calls converge.
// A synthesized log whose annotation is no longer a correction, such as a
// deleted AI box that came back, is reset to no_change.
func (s *Service) SynthesizeFromSync(ctx context.Context, imageID, userID string) (n int, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperation(metrics.OpSynthesize, err, time.Since(start)) }()

	img, err := s.store.ThermalImages.GetByID(ctx, imageID)
	if err != nil {
		return 0, err
	}

	var written []string
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		corrections, err := tx.Annotations.ListCorrectionsByImage(ctx, imageID)
		if err != nil {
			return err
		}
		current := make(map[string]bool, len(corrections))
		for i := range corrections {
			a := &corrections[i]
			current[a.ID] = true

			before, err := s.beforeState(ctx, tx, img, a.DetectionID)
			if err != nil {
				return err
			}
			log, err := synthesizedLog(imageID, a, feedbackType(a.AnnotationType), before, annotatorOf(a, userID))
			if err != nil {
				return err
			}
			if err := tx.FeedbackLogs.UpsertByAnnotation(ctx, log); err != nil {
				return err
			}
			written = append(written, log.FeedbackType)
		}

		reset, err := s.resetStale(ctx, tx, imageID, userID, current)
		written = append(written, reset...)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, t := range written {
		s.metrics.RecordFeedbackLog(t)
	}
	s.invalidate()
	s.log.Info("feedback logs synthesized",
		logger.String("thermal_image_id", imageID),
		logger.Int("count", len(written)))
	return len(written), nil
}

// resetStale rewrites synthesized logs of annotations outside current as
// no_change, with the annotation's present state on both sides.
func (s *Service) resetStale(ctx context.Context, tx *repository.Store, imageID, userID string, current map[string]bool) ([]string, error) {
	logs, err := tx.FeedbackLogs.ListByImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	var reset []string
	for i := range logs {
		l := &logs[i]
		if l.Manual || l.AnnotationID == nil || current[*l.AnnotationID] || l.FeedbackType == entities.FeedbackNoChange {
			continue
		}
		a, err := tx.Annotations.GetByID(ctx, *l.AnnotationID)
		switch {
		case errors.Is(err, repository.ErrAnnotationNotFound):
			continue
		case err != nil:
			return nil, err
		}
		snap := snapshotAnnotation(a)
		log, err := synthesizedLog(imageID, a, entities.FeedbackNoChange, snap, annotatorOf(a, userID))
		if err != nil {
			return nil, err
		}
		if err := tx.FeedbackLogs.UpsertByAnnotation(ctx, log); err != nil {
			return nil, err
		}
		s.log.Debug("feedback log reset",
			logger.String("feedback_log_id", l.ID),
			logger.String("previous_type", l.FeedbackType))
		reset = append(reset, log.FeedbackType)
	}
	return reset, nil
}

// beforeState resolves what the model predicted for detectionID: its
// ai_detected annotation, else the stored detection data, else a marker
// for a box the model never produced.
func (s *Service) beforeState(ctx context.Context, tx *repository.Store, img *entities.ThermalImage, detectionID string) (Snapshot, error) {
	a, err := tx.Annotations.FindAIDetected(ctx, img.ID, detectionID)
	switch {
	case err == nil:
		return snapshotAnnotation(a), nil
	case !errors.Is(err, repository.ErrAnnotationNotFound):
		return nil, err
	}
	if snap, ok := snapshotFromDetectionData(img.DetectionData, detectionID); ok {
		return snap, nil
	}
	return notFoundByAI(), nil
}

func annotatorOf(a *entities.Annotation, userID string) string {
	if a.ModifiedBy != nil && *a.ModifiedBy != "" {
		return *a.ModifiedBy
	}
	return userID
}

func synthesizedLog(imageID string, a *entities.Annotation, feedbackType string, before Snapshot, annotator string) (*entities.FeedbackLog, error) {
	log := &entities.FeedbackLog{
		ThermalImageID: imageID,
		AnnotationID:   &a.ID,
		FeedbackType:   feedbackType,
		AnnotatorID:    annotator,
		AnnotatorName:  annotator,
		AnnotatorRole:  entities.DefaultAnnotatorRole,
		Comments:       a.Comments,
	}
	var err error
	if log.AIPrediction, err = marshalSnapshot(before); err != nil {
		return nil, err
	}
	if log.FinalAnnotation, err = marshalSnapshot(snapshotAnnotation(a)); err != nil {
		return nil, err
	}
	return log, nil
}

// Create stores a manual feedback log. It is always a new row, so a log
// synthesized by sync for the same annotation is left as it is.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entities.FeedbackLog, error) {
	if in.ThermalImageID == "" {
		return nil, errors.ValidationError("thermalImageId is required")
	}
	if in.FeedbackType == "" {
		in.FeedbackType = entities.FeedbackNoChange
	}
	if !ValidType(in.FeedbackType) {
		return nil, errors.Newf("unknown feedback type %q", in.FeedbackType).
			Component("feedback").
			Category(errors.CategoryValidation).
			Build()
	}
	if _, err := s.store.ThermalImages.GetByID(ctx, in.ThermalImageID); err != nil {
		return nil, err
	}

	if in.AnnotatorID == "" {
		in.AnnotatorID = entities.DefaultAnnotatorID
	}
	if in.AnnotatorName == "" {
		in.AnnotatorName = entities.DefaultAnnotatorName
	}

	log := &entities.FeedbackLog{
		ThermalImageID: in.ThermalImageID,
		FeedbackType:   in.FeedbackType,
		AnnotatorID:    in.AnnotatorID,
		AnnotatorName:  in.AnnotatorName,
		AnnotatorRole:  entities.DefaultAnnotatorRole,
		Comments:       in.Comments,
		Manual:         true,
	}
	var err error
	if log.AIPrediction, err = marshalSnapshot(in.AIPrediction); err != nil {
		return nil, err
	}
	if log.FinalAnnotation, err = marshalSnapshot(in.FinalAnnotation); err != nil {
		return nil, err
	}

	// An unknown annotation id is dropped, not rejected.
	if in.AnnotationID != nil && *in.AnnotationID != "" {
		if _, err := s.store.Annotations.GetByID(ctx, *in.AnnotationID); err == nil {
			log.AnnotationID = in.AnnotationID
		}
	}

	if err := s.store.FeedbackLogs.Create(ctx, log); err != nil {
		return nil, err
	}

	s.metrics.RecordFeedbackLog(log.FeedbackType)
	s.invalidate()
	s.log.Info("feedback log created",
		logger.String("feedback_log_id", log.ID),
		logger.String("thermal_image_id", log.ThermalImageID),
		logger.String("feedback_type", log.FeedbackType))
	return log, nil
}

// List returns logs matching f, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]entities.FeedbackLog, error) {
	switch {
	case f.Type != "":
		return s.store.FeedbackLogs.ListByType(ctx, f.Type)
	case f.AnnotatorID != "":
		return s.store.FeedbackLogs.ListByAnnotator(ctx, f.AnnotatorID)
	case !f.From.IsZero() || !f.To.IsZero():
		to := f.To
		if to.IsZero() {
			to = s.now()
		}
		return s.store.FeedbackLogs.ListByDateRange(ctx, f.From, to)
	}
	return s.store.FeedbackLogs.List(ctx)
}

// ListByImage returns the logs of one image.
func (s *Service) ListByImage(ctx context.Context, imageID string) ([]entities.FeedbackLog, error) {
	return s.store.FeedbackLogs.ListByImage(ctx, imageID)
}

// ListUnused returns logs not yet used for training.
func (s *Service) ListUnused(ctx context.Context) ([]entities.FeedbackLog, error) {
	return s.store.FeedbackLogs.ListUnused(ctx)
}

// MarkUsed flags logs as used for training. Unknown ids are ignored.
func (s *Service) MarkUsed(ctx context.Context, ids []string) (int64, error) {
	n, err := s.store.FeedbackLogs.MarkUsed(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.invalidate()
	s.log.Info("feedback logs marked as used for training",
		logger.Int("requested", len(ids)),
		logger.Int64("updated", n))
	return n, nil
}

// Stats returns log counts, served from cache when fresh.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if v, ok := s.cache.Get(statsCacheKey); ok {
		if st, ok := v.(*Stats); ok {
			return st, nil
		}
	}

	raw, err := s.store.FeedbackLogs.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		TotalLogs:          raw.Total,
		UnusedLogs:         raw.Unused,
		UsedLogs:           raw.Used,
		FeedbackTypeCounts: raw.TypeCount,
	}
	s.cache.SetDefault(statsCacheKey, st)
	return st, nil
}

func (s *Service) invalidate() {
	s.cache.Delete(statsCacheKey)
}

func marshalSnapshot(snap Snapshot) (datatypes.JSON, error) {
	if snap == nil {
		return nil, nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.New(err).
			Component("feedback").
			Category(errors.CategoryProcessing).
			Build()
	}
	return datatypes.JSON(b), nil
}

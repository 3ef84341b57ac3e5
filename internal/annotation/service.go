package annotation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/datastore/repository"
	"github.com/gridlens/gridlens/internal/errors"
	"github.com/gridlens/gridlens/internal/logger"
	"github.com/gridlens/gridlens/internal/observability/metrics"
)

// DefaultUserID is used when a request carries no user.
const DefaultUserID = "system"

const defaultClass = "unknown"

// ErrDuplicateDetection is returned by Create when a live annotation with
// the same detection id already exists on the image.
var ErrDuplicateDetection = errors.NewSentinel("detection id already annotated on this image", errors.CategoryConflict)

// Synthesizer turns the user corrections of an image into feedback logs.
type Synthesizer interface {
	SynthesizeFromSync(ctx context.Context, imageID, userID string) (int, error)
}

// Recorder receives operation metrics.
type Recorder interface {
	RecordOperation(operation string, err error, duration time.Duration)
	RecordLockWait(d time.Duration)
	AddSoftDeleted(n int)
	SetAnnotationCounts(counts map[string]int64)
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(string, error, time.Duration) {}
func (noopRecorder) RecordLockWait(time.Duration)                 {}
func (noopRecorder) AddSoftDeleted(int)                           {}
func (noopRecorder) SetAnnotationCounts(map[string]int64)         {}

// Options configures a Service. Zero values select in-process locking, no
// feedback synthesis and no metrics.
type Options struct {
	Synthesizer Synthesizer
	Locker      Locker
	LockTimeout time.Duration
	Metrics     Recorder
	Logger      logger.Logger
}

// Service implements annotation CRUD and sync.
type Service struct {
	store       *repository.Store
	synth       Synthesizer
	locker      Locker
	lockTimeout time.Duration
	metrics     Recorder
	log         logger.Logger
	now         func() time.Time
}

// NewService creates a Service over store.
func NewService(store *repository.Store, opts Options) *Service {
	s := &Service{
		store:       store,
		synth:       opts.Synthesizer,
		locker:      opts.Locker,
		lockTimeout: opts.LockTimeout,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		now:         time.Now,
	}
	if s.locker == nil {
		s.locker = NewKeyedLocker()
	}
	if s.lockTimeout <= 0 {
		s.lockTimeout = 30 * time.Second
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.log == nil {
		s.log = logger.Global().Module("annotation")
	}
	return s
}

// List returns the annotations of an image, newest first.
func (s *Service) List(ctx context.Context, imageID string, includeDeleted bool) ([]Record, error) {
	list, err := s.store.Annotations.ListByImage(ctx, imageID, includeDeleted)
	if err != nil {
		return nil, err
	}
	return Records(list), nil
}

// Create stores a manually drawn annotation on an existing image.
func (s *Service) Create(ctx context.Context, imageID string, in Input, userID string) (rec *Record, err error) {
	defer s.observe(metrics.OpCreate, time.Now(), &err)
	userID = userOrDefault(userID)

	img, err := s.store.ThermalImages.GetByID(ctx, imageID)
	if err != nil {
		return nil, err
	}

	detectionID := string(in.DetectionID)
	if detectionID == "" {
		detectionID = s.generatedID("det_", 0)
	} else {
		existing, err := s.store.Annotations.FindByDetectionID(ctx, imageID, detectionID)
		switch {
		case errors.Is(err, repository.ErrAnnotationNotFound):
		case err != nil:
			return nil, err
		case !existing.IsDeleted:
			return nil, errors.New(ErrDuplicateDetection).
				Component("annotation").
				Category(errors.CategoryConflict).
				Context("thermal_image_id", imageID).
				Context("detection_id", detectionID).
				Build()
		}
	}

	now := s.now()
	a := &entities.Annotation{
		ThermalImageID: imageID,
		TransformerID:  img.TransformerID(),
		DetectionID:    detectionID,
		AnnotationType: orDefault(in.AnnotationType, entities.AnnotationUserAdded),
		DetectionClass: orDefault(in.DetectionClass, defaultClass),
		Confidence:     float64(in.Confidence),
		X:              float64(in.X),
		Y:              float64(in.Y),
		Width:          float64(in.Width),
		Height:         float64(in.Height),
		Comments:       in.Comments,
		CreatedBy:      userID,
		CreatedAt:      now,
		ModifiedBy:     &userID,
		ModifiedAt:     &now,
	}
	if err := s.store.Annotations.Create(ctx, a); err != nil {
		return nil, err
	}

	s.refreshCounts(ctx)
	s.log.Info("annotation created",
		logger.String("annotation_id", a.ID),
		logger.String("thermal_image_id", imageID),
		logger.String("user_id", userID))
	r := RecordFrom(a)
	return &r, nil
}

// Update overwrites class, confidence and box of an annotation. Comments
// change only when provided. The lineage becomes user_edited.
func (s *Service) Update(ctx context.Context, annotationID string, in Input, userID string) (rec *Record, err error) {
	defer s.observe(metrics.OpUpdate, time.Now(), &err)
	userID = userOrDefault(userID)

	a, err := s.store.Annotations.GetByID(ctx, annotationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	a.DetectionClass = orDefault(in.DetectionClass, a.DetectionClass)
	a.Confidence = float64(in.Confidence)
	a.X = float64(in.X)
	a.Y = float64(in.Y)
	a.Width = float64(in.Width)
	a.Height = float64(in.Height)
	if in.Comments != nil {
		a.Comments = in.Comments
	}
	a.AnnotationType = entities.AnnotationUserEdited
	a.ModifiedBy = &userID
	a.ModifiedAt = &now

	if err := s.store.Annotations.Save(ctx, a); err != nil {
		return nil, err
	}
	s.refreshCounts(ctx)
	r := RecordFrom(a)
	return &r, nil
}

// Delete removes an annotation. Without hard it is only flagged deleted
// and tagged user_deleted.
func (s *Service) Delete(ctx context.Context, annotationID, userID string, hard bool) (err error) {
	defer s.observe(metrics.OpDelete, time.Now(), &err)
	userID = userOrDefault(userID)

	if hard {
		if err := s.store.Annotations.Delete(ctx, annotationID); err != nil {
			return err
		}
		s.refreshCounts(ctx)
		s.log.Info("annotation purged",
			logger.String("annotation_id", annotationID),
			logger.String("user_id", userID))
		return nil
	}

	a, err := s.store.Annotations.GetByID(ctx, annotationID)
	if err != nil {
		return err
	}
	now := s.now()
	a.IsDeleted = true
	a.AnnotationType = entities.AnnotationUserDeleted
	a.ModifiedBy = &userID
	a.ModifiedAt = &now
	if err := s.store.Annotations.Save(ctx, a); err != nil {
		return err
	}
	s.metrics.AddSoftDeleted(1)
	s.refreshCounts(ctx)
	return nil
}

// Sync reconciles the stored annotations of an image with detections.
//
// Each detection updates the annotation with the same detection id, or a
// new one is created. Stored live annotations missing from detections are
// soft-deleted. All writes share one transaction. Feedback synthesis runs
// afterwards and its failure does not fail the sync.
func (s *Service) Sync(ctx context.Context, imageID string, detections []Detection, userID string) (out []Detection, err error) {
	defer s.observe(metrics.OpSync, time.Now(), &err)
	userID = userOrDefault(userID)

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	waitStart := time.Now()
	unlock, err := s.locker.Lock(lockCtx, imageID)
	cancel()
	if err != nil {
		return nil, err
	}
	defer unlock()
	s.metrics.RecordLockWait(time.Since(waitStart))

	var saved []entities.Annotation
	var softDeleted int
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		var txErr error
		saved, softDeleted, txErr = s.reconcile(ctx, tx, imageID, detections, userID)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	if softDeleted > 0 {
		s.metrics.AddSoftDeleted(softDeleted)
	}

	s.log.Info("annotations synced",
		logger.String("thermal_image_id", imageID),
		logger.String("user_id", userID),
		logger.Int("saved", len(saved)),
		logger.Int("soft_deleted", softDeleted))

	if s.synth != nil {
		if n, err := s.synth.SynthesizeFromSync(ctx, imageID, userID); err != nil {
			s.log.Error("feedback synthesis failed after sync",
				logger.String("thermal_image_id", imageID),
				logger.Error(err))
		} else {
			s.log.Debug("feedback logs synthesized",
				logger.String("thermal_image_id", imageID),
				logger.Int("count", n))
		}
	}

	s.refreshCounts(ctx)

	out = make([]Detection, 0, len(saved))
	for i := range saved {
		out = append(out, DetectionFrom(&saved[i]))
	}
	return out, nil
}

func (s *Service) reconcile(ctx context.Context, tx *repository.Store, imageID string, detections []Detection, userID string) ([]entities.Annotation, int, error) {
	img, err := tx.ThermalImages.GetByID(ctx, imageID)
	if err != nil {
		return nil, 0, err
	}

	existing, err := tx.Annotations.ListByImage(ctx, imageID, true)
	if err != nil {
		return nil, 0, err
	}

	// A live row wins over a deleted one with the same detection id.
	byDetection := make(map[string]*entities.Annotation, len(existing))
	for i := range existing {
		a := &existing[i]
		if cur, ok := byDetection[a.DetectionID]; !ok || (cur.IsDeleted && !a.IsDeleted) {
			byDetection[a.DetectionID] = a
		}
	}

	now := s.now()
	seen := make(map[string]struct{}, len(detections))
	saved := make([]entities.Annotation, 0, len(detections))

	for i := range detections {
		d := &detections[i]
		detectionID := strings.TrimSpace(string(d.DetectionID))
		if detectionID == "" {
			detectionID = s.generatedID("det_", i)
		}
		seen[detectionID] = struct{}{}

		a, found := byDetection[detectionID]
		if !found {
			a = &entities.Annotation{
				ThermalImageID: imageID,
				TransformerID:  img.TransformerID(),
				DetectionID:    detectionID,
				CreatedBy:      orDefault(d.CreatedBy, userID),
				CreatedAt:      now,
			}
		}

		a.DetectionClass = orDefault(strings.TrimSpace(d.Class), defaultClass)
		a.Confidence = float64(d.Confidence)
		a.X = float64(d.X)
		a.Y = float64(d.Y)
		a.Width = float64(d.Width)
		a.Height = float64(d.Height)
		a.AnnotationType = orDefault(d.AnnotationType, entities.AnnotationAIDetected)
		a.Comments = d.Comments
		modifiedBy := orDefault(d.ModifiedBy, userID)
		a.ModifiedBy = &modifiedBy
		modifiedAt := now
		a.ModifiedAt = &modifiedAt
		a.IsDeleted = false

		if found {
			err = tx.Annotations.Save(ctx, a)
		} else {
			err = tx.Annotations.Create(ctx, a)
			byDetection[detectionID] = a
		}
		if err != nil {
			return nil, 0, err
		}
		saved = append(saved, *a)
	}

	softDeleted := 0
	for i := range existing {
		a := &existing[i]
		if a.IsDeleted {
			continue
		}
		if _, ok := seen[a.DetectionID]; ok {
			continue
		}
		a.IsDeleted = true
		a.AnnotationType = entities.AnnotationUserDeleted
		by := userID
		a.ModifiedBy = &by
		at := now
		a.ModifiedAt = &at
		if err := tx.Annotations.Save(ctx, a); err != nil {
			return nil, 0, err
		}
		softDeleted++
	}

	// Saved rows were appended before later duplicates could update them.
	for i := range saved {
		if a, ok := byDetection[saved[i].DetectionID]; ok {
			saved[i] = *a
		}
	}
	return dedupe(saved), softDeleted, nil
}

// dedupe keeps the first occurrence of every annotation id.
func dedupe(list []entities.Annotation) []entities.Annotation {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for i := range list {
		if _, ok := seen[list[i].ID]; ok {
			continue
		}
		seen[list[i].ID] = struct{}{}
		out = append(out, list[i])
	}
	return out
}

func (s *Service) generatedID(prefix string, index int) string {
	id := prefix + strconv.FormatInt(s.now().UnixMilli(), 10)
	if index > 0 {
		id = fmt.Sprintf("%s_%d", id, index)
	}
	return id
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	s.metrics.RecordOperation(op, *errp, time.Since(start))
}

// refreshCounts publishes live annotation counts after a write.
func (s *Service) refreshCounts(ctx context.Context) {
	if _, ok := s.metrics.(noopRecorder); ok {
		return
	}
	counts, err := s.store.Annotations.CountByType(ctx)
	if err != nil {
		s.log.Debug("failed to count annotations", logger.Error(err))
		return
	}
	s.metrics.SetAnnotationCounts(counts)
}

func userOrDefault(userID string) string {
	if strings.TrimSpace(userID) == "" {
		return DefaultUserID
	}
	return userID
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gridlens/gridlens/internal/datastore/entities"
	"github.com/gridlens/gridlens/internal/errors"
)

// feedbackLogRepository implements FeedbackLogRepository.
type feedbackLogRepository struct {
	db *gorm.DB
}

func (r *feedbackLogRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("ThermalImage").Order("created_at DESC")
}

func (r *feedbackLogRepository) Create(ctx context.Context, f *entities.FeedbackLog) error {
	return translate(r.db.WithContext(ctx).Omit(clause.Associations).Create(f).Error, nil)
}

// UpsertByAnnotation keeps the original id, creation time and training flag
// of an existing synthesized log. Manual logs are never matched.
func (r *feedbackLogRepository) UpsertByAnnotation(ctx context.Context, f *entities.FeedbackLog) error {
	if f.AnnotationID == nil {
		return errors.ValidationError("feedback log upsert requires an annotation id")
	}
	f.Manual = false
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing entities.FeedbackLog
		err := tx.Where("annotation_id = ? AND manual = ?", *f.AnnotationID, false).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return translate(tx.Omit(clause.Associations).Create(f).Error, nil)
		case err != nil:
			return translate(err, nil)
		}

		f.ID = existing.ID
		f.CreatedAt = existing.CreatedAt
		f.UsedForTraining = existing.UsedForTraining
		f.ExportedAt = existing.ExportedAt
		if f.AnnotatorID == "" {
			f.AnnotatorID = existing.AnnotatorID
		}
		if f.AnnotatorName == "" {
			f.AnnotatorName = existing.AnnotatorName
		}
		if f.AnnotatorRole == "" {
			f.AnnotatorRole = existing.AnnotatorRole
		}
		return translate(tx.Omit(clause.Associations).Save(f).Error, nil)
	})
}

func (r *feedbackLogRepository) GetByID(ctx context.Context, id string) (*entities.FeedbackLog, error) {
	var f entities.FeedbackLog
	if err := r.db.WithContext(ctx).Preload("ThermalImage").Where("id = ?", id).First(&f).Error; err != nil {
		return nil, translate(err, ErrFeedbackLogNotFound)
	}
	return &f, nil
}

func (r *feedbackLogRepository) find(q *gorm.DB) ([]entities.FeedbackLog, error) {
	var list []entities.FeedbackLog
	return list, translate(q.Find(&list).Error, nil)
}

func (r *feedbackLogRepository) List(ctx context.Context) ([]entities.FeedbackLog, error) {
	return r.find(r.preloaded(ctx))
}

func (r *feedbackLogRepository) ListByImage(ctx context.Context, imageID string) ([]entities.FeedbackLog, error) {
	return r.find(r.preloaded(ctx).Where("thermal_image_id = ?", imageID))
}

func (r *feedbackLogRepository) ListUnused(ctx context.Context) ([]entities.FeedbackLog, error) {
	return r.find(r.preloaded(ctx).Where("used_for_training = ?", false))
}

func (r *feedbackLogRepository) ListByType(ctx context.Context, feedbackType string) ([]entities.FeedbackLog, error) {
	return r.find(r.preloaded(ctx).Where("feedback_type = ?", feedbackType))
}

func (r *feedbackLogRepository) ListByAnnotator(ctx context.Context, annotatorID string) ([]entities.FeedbackLog, error) {
	return r.find(r.preloaded(ctx).Where("annotator_id = ?", annotatorID))
}

func (r *feedbackLogRepository) ListByDateRange(ctx context.Context, from, to time.Time) ([]entities.FeedbackLog, error) {
	return r.find(r.preloaded(ctx).Where("created_at BETWEEN ? AND ?", from, to))
}

func (r *feedbackLogRepository) MarkUsed(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&entities.FeedbackLog{}).
		Where("id IN ?", ids).
		Update("used_for_training", true)
	return res.RowsAffected, translate(res.Error, nil)
}

func (r *feedbackLogRepository) MarkExported(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Model(&entities.FeedbackLog{}).
		Where("id IN ?", ids).
		Update("exported_at", at).Error, nil)
}

func (r *feedbackLogRepository) Stats(ctx context.Context) (*FeedbackStats, error) {
	var rows []struct {
		FeedbackType    string
		UsedForTraining bool
		Count           int64
	}
	err := r.db.WithContext(ctx).Model(&entities.FeedbackLog{}).
		Select("feedback_type, used_for_training, COUNT(*) AS count").
		Group("feedback_type, used_for_training").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, nil)
	}

	stats := &FeedbackStats{TypeCount: make(map[string]int64)}
	for _, row := range rows {
		stats.Total += row.Count
		stats.TypeCount[row.FeedbackType] += row.Count
		if row.UsedForTraining {
			stats.Used += row.Count
		} else {
			stats.Unused += row.Count
		}
	}
	return stats, nil
}

package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// annotationRepository implements AnnotationRepository.
type annotationRepository struct {
	db *gorm.DB
}

var correctionTypes = []string{
	entities.AnnotationUserAdded,
	entities.AnnotationUserEdited,
	entities.AnnotationUserDeleted,
}

func (r *annotationRepository) Create(ctx context.Context, a *entities.Annotation) error {
	return translate(r.db.WithContext(ctx).Omit("ThermalImage").Create(a).Error, nil)
}

func (r *annotationRepository) GetByID(ctx context.Context, id string) (*entities.Annotation, error) {
	var a entities.Annotation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err, ErrAnnotationNotFound)
	}
	return &a, nil
}

func (r *annotationRepository) Save(ctx context.Context, a *entities.Annotation) error {
	return translate(r.db.WithContext(ctx).Omit("ThermalImage").Save(a).Error, nil)
}

func (r *annotationRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entities.Annotation{})
	if res.Error != nil {
		return translate(res.Error, nil)
	}
	if res.RowsAffected == 0 {
		return ErrAnnotationNotFound
	}
	return nil
}

func (r *annotationRepository) ListByImage(ctx context.Context, imageID string, includeDeleted bool) ([]entities.Annotation, error) {
	q := r.db.WithContext(ctx).Where("thermal_image_id = ?", imageID)
	if !includeDeleted {
		q = q.Where("is_deleted = ?", false)
	}
	var list []entities.Annotation
	return list, translate(q.Order("created_at DESC").Find(&list).Error, nil)
}

func (r *annotationRepository) FindByDetectionID(ctx context.Context, imageID, detectionID string) (*entities.Annotation, error) {
	var a entities.Annotation
	err := r.db.WithContext(ctx).
		Where("thermal_image_id = ? AND detection_id = ?", imageID, detectionID).
		Order("is_deleted ASC").Order("created_at DESC").
		First(&a).Error
	if err != nil {
		return nil, translate(err, ErrAnnotationNotFound)
	}
	return &a, nil
}

func (r *annotationRepository) FindAIDetected(ctx context.Context, imageID, detectionID string) (*entities.Annotation, error) {
	var a entities.Annotation
	err := r.db.WithContext(ctx).
		Where("thermal_image_id = ? AND detection_id = ? AND annotation_type = ?",
			imageID, detectionID, entities.AnnotationAIDetected).
		Order("created_at DESC").
		First(&a).Error
	if err != nil {
		return nil, translate(err, ErrAnnotationNotFound)
	}
	return &a, nil
}

func (r *annotationRepository) ListCorrectionsByImage(ctx context.Context, imageID string) ([]entities.Annotation, error) {
	var list []entities.Annotation
	err := r.db.WithContext(ctx).
		Where("thermal_image_id = ? AND annotation_type IN ?", imageID, correctionTypes).
		Order("created_at DESC").
		Find(&list).Error
	return list, translate(err, nil)
}

func (r *annotationRepository) ListUserCorrected(ctx context.Context) ([]entities.Annotation, error) {
	var list []entities.Annotation
	err := r.db.WithContext(ctx).
		Where("is_deleted = ? AND annotation_type IN ?", false,
			[]string{entities.AnnotationUserAdded, entities.AnnotationUserEdited}).
		Order("created_at DESC").
		Find(&list).Error
	return list, translate(err, nil)
}

func (r *annotationRepository) CountByType(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		AnnotationType string
		Count          int64
	}
	err := r.db.WithContext(ctx).Model(&entities.Annotation{}).
		Select("annotation_type, COUNT(*) AS count").
		Where("is_deleted = ?", false).
		Group("annotation_type").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, nil)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.AnnotationType] = row.Count
	}
	return counts, nil
}

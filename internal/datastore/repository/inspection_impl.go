package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// inspectionRepository implements InspectionRepository.
type inspectionRepository struct {
	db *gorm.DB
}

func (r *inspectionRepository) Create(ctx context.Context, i *entities.Inspection) error {
	if err := r.db.WithContext(ctx).Omit("Transformer").Create(i).Error; err != nil {
		return translate(err, nil)
	}
	return r.reloadTransformer(ctx, i)
}

func (r *inspectionRepository) GetByID(ctx context.Context, id string) (*entities.Inspection, error) {
	var i entities.Inspection
	err := r.db.WithContext(ctx).Preload("Transformer").Where("id = ?", id).First(&i).Error
	if err != nil {
		return nil, translate(err, ErrInspectionNotFound)
	}
	return &i, nil
}

func (r *inspectionRepository) List(ctx context.Context, transformerID string) ([]entities.Inspection, error) {
	q := r.db.WithContext(ctx).Preload("Transformer").Order("created_at DESC")
	if transformerID != "" {
		q = q.Where("transformer_id = ?", transformerID)
	}
	var list []entities.Inspection
	return list, translate(q.Find(&list).Error, nil)
}

func (r *inspectionRepository) Save(ctx context.Context, i *entities.Inspection) error {
	if err := r.db.WithContext(ctx).Omit("Transformer").Save(i).Error; err != nil {
		return translate(err, nil)
	}
	return r.reloadTransformer(ctx, i)
}

func (r *inspectionRepository) reloadTransformer(ctx context.Context, i *entities.Inspection) error {
	if i.TransformerID == nil {
		i.Transformer = nil
		return nil
	}
	var t entities.Transformer
	if err := r.db.WithContext(ctx).Where("id = ?", *i.TransformerID).First(&t).Error; err != nil {
		return translate(err, ErrTransformerNotFound)
	}
	i.Transformer = &t
	return nil
}

func (r *inspectionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&entities.Inspection{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return translate(err, nil)
		}
		if n == 0 {
			return ErrInspectionNotFound
		}
		return deleteInspectionsCascade(tx, []string{id})
	})
}

// deleteInspectionsCascade removes inspections with their images,
// annotations and feedback logs.
func deleteInspectionsCascade(tx *gorm.DB, inspectionIDs []string) error {
	if len(inspectionIDs) == 0 {
		return nil
	}
	var imageIDs []string
	if err := tx.Model(&entities.ThermalImage{}).Where("inspection_id IN ?", inspectionIDs).Pluck("id", &imageIDs).Error; err != nil {
		return translate(err, nil)
	}
	if err := deleteImagesCascade(tx, imageIDs); err != nil {
		return err
	}
	return translate(tx.Where("id IN ?", inspectionIDs).Delete(&entities.Inspection{}).Error, nil)
}

func deleteImagesCascade(tx *gorm.DB, imageIDs []string) error {
	if len(imageIDs) == 0 {
		return nil
	}
	if err := tx.Where("thermal_image_id IN ?", imageIDs).Delete(&entities.FeedbackLog{}).Error; err != nil {
		return translate(err, nil)
	}
	if err := tx.Where("thermal_image_id IN ?", imageIDs).Delete(&entities.Annotation{}).Error; err != nil {
		return translate(err, nil)
	}
	return translate(tx.Where("id IN ?", imageIDs).Delete(&entities.ThermalImage{}).Error, nil)
}

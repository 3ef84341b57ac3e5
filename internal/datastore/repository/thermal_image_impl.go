package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// thermalImageRepository implements ThermalImageRepository.
type thermalImageRepository struct {
	db *gorm.DB
}

func (r *thermalImageRepository) preloaded(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Inspection").Preload("Inspection.Transformer")
}

func (r *thermalImageRepository) Create(ctx context.Context, img *entities.ThermalImage) error {
	return translate(r.db.WithContext(ctx).Omit("Inspection").Create(img).Error, nil)
}

func (r *thermalImageRepository) GetByID(ctx context.Context, id string) (*entities.ThermalImage, error) {
	var img entities.ThermalImage
	if err := r.preloaded(ctx).Where("id = ?", id).First(&img).Error; err != nil {
		return nil, translate(err, ErrThermalImageNotFound)
	}
	return &img, nil
}

func (r *thermalImageRepository) List(ctx context.Context, filter ThermalImageFilter) ([]entities.ThermalImage, error) {
	q := r.preloaded(ctx).Order("uploaded_at DESC")
	if filter.InspectionID != "" {
		q = q.Where("inspection_id = ?", filter.InspectionID)
	}
	if filter.ImageType != "" {
		q = q.Where("LOWER(image_type) = LOWER(?)", filter.ImageType)
	}
	var list []entities.ThermalImage
	return list, translate(q.Find(&list).Error, nil)
}

func (r *thermalImageRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entities.ThermalImage, error) {
	result := make(map[string]*entities.ThermalImage, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var list []entities.ThermalImage
	if err := r.preloaded(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, translate(err, nil)
	}
	for i := range list {
		result[list[i].ID] = &list[i]
	}
	return result, nil
}

func (r *thermalImageRepository) Save(ctx context.Context, img *entities.ThermalImage) error {
	return translate(r.db.WithContext(ctx).Omit("Inspection").Save(img).Error, nil)
}

func (r *thermalImageRepository) UpdateDetectionData(ctx context.Context, id, data string, anomaly *bool) error {
	updates := map[string]any{"detection_data": data}
	if anomaly != nil {
		updates["anomaly_detected"] = *anomaly
	}
	res := r.db.WithContext(ctx).Model(&entities.ThermalImage{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(res.Error, nil)
	}
	if res.RowsAffected == 0 {
		return ErrThermalImageNotFound
	}
	return nil
}

func (r *thermalImageRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&entities.ThermalImage{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return translate(err, nil)
		}
		if n == 0 {
			return ErrThermalImageNotFound
		}
		return deleteImagesCascade(tx, []string{id})
	})
}

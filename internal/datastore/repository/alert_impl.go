package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// alertRepository implements AlertRepository.
type alertRepository struct {
	db *gorm.DB
}

func (r *alertRepository) Create(ctx context.Context, a *entities.Alert) error {
	if err := r.db.WithContext(ctx).Omit("Transformer").Create(a).Error; err != nil {
		return translate(err, nil)
	}
	if a.TransformerID != nil && a.Transformer == nil {
		var t entities.Transformer
		if err := r.db.WithContext(ctx).Where("id = ?", *a.TransformerID).First(&t).Error; err == nil {
			a.Transformer = &t
		}
	}
	return nil
}

func (r *alertRepository) GetByID(ctx context.Context, id string) (*entities.Alert, error) {
	var a entities.Alert
	if err := r.db.WithContext(ctx).Preload("Transformer").Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err, ErrAlertNotFound)
	}
	return &a, nil
}

func (r *alertRepository) List(ctx context.Context) ([]entities.Alert, error) {
	var list []entities.Alert
	err := r.db.WithContext(ctx).Preload("Transformer").Order("created_at DESC").Find(&list).Error
	return list, translate(err, nil)
}

func (r *alertRepository) MarkRead(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&entities.Alert{}).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return translate(res.Error, nil)
	}
	if res.RowsAffected == 0 {
		return ErrAlertNotFound
	}
	return nil
}

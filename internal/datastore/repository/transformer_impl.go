package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// transformerRepository implements TransformerRepository.
type transformerRepository struct {
	db *gorm.DB
}

func (r *transformerRepository) Create(ctx context.Context, t *entities.Transformer) error {
	return translate(r.db.WithContext(ctx).Create(t).Error, nil)
}

func (r *transformerRepository) GetByID(ctx context.Context, id string) (*entities.Transformer, error) {
	var t entities.Transformer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		return nil, translate(err, ErrTransformerNotFound)
	}
	return &t, nil
}

func (r *transformerRepository) List(ctx context.Context) ([]entities.Transformer, error) {
	var list []entities.Transformer
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&list).Error
	return list, translate(err, nil)
}

func (r *transformerRepository) Save(ctx context.Context, t *entities.Transformer) error {
	return translate(r.db.WithContext(ctx).Save(t).Error, nil)
}

// Delete removes dependents explicitly as well, since SQLite databases
// created without foreign keys enabled carry no cascade.
func (r *transformerRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inspectionIDs []string
		if err := tx.Model(&entities.Inspection{}).Where("transformer_id = ?", id).Pluck("id", &inspectionIDs).Error; err != nil {
			return translate(err, nil)
		}
		if err := deleteInspectionsCascade(tx, inspectionIDs); err != nil {
			return err
		}
		if err := tx.Where("transformer_id = ?", id).Delete(&entities.Alert{}).Error; err != nil {
			return translate(err, nil)
		}
		res := tx.Where("id = ?", id).Delete(&entities.Transformer{})
		if res.Error != nil {
			return translate(res.Error, nil)
		}
		if res.RowsAffected == 0 {
			return ErrTransformerNotFound
		}
		return nil
	})
}

func (r *transformerRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.Transformer{}).Count(&n).Error
	return n, translate(err, nil)
}

package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/gridlens/gridlens/internal/datastore/entities"
)

// trainingJobRepository implements TrainingJobRepository.
type trainingJobRepository struct {
	db *gorm.DB
}

func (r *trainingJobRepository) Create(ctx context.Context, j *entities.TrainingJob) error {
	return translate(r.db.WithContext(ctx).Create(j).Error, nil)
}

func (r *trainingJobRepository) GetByID(ctx context.Context, id string) (*entities.TrainingJob, error) {
	var j entities.TrainingJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, translate(err, ErrTrainingJobNotFound)
	}
	return &j, nil
}

func (r *trainingJobRepository) Save(ctx context.Context, j *entities.TrainingJob) error {
	return translate(r.db.WithContext(ctx).Save(j).Error, nil)
}

func (r *trainingJobRepository) ListByStatus(ctx context.Context, status string) ([]entities.TrainingJob, error) {
	var list []entities.TrainingJob
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC").Find(&list).Error
	return list, translate(err, nil)
}

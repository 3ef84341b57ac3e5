package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store bundles the repositories that share one database handle. A Store
// created inside Transaction runs every call in that transaction.
type Store struct {
	db *gorm.DB

	Transformers  TransformerRepository
	Inspections   InspectionRepository
	ThermalImages ThermalImageRepository
	Annotations   AnnotationRepository
	FeedbackLogs  FeedbackLogRepository
	Alerts        AlertRepository
	TrainingJobs  TrainingJobRepository
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Transformers:  &transformerRepository{db: db},
		Inspections:   &inspectionRepository{db: db},
		ThermalImages: &thermalImageRepository{db: db},
		Annotations:   &annotationRepository{db: db},
		FeedbackLogs:  &feedbackLogRepository{db: db},
		Alerts:        &alertRepository{db: db},
		TrainingJobs:  &trainingJobRepository{db: db},
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to a new transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return translate(err, err)
	}
	return translate(sqlDB.PingContext(ctx), nil)
}

package entities

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Training job states.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobSuccess = "success"
	JobError   = "error"
)

// TrainingJob tracks one queued dataset-version generation and training run.
type TrainingJob struct {
	ID               string         `gorm:"primaryKey;size:36" json:"job_id"`
	Status           string         `gorm:"size:20;not null;index" json:"status"`
	Version          *int           `json:"version,omitempty"`
	Workspace        string         `gorm:"size:100" json:"workspace,omitempty"`
	Project          string         `gorm:"size:200" json:"project,omitempty"`
	GeneratedVersion string         `gorm:"size:50" json:"generated_version,omitempty"`
	Result           datatypes.JSON `json:"result,omitempty"`
	Message          string         `gorm:"type:text" json:"message,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (TrainingJob) TableName() string {
	return "training_jobs"
}

// BeforeCreate assigns an ID when none is set.
func (j *TrainingJob) BeforeCreate(*gorm.DB) error {
	if j.ID == "" {
		j.ID = newID()
	}
	return nil
}

// Finished reports whether the job reached a terminal state.
func (j *TrainingJob) Finished() bool {
	return j.Status == JobSuccess || j.Status == JobError
}

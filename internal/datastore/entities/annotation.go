package entities

import (
	"time"

	"gorm.io/gorm"
)

// Annotation lineage tags.
const (
	AnnotationAIDetected  = "ai_detected"
	AnnotationUserAdded   = "user_added"
	AnnotationUserEdited  = "user_edited"
	AnnotationUserDeleted = "user_deleted"
)

// Annotation is one bounding box on a thermal image, either produced by the
// model or entered by an inspector. Deleted annotations are flagged, never
// purged, so they remain available for training history.
type Annotation struct {
	ID             string  `gorm:"primaryKey;size:36"`
	ThermalImageID string  `gorm:"size:36;not null;index:idx_annotation_image_detection,priority:1"`
	TransformerID  *string `gorm:"size:36;index"`
	DetectionID    string  `gorm:"size:100;not null;index:idx_annotation_image_detection,priority:2"`
	AnnotationType string  `gorm:"size:20;not null;index"`
	DetectionClass string  `gorm:"size:100;not null"`
	Confidence     float64 `gorm:"not null"`
	X              float64 `gorm:"not null"`
	Y              float64 `gorm:"not null"`
	Width          float64 `gorm:"not null"`
	Height         float64 `gorm:"not null"`
	Comments       *string `gorm:"type:text"`
	IsDeleted      bool    `gorm:"not null;index"`

	CreatedBy  string     `gorm:"size:100;not null"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index"`
	ModifiedBy *string    `gorm:"size:100"`
	ModifiedAt *time.Time

	ThermalImage *ThermalImage `gorm:"foreignKey:ThermalImageID"`
}

// TableName returns the table name for GORM.
func (Annotation) TableName() string {
	return "annotations"
}

// BeforeCreate assigns an ID and seeds the modification audit fields from
// the creation ones.
func (a *Annotation) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.ModifiedAt == nil {
		at := a.CreatedAt
		a.ModifiedAt = &at
	}
	if a.ModifiedBy == nil {
		by := a.CreatedBy
		a.ModifiedBy = &by
	}
	return nil
}

// BeforeUpdate stamps the modification time.
func (a *Annotation) BeforeUpdate(*gorm.DB) error {
	now := time.Now()
	a.ModifiedAt = &now
	return nil
}

// IsUserCorrection reports whether the annotation carries a user decision.
func (a *Annotation) IsUserCorrection() bool {
	switch a.AnnotationType {
	case AnnotationUserAdded, AnnotationUserEdited, AnnotationUserDeleted:
		return true
	}
	return false
}

package entities

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Feedback types.
const (
	FeedbackAddition   = "addition"
	FeedbackCorrection = "correction"
	FeedbackDeletion   = "deletion"
	FeedbackNoChange   = "no_change"
)

// Annotator defaults for logs without an identified user.
const (
	DefaultAnnotatorID   = "system"
	DefaultAnnotatorName = "System User"
	DefaultAnnotatorRole = "inspector"
)

// FeedbackLog pairs the model's prediction with the inspector's final
// annotation. Sync keeps at most one synthesized log per annotation;
// manual logs are added alongside it.
type FeedbackLog struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	ThermalImageID  string         `gorm:"size:36;not null;index" json:"thermalImageId"`
	AnnotationID    *string        `gorm:"size:36;index:idx_feedback_logs_annotation" json:"annotationId"`
	AIPrediction    datatypes.JSON `gorm:"column:ai_prediction" json:"aiPrediction"`
	FinalAnnotation datatypes.JSON `gorm:"column:final_annotation" json:"finalAnnotation"`
	FeedbackType    string         `gorm:"size:20;not null;index" json:"feedbackType"`
	AnnotatorID     string         `gorm:"size:100;index" json:"annotatorId"`
	AnnotatorName   string         `gorm:"size:200" json:"annotatorName"`
	AnnotatorRole   string         `gorm:"size:50" json:"annotatorRole"`
	Comments        *string        `gorm:"type:text" json:"comments"`
	Manual          bool           `gorm:"not null;default:false" json:"manual"`
	UsedForTraining bool           `gorm:"not null;index" json:"usedForTraining"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"createdAt"`
	ExportedAt      *time.Time     `json:"exportedAt"`

	ThermalImage *ThermalImage `gorm:"foreignKey:ThermalImageID;constraint:OnDelete:CASCADE" json:"-"`
	Annotation   *Annotation   `gorm:"foreignKey:AnnotationID;constraint:OnDelete:SET NULL" json:"-"`
}

// TableName returns the table name for GORM.
func (FeedbackLog) TableName() string {
	return "feedback_logs"
}

// BeforeCreate assigns an ID and fills annotator defaults.
func (f *FeedbackLog) BeforeCreate(*gorm.DB) error {
	if f.ID == "" {
		f.ID = newID()
	}
	if f.AnnotatorID == "" {
		f.AnnotatorID = DefaultAnnotatorID
	}
	if f.AnnotatorName == "" {
		f.AnnotatorName = DefaultAnnotatorName
	}
	if f.AnnotatorRole == "" {
		f.AnnotatorRole = DefaultAnnotatorRole
	}
	return nil
}

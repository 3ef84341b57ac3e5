package entities

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Image types.
const (
	ImageTypeBaseline    = "Baseline"
	ImageTypeMaintenance = "Maintenance"
)

// ThermalImage is an uploaded thermal photograph of a transformer.
type ThermalImage struct {
	ID                 string   `gorm:"primaryKey;size:36" json:"id"`
	InspectionID       *string  `gorm:"size:36;index" json:"-"`
	ImageURL           string   `gorm:"column:image_url;size:1024;not null" json:"imageUrl"`
	ImageType          string   `gorm:"size:50;not null;index" json:"imageType"`
	WeatherCondition   string   `gorm:"size:50" json:"weatherCondition"`
	TemperatureReading *float64 `gorm:"type:decimal(8,2)" json:"temperatureReading"`
	AnomalyDetected    *bool    `json:"anomalyDetected"`
	// DetectionData holds the raw prediction list returned by the inference
	// workflow. Annotations are authoritative; this is kept for feedback
	// synthesis and older clients.
	DetectionData string    `gorm:"type:text" json:"detectionData"`
	UploadedAt    time.Time `gorm:"autoCreateTime" json:"uploadedAt"`

	Inspection  *Inspection  `gorm:"foreignKey:InspectionID" json:"inspection"`
	Annotations []Annotation `gorm:"foreignKey:ThermalImageID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (ThermalImage) TableName() string {
	return "thermal_images"
}

// BeforeCreate assigns an ID when none is set.
func (t *ThermalImage) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}

// IsMaintenance reports whether the image is a maintenance capture, the only
// kind sent for anomaly detection.
func (t *ThermalImage) IsMaintenance() bool {
	return strings.EqualFold(t.ImageType, ImageTypeMaintenance)
}

// TransformerID resolves the owning transformer through the preloaded
// inspection, or nil.
func (t *ThermalImage) TransformerID() *string {
	if t.Inspection == nil {
		return nil
	}
	if t.Inspection.TransformerID != nil {
		return t.Inspection.TransformerID
	}
	if t.Inspection.Transformer != nil {
		return &t.Inspection.Transformer.ID
	}
	return nil
}

package entities

import (
	"time"

	"gorm.io/gorm"
)

// Alert severities raised by anomaly detection.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// AlertTypeThermalAnomaly is raised when inference finds anomalies.
const AlertTypeThermalAnomaly = "thermal_anomaly"

// Alert is a notice shown on the dashboard for a transformer.
type Alert struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	TransformerID *string   `gorm:"size:36;index" json:"-"`
	AlertType     string    `gorm:"size:50;not null" json:"alertType"`
	Message       string    `gorm:"type:text;not null" json:"message"`
	Severity      string    `gorm:"size:20" json:"severity"`
	IsRead        bool      `gorm:"not null" json:"isRead"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"createdAt"`

	Transformer *Transformer `gorm:"foreignKey:TransformerID;constraint:OnDelete:CASCADE" json:"transformer"`
}

// TableName returns the table name for GORM.
func (Alert) TableName() string {
	return "alerts"
}

// BeforeCreate assigns an ID when none is set.
func (a *Alert) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = newID()
	}
	return nil
}

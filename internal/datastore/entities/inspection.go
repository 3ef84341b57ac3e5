package entities

import (
	"time"

	"gorm.io/gorm"
)

// Inspection is a field visit to a transformer. It is serialized with its
// transformer embedded.
type Inspection struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	InspectionNo     string     `gorm:"size:100;not null;uniqueIndex" json:"inspectionNo"`
	TransformerID    *string    `gorm:"size:36;index" json:"-"`
	InspectedDate    time.Time  `gorm:"not null" json:"inspectedDate"`
	MaintenanceDate  *time.Time `json:"maintenanceDate"`
	Status           string     `gorm:"size:50" json:"status"`
	InspectedBy      string     `gorm:"size:100" json:"inspectedBy"`
	WeatherCondition string     `gorm:"size:50" json:"weatherCondition"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`

	Transformer   *Transformer   `gorm:"foreignKey:TransformerID" json:"transformer"`
	ThermalImages []ThermalImage `gorm:"foreignKey:InspectionID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (Inspection) TableName() string {
	return "inspections"
}

// BeforeCreate assigns an ID when none is set.
func (i *Inspection) BeforeCreate(*gorm.DB) error {
	if i.ID == "" {
		i.ID = newID()
	}
	return nil
}

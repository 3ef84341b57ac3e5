package entities

import (
	"time"

	"gorm.io/gorm"
)

// Weather conditions used for baseline images.
const (
	WeatherSunny  = "sunny"
	WeatherCloudy = "cloudy"
	WeatherRainy  = "rainy"
)

// Transformer is a distribution transformer under inspection.
type Transformer struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	TransformerNo   string     `gorm:"size:100;not null;uniqueIndex" json:"transformerNo"`
	PoleNo          string     `gorm:"size:100" json:"poleNo"`
	Region          string     `gorm:"size:100;index" json:"region"`
	Type            string     `gorm:"size:100;not null" json:"type"`
	LocationDetails string     `gorm:"type:text" json:"locationDetails"`
	Capacity        *float64   `gorm:"type:decimal(12,2)" json:"capacity"`
	NoOfFeeders     *int       `json:"noOfFeeders"`
	Status          string     `gorm:"size:50" json:"status"`
	LastInspected   *time.Time `json:"lastInspected"`

	SunnyBaselineImageURL  *string `gorm:"column:sunny_baseline_image_url" json:"sunnyBaselineImageUrl"`
	CloudyBaselineImageURL *string `gorm:"column:cloudy_baseline_image_url" json:"cloudyBaselineImageUrl"`
	RainyBaselineImageURL  *string `gorm:"column:rainy_baseline_image_url" json:"rainyBaselineImageUrl"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Inspections []Inspection `gorm:"foreignKey:TransformerID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (Transformer) TableName() string {
	return "transformers"
}

// BeforeCreate assigns an ID when none is set.
func (t *Transformer) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}

// BaselineURL returns the baseline image URL for a weather condition.
func (t *Transformer) BaselineURL(weather string) *string {
	switch weather {
	case WeatherSunny:
		return t.SunnyBaselineImageURL
	case WeatherCloudy:
		return t.CloudyBaselineImageURL
	case WeatherRainy:
		return t.RainyBaselineImageURL
	}
	return nil
}

// SetBaselineURL stores url for the weather condition. It reports false for
// an unknown condition.
func (t *Transformer) SetBaselineURL(weather, url string) bool {
	switch weather {
	case WeatherSunny:
		t.SunnyBaselineImageURL = &url
	case WeatherCloudy:
		t.CloudyBaselineImageURL = &url
	case WeatherRainy:
		t.RainyBaselineImageURL = &url
	default:
		return false
	}
	return true
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// WeatherRecord is one stored observation. NormalizedCity is the lookup key;
// DisplayCity is the place name the provider resolved the query to.
type WeatherRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	NormalizedCity string    `gorm:"not null;index:idx_city_observed,priority:1" json:"searchCity"`
	DisplayCity    string    `gorm:"not null" json:"city"`
	TemperatureC   float64   `gorm:"not null" json:"temperature"`
	Condition      string    `gorm:"not null" json:"condition"`
	ObservedAt     time.Time `gorm:"not null;index:idx_city_observed,priority:2" json:"date"`
}

// TableName pins the table name independent of gorm's pluralization.
func (WeatherRecord) TableName() string {
	return "weather_records"
}

// Observation is the provider payload after mapping, before it becomes a record.
type Observation struct {
	City         string
	TemperatureC float64
	Condition    string
}

package model

import "time"

// Device represents a GPS tracker unit installed in a fleet vehicle.
type Device struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:256;not null" json:"name"`
	UniqueID     string    `gorm:"uniqueIndex;size:64;not null" json:"unique_id"` // tracker identifier (IMEI)
	Plate        string    `gorm:"size:32" json:"plate"`
	UsageControl bool      `gorm:"not null;default:false" json:"usage_control"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Associations
	Assignments []Assignment `gorm:"foreignKey:DeviceID" json:"-"`
}

package model

import "time"

// Driver represents a fleet driver who can be bound to a device by an assignment.
type Driver struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	UniqueID  string    `gorm:"uniqueIndex;size:64" json:"unique_id"` // ibutton / RFID key
	Phone     string    `gorm:"size:32" json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Assignments []Assignment `gorm:"foreignKey:DriverID" json:"-"`
}

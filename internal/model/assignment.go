package model

import (
	"time"

	"gorm.io/datatypes"
)

// Assignment binds a shift definition to a (device, driver) pair for one or
// more calendar dates. Stale assignments (all dates in the past) are kept for
// audit and never auto-deleted.
type Assignment struct {
	ID       int64 `gorm:"primaryKey" json:"id"`
	DeviceID int64 `gorm:"index;not null" json:"device_id"`
	DriverID int64 `gorm:"index;not null" json:"driver_id"`
	ShiftID  int64 `gorm:"index;not null" json:"shift_id"`

	// ISO YYYY-MM-DD dates, ascending, interpreted in the evaluator's
	// canonical zone.
	Dates datatypes.JSONSlice[string] `json:"dates"`

	// Extend is a one-shot operator override for the current occurrence:
	// ExtendTime is an absolute HH:MM end-of-day time superseding the
	// grace window.
	IsExtended bool   `gorm:"not null;default:false" json:"is_extended"`
	ExtendTime string `gorm:"size:5" json:"extend_time,omitempty"`

	// Command resend accounting, updated by the dispatch worker.
	ResendCount  int        `gorm:"not null;default:0" json:"resend_count"`
	LastResendAt *time.Time `json:"last_resend_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Device *Device          `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"device,omitempty"`
	Driver *Driver          `gorm:"foreignKey:DriverID" json:"driver,omitempty"`
	Shift  *ShiftDefinition `gorm:"foreignKey:ShiftID" json:"shift,omitempty"`
}

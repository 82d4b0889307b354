package model

import (
	"time"

	"gorm.io/datatypes"
)

// ShiftDefinition is a named, recurring time-of-day window during which
// device usage is permitted. Times are stored as HH:MM strings for minute
// precision; EndTime earlier than StartTime means the window crosses midnight.
type ShiftDefinition struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"uniqueIndex;size:128;not null" json:"name"`
	StartTime string `gorm:"size:5;not null" json:"start_time"`
	EndTime   string `gorm:"size:5;not null" json:"end_time"`

	// Weekdays the shift recurs on (time.Weekday values, 0 = Sunday).
	// Empty means any weekday.
	RecurrenceDays datatypes.JSONSlice[int] `json:"recurrence_days"`

	// Minutes past EndTime during which usage is still tolerated.
	GraceMinutes int `gorm:"not null;default:0" json:"grace_minutes"`

	// Offsets in seconds around the window start bounding the queued
	// command window: enable commands may be queued QueueStartsIn seconds
	// before the window opens and are resent until QueueEndsIn seconds
	// after the triggering transition.
	QueueStartsIn int `gorm:"not null;default:0" json:"queue_starts_in"`
	QueueEndsIn   int `gorm:"not null;default:0" json:"queue_ends_in"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Associations
	Assignments []Assignment `gorm:"foreignKey:ShiftID" json:"-"`
}

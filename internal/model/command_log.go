package model

import "time"

// CommandStatus tracks the delivery state of a device command.
type CommandStatus string

const (
	CommandStatusPending CommandStatus = "PENDING"
	CommandStatusSent    CommandStatus = "SENT"
	CommandStatusFailed  CommandStatus = "FAILED"
)

// CommandType identifies the device-facing command issued on a decision flip.
type CommandType string

const (
	CommandEngineResume CommandType = "engineResume"
	CommandEngineStop   CommandType = "engineStop"
)

// CommandLog records every command handed to the dispatch worker and its
// delivery outcome.
type CommandLog struct {
	ID           int64         `gorm:"primaryKey" json:"id"`
	DeviceID     int64         `gorm:"index;not null" json:"device_id"`
	AssignmentID *int64        `json:"assignment_id,omitempty"`
	Type         CommandType   `gorm:"size:32;not null" json:"type"`
	Reason       string        `gorm:"size:32" json:"reason"`
	Status       CommandStatus `gorm:"size:16;not null;default:'PENDING'" json:"status"`
	Attempts     int           `gorm:"not null;default:0" json:"attempts"`
	LastError    string        `gorm:"type:text" json:"last_error,omitempty"`
	QueuedAt     time.Time     `gorm:"not null" json:"queued_at"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	CreatedAt    time.Time     `json:"-"`
	UpdatedAt    time.Time     `json:"-"`
}

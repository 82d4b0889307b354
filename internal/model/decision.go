package model

import "time"

// DecisionOpen holds the usage decision currently in force for a device
// (hot table). EvaluatedAt marks the start of the period the decision has
// been holding for; the row is rewritten only when the decision changes.
type DecisionOpen struct {
	DeviceID     int64      `gorm:"primaryKey" json:"device_id"`
	EvaluatedAt  time.Time  `gorm:"not null" json:"evaluated_at"`
	Allow        bool       `gorm:"not null" json:"allow"`
	Reason       string     `gorm:"size:32;not null" json:"reason"`
	AssignmentID *int64     `json:"assignment_id,omitempty"`
	WindowEnd    *time.Time `json:"window_end,omitempty"` // effective end incl. grace/extend
}

// DecisionHistory is the append-only audit log of superseded usage
// decisions (cold table).
type DecisionHistory struct {
	ID           int64     `gorm:"autoIncrement" json:"-"`
	DeviceID     int64     `gorm:"not null;index;primaryKey" json:"device_id"`
	ObservedAt   time.Time `gorm:"not null;index;primaryKey" json:"observed_at"` // when the decision stopped holding
	Allow        bool      `gorm:"not null" json:"allow"`
	Reason       string    `gorm:"size:32;not null" json:"reason"`
	AssignmentID *int64    `json:"assignment_id,omitempty"`
	PeriodStart  time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd    time.Time `gorm:"not null" json:"period_end"`
}

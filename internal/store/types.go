package store

import "time"

// Reason explains a usage decision.
type Reason string

const (
	ReasonWithinShift  Reason = "within_shift"
	ReasonGracePeriod  Reason = "grace_period"
	ReasonExtended     Reason = "extended"
	ReasonNoAssignment Reason = "no_assignment"
	ReasonOutsideShift Reason = "outside_shift"
)

// UsageDecision is the allow/deny verdict for a device at one instant. It is
// derived, never stored directly; ApplyDecisions persists only transitions.
type UsageDecision struct {
	DeviceID     int64      `json:"device_id"`
	Allow        bool       `json:"allow"`
	Reason       Reason     `json:"reason"`
	AssignmentID *int64     `json:"assignment_id,omitempty"`
	EvaluatedAt  time.Time  `json:"evaluated_at"`
	WindowEnd    *time.Time `json:"window_end,omitempty"`
}

// DecisionFlip reports a device whose allow bit changed during
// ApplyDecisions. Flips feed the command dispatch and notification pipelines.
type DecisionFlip struct {
	DeviceID     int64
	Allow        bool
	Reason       Reason
	AssignmentID *int64
}

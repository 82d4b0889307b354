package usage

import (
	"time"

	"fleet-usage-backend/internal/model"
	"fleet-usage-backend/internal/schedule"
	"fleet-usage-backend/internal/store"
)

// Controller derives allow/deny usage decisions for devices from their shift
// assignments. It is a pure read: dispatching the decision as a device
// command belongs to the dispatch worker.
type Controller struct {
	loc *time.Location
}

// NewController creates a controller evaluating in the given canonical zone.
func NewController(loc *time.Location) *Controller {
	if loc == nil {
		loc = time.UTC
	}
	return &Controller{loc: loc}
}

// Decide computes the usage decision for a device at now. Assignments must
// carry their Shift definitions preloaded; entries without one are skipped.
// At most one assignment can be current per the assign-time overlap check;
// should legacy data violate that, the earliest-listed match wins.
func (c *Controller) Decide(deviceID int64, assignments []model.Assignment, now time.Time) store.UsageDecision {
	now = now.In(c.loc)
	decision := store.UsageDecision{
		DeviceID:    deviceID,
		Allow:       false,
		Reason:      store.ReasonNoAssignment,
		EvaluatedAt: now,
	}

	today := now.Format("2006-01-02")
	forToday := false
	for i := range assignments {
		a := &assignments[i]
		if a.Shift == nil {
			continue
		}
		if containsDate(a.Dates, today) {
			forToday = true
		}
		ev := schedule.Evaluate(a, a.Shift, now)
		if !ev.State.Current() {
			continue
		}
		id := a.ID
		end := ev.EffectiveEnd
		decision.Allow = true
		decision.Reason = reasonFor(ev.State)
		decision.AssignmentID = &id
		decision.WindowEnd = &end
		return decision
	}

	if forToday {
		decision.Reason = store.ReasonOutsideShift
	}
	return decision
}

func reasonFor(state schedule.WindowState) store.Reason {
	switch state {
	case schedule.StateGrace:
		return store.ReasonGracePeriod
	case schedule.StateExtended:
		return store.ReasonExtended
	default:
		return store.ReasonWithinShift
	}
}

func containsDate(dates []string, day string) bool {
	for _, d := range dates {
		if d == day {
			return true
		}
	}
	return false
}

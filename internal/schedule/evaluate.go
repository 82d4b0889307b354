package schedule

import (
	"time"

	"fleet-usage-backend/internal/model"
)

// WindowState classifies where an assignment occurrence stands relative to
// the current instant.
type WindowState string

const (
	StatePending  WindowState = "pending"
	StateActive   WindowState = "active"
	StateGrace    WindowState = "grace"
	StateExtended WindowState = "extended"
	StateExpired  WindowState = "expired"
)

// Current reports whether the state permits device usage right now.
func (s WindowState) Current() bool {
	return s == StateActive || s == StateGrace || s == StateExtended
}

// Evaluation is the derived view of one assignment at a single instant.
// It is never persisted; callers recompute it on every tick.
type Evaluation struct {
	State         WindowState   `json:"state"`
	WindowStart   time.Time     `json:"window_start,omitzero"`
	WindowEnd     time.Time     `json:"window_end,omitzero"`
	EffectiveEnd  time.Time     `json:"effective_end,omitzero"` // window end plus grace, or the extend override
	TimeToStart   time.Duration `json:"time_to_start,omitempty"`
	TimeRemaining time.Duration `json:"time_remaining,omitempty"`
}

// Window computes the absolute usage window of def anchored on the calendar
// day. An end time at or before the start time pushes the window end to the
// next calendar day.
func Window(def *model.ShiftDefinition, day time.Time) (start, end time.Time, err error) {
	st, err := ParseTimeOfDay(def.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	et, err := ParseTimeOfDay(def.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = st.At(day)
	end = et.At(day)
	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}
	return start, end, nil
}

// Evaluate computes the window state of the assignment under def at now.
// All arithmetic happens in now's location, which callers fix to the one
// canonical evaluation zone. Malformed shift or date data never raises here:
// occurrences that cannot be interpreted are skipped, and an assignment with
// no interpretable occurrence evaluates to Expired.
//
// Bounds are inclusive on both ends: now == window start and now == window
// end are both Active. Past the window end, an explicit extend supersedes
// the grace tail entirely; otherwise grace governs.
func Evaluate(a *model.Assignment, def *model.ShiftDefinition, now time.Time) Evaluation {
	loc := now.Location()
	grace := time.Duration(def.GraceMinutes) * time.Minute

	var pending *Evaluation
	for _, ds := range a.Dates {
		day, err := ParseDate(ds, loc)
		if err != nil {
			continue
		}
		start, end, err := Window(def, day)
		if err != nil {
			continue
		}

		eff := end.Add(grace)
		extended := false
		if a.IsExtended && a.ExtendTime != "" {
			if ext, err := ParseTimeOfDay(a.ExtendTime); err == nil {
				extEnd := ext.At(day)
				if !extEnd.After(start) {
					extEnd = extEnd.Add(24 * time.Hour)
				}
				eff = extEnd
				extended = true
			}
		}

		if now.Before(start) {
			if pending == nil || start.Before(pending.WindowStart) {
				pending = &Evaluation{
					State:        StatePending,
					WindowStart:  start,
					WindowEnd:    end,
					EffectiveEnd: eff,
					TimeToStart:  start.Sub(now),
				}
			}
			continue
		}

		tail := end
		if eff.After(tail) {
			tail = eff
		}
		if now.After(tail) {
			continue
		}

		ev := Evaluation{WindowStart: start, WindowEnd: end, EffectiveEnd: eff}
		switch {
		case !now.After(end):
			ev.State = StateActive
			ev.TimeRemaining = end.Sub(now)
		case extended:
			ev.State = StateExtended
			ev.TimeRemaining = eff.Sub(now)
		default:
			ev.State = StateGrace
			ev.TimeRemaining = eff.Sub(now)
		}
		return ev
	}

	if pending != nil {
		return *pending
	}
	return Evaluation{State: StateExpired}
}

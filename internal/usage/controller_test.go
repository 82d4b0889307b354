package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-usage-backend/internal/model"
	"fleet-usage-backend/internal/store"
)

func TestControllerDecide(t *testing.T) {
	loc := time.UTC
	ctrl := NewController(loc)

	def := &model.ShiftDefinition{ID: 1, StartTime: "09:00", EndTime: "17:00", GraceMinutes: 15}
	assignment := func(id int64, dates ...string) model.Assignment {
		return model.Assignment{ID: id, DeviceID: 7, ShiftID: def.ID, Dates: dates, Shift: def}
	}

	testCases := []struct {
		name        string
		assignments []model.Assignment
		now         time.Time
		wantAllow   bool
		wantReason  store.Reason
	}{
		{
			name:       "no assignments at all",
			now:        time.Date(2025, 3, 10, 12, 0, 0, 0, loc),
			wantAllow:  false,
			wantReason: store.ReasonNoAssignment,
		},
		{
			name:        "assignment for another day",
			assignments: []model.Assignment{assignment(1, "2025-03-20")},
			now:         time.Date(2025, 3, 10, 12, 0, 0, 0, loc),
			wantAllow:   false,
			wantReason:  store.ReasonNoAssignment,
		},
		{
			name:        "assigned today but before the window",
			assignments: []model.Assignment{assignment(1, "2025-03-10")},
			now:         time.Date(2025, 3, 10, 7, 0, 0, 0, loc),
			wantAllow:   false,
			wantReason:  store.ReasonOutsideShift,
		},
		{
			name:        "within the window",
			assignments: []model.Assignment{assignment(1, "2025-03-10")},
			now:         time.Date(2025, 3, 10, 12, 0, 0, 0, loc),
			wantAllow:   true,
			wantReason:  store.ReasonWithinShift,
		},
		{
			name:        "in the grace tail",
			assignments: []model.Assignment{assignment(1, "2025-03-10")},
			now:         time.Date(2025, 3, 10, 17, 10, 0, 0, loc),
			wantAllow:   true,
			wantReason:  store.ReasonGracePeriod,
		},
		{
			name:        "assigned today, past grace",
			assignments: []model.Assignment{assignment(1, "2025-03-10")},
			now:         time.Date(2025, 3, 10, 17, 20, 0, 0, loc),
			wantAllow:   false,
			wantReason:  store.ReasonOutsideShift,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := ctrl.Decide(7, tc.assignments, tc.now)
			assert.Equal(t, int64(7), d.DeviceID)
			assert.Equal(t, tc.wantAllow, d.Allow)
			assert.Equal(t, tc.wantReason, d.Reason)
			if tc.wantAllow {
				require.NotNil(t, d.AssignmentID)
				assert.Equal(t, tc.assignments[0].ID, *d.AssignmentID)
				assert.NotNil(t, d.WindowEnd)
			} else {
				assert.Nil(t, d.AssignmentID)
			}
		})
	}
}

func TestControllerDecideExtended(t *testing.T) {
	loc := time.UTC
	ctrl := NewController(loc)
	def := &model.ShiftDefinition{ID: 1, StartTime: "09:00", EndTime: "17:00", GraceMinutes: 15}

	a := model.Assignment{
		ID: 3, DeviceID: 7, ShiftID: def.ID, Shift: def,
		Dates:      []string{"2025-03-10"},
		IsExtended: true, ExtendTime: "18:00",
	}

	d := ctrl.Decide(7, []model.Assignment{a}, time.Date(2025, 3, 10, 17, 45, 0, 0, loc))
	assert.True(t, d.Allow)
	assert.Equal(t, store.ReasonExtended, d.Reason)
	require.NotNil(t, d.WindowEnd)
	assert.Equal(t, time.Date(2025, 3, 10, 18, 0, 0, 0, loc), *d.WindowEnd)
}

func TestControllerDecideMidnightCrossing(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	ctrl := NewController(loc)

	def := &model.ShiftDefinition{ID: 2, StartTime: "22:00", EndTime: "06:00", GraceMinutes: 10}
	a := model.Assignment{ID: 4, DeviceID: 9, ShiftID: def.ID, Shift: def, Dates: []string{"2025-03-10"}}

	// Two in the morning of the following calendar day is still inside the
	// window anchored on the assignment date.
	d := ctrl.Decide(9, []model.Assignment{a}, time.Date(2025, 3, 11, 2, 0, 0, 0, loc))
	assert.True(t, d.Allow)
	assert.Equal(t, store.ReasonWithinShift, d.Reason)
}

func TestControllerSkipsAssignmentsWithoutShift(t *testing.T) {
	ctrl := NewController(time.UTC)
	a := model.Assignment{ID: 5, DeviceID: 7, Dates: []string{"2025-03-10"}}

	d := ctrl.Decide(7, []model.Assignment{a}, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	assert.False(t, d.Allow)
	assert.Equal(t, store.ReasonNoAssignment, d.Reason)
}

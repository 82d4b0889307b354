package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fleet-usage-backend/internal/model"
	"fleet-usage-backend/internal/schedule"
	"fleet-usage-backend/internal/store"
	"fleet-usage-backend/internal/usage"
)

// usageResponse is the flattened decision view for the dashboard.
type usageResponse struct {
	DeviceID             int64      `json:"device_id"`
	Allow                bool       `json:"allow"`
	Reason               string     `json:"reason"`
	EvaluatedAt          time.Time  `json:"evaluated_at"`
	AssignmentID         *int64     `json:"assignment_id,omitempty"`
	WindowEnd            *time.Time `json:"window_end,omitempty"`
	State                string     `json:"state,omitempty"`
	TimeToStartSeconds   int        `json:"time_to_start_seconds,omitempty"`
	TimeRemainingSeconds int        `json:"time_remaining_seconds,omitempty"`
}

// GetDeviceUsage handles GET /api/devices/{device_id}/usage. Without
// parameters it reports the decision currently in force plus live
// countdowns; ?at=RFC3339 serves the archived decision covering that
// instant.
func (h *Handler) GetDeviceUsage(c *gin.Context) {
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	atParam := c.Query("at")
	if atParam == "" {
		h.getCurrentUsage(c, deviceID)
	} else {
		h.getHistoricalUsage(c, deviceID, atParam)
	}
}

func (h *Handler) getCurrentUsage(c *gin.Context, deviceID int64) {
	ctx := c.Request.Context()
	now := time.Now().In(h.loc)

	resp := usageResponse{DeviceID: deviceID, EvaluatedAt: now}

	row, err := h.store.CurrentDecision(ctx, deviceID)
	switch {
	case err == nil:
		resp.Allow = row.Allow
		resp.Reason = row.Reason
		resp.EvaluatedAt = row.EvaluatedAt
		resp.AssignmentID = row.AssignmentID
		resp.WindowEnd = row.WindowEnd
	case errors.Is(err, store.ErrNotFound):
		// Device not decided yet (evaluator has not ticked, or device is
		// outside the controlled set): decide on the fly.
		assignments, aerr := h.store.ListAssignmentsForDevice(ctx, deviceID, true, now)
		if aerr != nil {
			abortStoreError(c, aerr)
			return
		}
		d := usage.NewController(h.loc).Decide(deviceID, assignments, now)
		resp.Allow = d.Allow
		resp.Reason = string(d.Reason)
		resp.AssignmentID = d.AssignmentID
		resp.WindowEnd = d.WindowEnd
	default:
		abortStoreError(c, err)
		return
	}

	// Live countdowns from the nearest relevant occurrence.
	assignments, err := h.store.ListAssignmentsForDevice(ctx, deviceID, true, now)
	if err == nil {
		if ev, ok := nearestEvaluation(assignments, now); ok {
			resp.State = string(ev.State)
			resp.TimeToStartSeconds = int(ev.TimeToStart.Seconds())
			resp.TimeRemainingSeconds = int(ev.TimeRemaining.Seconds())
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getHistoricalUsage(c *gin.Context, deviceID int64, atParam string) {
	at, err := time.Parse(time.RFC3339, atParam)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid 'at' timestamp format. Use RFC3339."})
		return
	}

	ctx := c.Request.Context()
	hist, err := h.store.DecisionAt(ctx, deviceID, at)
	if err == nil {
		c.JSON(http.StatusOK, usageResponse{
			DeviceID:     hist.DeviceID,
			Allow:        hist.Allow,
			Reason:       hist.Reason,
			EvaluatedAt:  hist.PeriodStart,
			AssignmentID: hist.AssignmentID,
		})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		abortStoreError(c, err)
		return
	}

	// The instant may fall inside the decision still in force.
	row, cerr := h.store.CurrentDecision(ctx, deviceID)
	switch {
	case cerr == nil && !row.EvaluatedAt.After(at):
		c.JSON(http.StatusOK, usageResponse{
			DeviceID:     row.DeviceID,
			Allow:        row.Allow,
			Reason:       row.Reason,
			EvaluatedAt:  row.EvaluatedAt,
			AssignmentID: row.AssignmentID,
			WindowEnd:    row.WindowEnd,
		})
	case cerr != nil && !errors.Is(cerr, store.ErrNotFound):
		// A failed fallback read is a server error, not a miss.
		abortStoreError(c, cerr)
	default:
		abortStoreError(c, err)
	}
}

// GetFleetUsage handles GET /api/usage: the open decision for every device
// under usage control.
func (h *Handler) GetFleetUsage(c *gin.Context) {
	rows, err := h.store.ListCurrentDecisions(c.Request.Context())
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// nearestEvaluation picks the evaluation worth displaying: a current window
// first, otherwise the soonest pending one.
func nearestEvaluation(assignments []model.Assignment, now time.Time) (schedule.Evaluation, bool) {
	var pending *schedule.Evaluation
	for i := range assignments {
		a := &assignments[i]
		if a.Shift == nil {
			continue
		}
		ev := schedule.Evaluate(a, a.Shift, now)
		switch {
		case ev.State.Current():
			return ev, true
		case ev.State == schedule.StatePending:
			if pending == nil || ev.WindowStart.Before(pending.WindowStart) {
				evCopy := ev
				pending = &evCopy
			}
		}
	}
	if pending != nil {
		return *pending, true
	}
	return schedule.Evaluation{}, false
}

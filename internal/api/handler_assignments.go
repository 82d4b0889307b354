package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type createAssignmentRequest struct {
	DeviceID int64    `json:"device_id" binding:"required"`
	DriverID int64    `json:"driver_id" binding:"required"`
	ShiftID  int64    `json:"shift_id" binding:"required"`
	Dates    []string `json:"dates" binding:"required"`
}

// PostAssignment handles POST /api/assignments.
func (h *Handler) PostAssignment(c *gin.Context) {
	var req createAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.store.Assign(c.Request.Context(), req.DeviceID, req.DriverID, req.ShiftID, req.Dates)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

type extendAssignmentRequest struct {
	EndTime string `json:"end_time" binding:"required"`
}

// ExtendAssignment handles POST /api/assignments/:id/extend.
func (h *Handler) ExtendAssignment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req extendAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.store.Extend(c.Request.Context(), id, req.EndTime, time.Now().In(h.loc))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// DeleteAssignment handles DELETE /api/assignments/:id.
func (h *Handler) DeleteAssignment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.RemoveAssignment(c.Request.Context(), id); err != nil {
		abortStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListDeviceAssignments handles GET /api/devices/:device_id/assignments.
// Stale assignments are kept for audit and returned with ?include_past=true.
func (h *Handler) ListDeviceAssignments(c *gin.Context) {
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}
	includePast := c.Query("include_past") == "true"
	assignments, err := h.store.ListAssignmentsForDevice(c.Request.Context(), deviceID, includePast, time.Now().In(h.loc))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, assignments)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleet-usage-backend/internal/model"
	"fleet-usage-backend/internal/store"
)

type createShiftRequest struct {
	Name           string `json:"name" binding:"required"`
	StartTime      string `json:"start_time" binding:"required"`
	EndTime        string `json:"end_time" binding:"required"`
	RecurrenceDays []int  `json:"recurrence_days"`
	GraceMinutes   int    `json:"grace_minutes"`
	QueueStartsIn  int    `json:"queue_starts_in"`
	QueueEndsIn    int    `json:"queue_ends_in"`
}

// CreateShift handles POST /api/shifts.
func (h *Handler) CreateShift(c *gin.Context) {
	var req createShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	def := model.ShiftDefinition{
		Name:           req.Name,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		RecurrenceDays: req.RecurrenceDays,
		GraceMinutes:   req.GraceMinutes,
		QueueStartsIn:  req.QueueStartsIn,
		QueueEndsIn:    req.QueueEndsIn,
	}
	if err := h.store.CreateShift(c.Request.Context(), &def); err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, def)
}

// ListShifts handles GET /api/shifts with an optional name substring filter.
func (h *Handler) ListShifts(c *gin.Context) {
	defs, err := h.store.ListShifts(c.Request.Context(), c.Query("name"))
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, defs)
}

// GetShift handles GET /api/shifts/:id.
func (h *Handler) GetShift(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	def, err := h.store.GetShift(c.Request.Context(), id)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

// PatchShift handles PATCH /api/shifts/:id.
func (h *Handler) PatchShift(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var patch store.ShiftPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def, err := h.store.UpdateShift(c.Request.Context(), id, patch)
	if err != nil {
		abortStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

// DeleteShift handles DELETE /api/shifts/:id. ?force=true cascades onto
// referencing assignments.
func (h *Handler) DeleteShift(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	force := c.Query("force") == "true"
	if err := h.store.DeleteShift(c.Request.Context(), id, force); err != nil {
		abortStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fleet-usage-backend/internal/model"
)

// DeviceResponse represents the API view of a single device with its
// assignment load and the decision currently in force.
type DeviceResponse struct {
	model.Device
	AssignmentCount int64   `json:"assignment_count"`
	Allow           *bool   `json:"allow,omitempty"`
	Reason          *string `json:"reason,omitempty"`
}

type createDeviceRequest struct {
	Name         string `json:"name" binding:"required"`
	UniqueID     string `json:"unique_id" binding:"required"`
	Plate        string `json:"plate"`
	UsageControl bool   `json:"usage_control"`
}

// PostDevice handles POST /api/devices.
func (h *Handler) PostDevice(c *gin.Context) {
	var req createDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	device := model.Device{
		Name:         req.Name,
		UniqueID:     req.UniqueID,
		Plate:        req.Plate,
		UsageControl: req.UsageControl,
	}
	if err := h.store.DB().WithContext(c.Request.Context()).Create(&device).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to create device"})
		return
	}
	c.JSON(http.StatusCreated, device)
}

// GetDevices handles GET /api/devices: all devices merged with their
// assignment counts and open decisions.
func (h *Handler) GetDevices(c *gin.Context) {
	db := h.store.DB().WithContext(c.Request.Context())

	var devices []model.Device
	if err := db.Order("id ASC").Find(&devices).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve devices"})
		return
	}

	type aggRow struct {
		DeviceID        int64
		AssignmentCount int64
	}
	var aggs []aggRow
	if err := db.
		Model(&model.Assignment{}).
		Select("device_id as device_id, COUNT(*) as assignment_count").
		Group("device_id").
		Scan(&aggs).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate assignments"})
		return
	}
	aggMap := make(map[int64]aggRow, len(aggs))
	for _, a := range aggs {
		aggMap[a.DeviceID] = a
	}

	var open []model.DecisionOpen
	if err := db.Find(&open).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve decisions"})
		return
	}
	decisionMap := make(map[int64]model.DecisionOpen, len(open))
	for _, d := range open {
		decisionMap[d.DeviceID] = d
	}

	responses := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		resp := DeviceResponse{Device: d, AssignmentCount: aggMap[d.ID].AssignmentCount}
		if dec, ok := decisionMap[d.ID]; ok {
			allow, reason := dec.Allow, dec.Reason
			resp.Allow = &allow
			resp.Reason = &reason
		}
		responses = append(responses, resp)
	}
	c.JSON(http.StatusOK, responses)
}

type createDriverRequest struct {
	Name     string `json:"name" binding:"required"`
	UniqueID string `json:"unique_id"`
	Phone    string `json:"phone"`
}

// PostDriver handles POST /api/drivers.
func (h *Handler) PostDriver(c *gin.Context) {
	var req createDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	driver := model.Driver{Name: req.Name, UniqueID: req.UniqueID, Phone: req.Phone}
	if err := h.store.DB().WithContext(c.Request.Context()).Create(&driver).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to create driver"})
		return
	}
	c.JSON(http.StatusCreated, driver)
}

// GetDrivers handles GET /api/drivers.
func (h *Handler) GetDrivers(c *gin.Context) {
	var drivers []model.Driver
	if err := h.store.DB().WithContext(c.Request.Context()).Order("name ASC").Find(&drivers).Error; err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve drivers"})
		return
	}
	c.JSON(http.StatusOK, drivers)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fleet-usage-backend/internal/model"
	"fleet-usage-backend/internal/store"
)

func setupAPI(t *testing.T) (*gin.Engine, store.Store, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(
		&model.Device{}, &model.Driver{}, &model.ShiftDefinition{}, &model.Assignment{},
		&model.DecisionOpen{}, &model.DecisionHistory{}, &model.CommandLog{}, &model.PushSubscription{},
	))

	s := store.NewGormStore(db, time.UTC)
	handler := NewHandler(s, nil, time.UTC)

	r := gin.New()
	api := r.Group("/api")
	{
		api.POST("/shifts", handler.CreateShift)
		api.GET("/shifts", handler.ListShifts)
		api.GET("/shifts/:id", handler.GetShift)
		api.PATCH("/shifts/:id", handler.PatchShift)
		api.DELETE("/shifts/:id", handler.DeleteShift)
		api.POST("/devices", handler.PostDevice)
		api.GET("/devices", handler.GetDevices)
		api.GET("/devices/:device_id/assignments", handler.ListDeviceAssignments)
		api.GET("/devices/:device_id/usage", handler.GetDeviceUsage)
		api.POST("/drivers", handler.PostDriver)
		api.POST("/assignments", handler.PostAssignment)
		api.POST("/assignments/:id/extend", handler.ExtendAssignment)
		api.DELETE("/assignments/:id", handler.DeleteAssignment)
		api.GET("/usage", handler.GetFleetUsage)
	}
	return r, s, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestShiftEndpoints(t *testing.T) {
	r, _, _ := setupAPI(t)

	shiftBody := gin.H{"name": "Day Shift", "start_time": "09:00", "end_time": "17:00", "grace_minutes": 15}

	t.Run("create returns 201 with the persisted definition", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/api/shifts", shiftBody)
		require.Equal(t, http.StatusCreated, w.Code)

		var def model.ShiftDefinition
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))
		assert.NotZero(t, def.ID)
		assert.Equal(t, "Day Shift", def.Name)
	})

	t.Run("duplicate name maps to 409", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/api/shifts", shiftBody)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("malformed time maps to 400", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/api/shifts", gin.H{"name": "Bad", "start_time": "9am", "end_time": "17:00"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing required field maps to 400", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/api/shifts", gin.H{"name": "Bad"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list returns the created shift", func(t *testing.T) {
		w := doJSON(t, r, "GET", "/api/shifts?name=Day", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var defs []model.ShiftDefinition
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &defs))
		require.Len(t, defs, 1)
	})

	t.Run("patch updates the named field", func(t *testing.T) {
		w := doJSON(t, r, "PATCH", "/api/shifts/1", gin.H{"end_time": "18:00"})
		require.Equal(t, http.StatusOK, w.Code)

		var def model.ShiftDefinition
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))
		assert.Equal(t, "18:00", def.EndTime)
	})

	t.Run("unknown id maps to 404", func(t *testing.T) {
		w := doJSON(t, r, "GET", "/api/shifts/999", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("junk id maps to 400", func(t *testing.T) {
		w := doJSON(t, r, "GET", "/api/shifts/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func seedAPIFleet(t *testing.T, r *gin.Engine) (deviceID, driverID int64) {
	t.Helper()
	w := doJSON(t, r, "POST", "/api/devices", gin.H{
		"name": "Truck 7", "unique_id": "860000000000007", "usage_control": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var device model.Device
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &device))

	w = doJSON(t, r, "POST", "/api/drivers", gin.H{"name": "Budi", "unique_id": "ib-0007"})
	require.Equal(t, http.StatusCreated, w.Code)
	var driver model.Driver
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &driver))

	return device.ID, driver.ID
}

func TestAssignmentEndpoints(t *testing.T) {
	r, _, _ := setupAPI(t)
	deviceID, driverID := seedAPIFleet(t, r)

	w := doJSON(t, r, "POST", "/api/shifts", gin.H{"name": "Day Shift", "start_time": "09:00", "end_time": "17:00", "grace_minutes": 15})
	require.Equal(t, http.StatusCreated, w.Code)
	var def model.ShiftDefinition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))

	var assignmentID int64

	t.Run("assign returns 201 with associations", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/api/assignments", gin.H{
			"device_id": deviceID, "driver_id": driverID, "shift_id": def.ID,
			"dates": []string{"2025-03-10"},
		})
		require.Equal(t, http.StatusCreated, w.Code)

		var a model.Assignment
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
		require.NotNil(t, a.Shift)
		assert.Equal(t, def.ID, a.Shift.ID)
		assignmentID = a.ID
	})

	t.Run("overlap maps to 409", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/api/assignments", gin.H{
			"device_id": deviceID, "driver_id": driverID, "shift_id": def.ID,
			"dates": []string{"2025-03-10"},
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown device maps to 404", func(t *testing.T) {
		w := doJSON(t, r, "POST", "/api/assignments", gin.H{
			"device_id": 999, "driver_id": driverID, "shift_id": def.ID,
			"dates": []string{"2025-03-20"},
		})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("listing device assignments includes the shift", func(t *testing.T) {
		w := doJSON(t, r, "GET", fmt.Sprintf("/api/devices/%d/assignments?include_past=true", deviceID), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var got []model.Assignment
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.NotNil(t, got[0].Shift)
	})

	t.Run("delete returns 204 then 404", func(t *testing.T) {
		w := doJSON(t, r, "DELETE", fmt.Sprintf("/api/assignments/%d", assignmentID), nil)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = doJSON(t, r, "DELETE", fmt.Sprintf("/api/assignments/%d", assignmentID), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestExtendEndpoint(t *testing.T) {
	r, s, _ := setupAPI(t)
	deviceID, driverID := seedAPIFleet(t, r)

	// An all-day shift for today keeps the occurrence current regardless of
	// when the test runs.
	today := time.Now().UTC().Format("2006-01-02")
	w := doJSON(t, r, "POST", "/api/shifts", gin.H{"name": "All Day", "start_time": "00:00", "end_time": "23:58"})
	require.Equal(t, http.StatusCreated, w.Code)
	var def model.ShiftDefinition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))

	a, err := s.Assign(context.Background(), deviceID, driverID, def.ID, []string{today})
	require.NoError(t, err)

	t.Run("extend returns the updated assignment", func(t *testing.T) {
		w := doJSON(t, r, "POST", fmt.Sprintf("/api/assignments/%d/extend", a.ID), gin.H{"end_time": "23:59"})
		require.Equal(t, http.StatusOK, w.Code)

		var got model.Assignment
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.True(t, got.IsExtended)
		assert.Equal(t, "23:59", got.ExtendTime)
	})

	t.Run("conflicting second extend maps to 422", func(t *testing.T) {
		w := doJSON(t, r, "POST", fmt.Sprintf("/api/assignments/%d/extend", a.ID), gin.H{"end_time": "22:00"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("missing body maps to 400", func(t *testing.T) {
		w := doJSON(t, r, "POST", fmt.Sprintf("/api/assignments/%d/extend", a.ID), gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUsageEndpoints(t *testing.T) {
	r, s, _ := setupAPI(t)
	deviceID, driverID := seedAPIFleet(t, r)

	t.Run("undecided device is decided on the fly", func(t *testing.T) {
		w := doJSON(t, r, "GET", fmt.Sprintf("/api/devices/%d/usage", deviceID), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp usageResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Allow)
		assert.Equal(t, string(store.ReasonNoAssignment), resp.Reason)
	})

	today := time.Now().UTC().Format("2006-01-02")
	w := doJSON(t, r, "POST", "/api/shifts", gin.H{"name": "All Day", "start_time": "00:00", "end_time": "23:59"})
	require.Equal(t, http.StatusCreated, w.Code)
	var def model.ShiftDefinition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))
	a, err := s.Assign(context.Background(), deviceID, driverID, def.ID, []string{today})
	require.NoError(t, err)

	id := a.ID
	now := time.Now().UTC()
	_, err = s.ApplyDecisions(context.Background(), now, []store.UsageDecision{
		{DeviceID: deviceID, Allow: true, Reason: store.ReasonWithinShift, AssignmentID: &id},
	})
	require.NoError(t, err)

	t.Run("decided device reports the open decision with countdowns", func(t *testing.T) {
		w := doJSON(t, r, "GET", fmt.Sprintf("/api/devices/%d/usage", deviceID), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp usageResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Allow)
		assert.Equal(t, string(store.ReasonWithinShift), resp.Reason)
		assert.Equal(t, "active", resp.State)
	})

	t.Run("fleet view lists open decisions", func(t *testing.T) {
		w := doJSON(t, r, "GET", "/api/usage", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var rows []model.DecisionOpen
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, deviceID, rows[0].DeviceID)
	})

	t.Run("malformed at parameter maps to 400", func(t *testing.T) {
		w := doJSON(t, r, "GET", fmt.Sprintf("/api/devices/%d/usage?at=yesterday", deviceID), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("instant covered by the open decision resolves historically", func(t *testing.T) {
		at := now.Add(time.Minute).Format(time.RFC3339)
		w := doJSON(t, r, "GET", fmt.Sprintf("/api/devices/%d/usage?at=%s", deviceID, at), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp usageResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Allow)
	})

	t.Run("instant before any decision maps to 404", func(t *testing.T) {
		at := now.Add(-24 * time.Hour).Format(time.RFC3339)
		w := doJSON(t, r, "GET", fmt.Sprintf("/api/devices/%d/usage?at=%s", deviceID, at), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHistoricalUsageStoreFailure(t *testing.T) {
	r, _, db := setupAPI(t)

	// When the history lookup misses and the open-decision fallback fails
	// with a real database error, the response must be 500, not 404.
	require.NoError(t, db.Exec(`DROP TABLE decision_opens`).Error)

	w := doJSON(t, r, "GET", "/api/devices/1/usage?at=2025-03-10T09:00:00Z", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetDevicesAggregates(t *testing.T) {
	r, s, _ := setupAPI(t)
	deviceID, driverID := seedAPIFleet(t, r)

	w := doJSON(t, r, "POST", "/api/shifts", gin.H{"name": "Day Shift", "start_time": "09:00", "end_time": "17:00"})
	require.Equal(t, http.StatusCreated, w.Code)
	var def model.ShiftDefinition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &def))

	_, err := s.Assign(context.Background(), deviceID, driverID, def.ID, []string{"2025-03-10"})
	require.NoError(t, err)
	_, err = s.ApplyDecisions(context.Background(), time.Now(), []store.UsageDecision{
		{DeviceID: deviceID, Allow: false, Reason: store.ReasonOutsideShift},
	})
	require.NoError(t, err)

	w = doJSON(t, r, "GET", "/api/devices", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []DeviceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].AssignmentCount)
	require.NotNil(t, got[0].Allow)
	assert.False(t, *got[0].Allow)
	require.NotNil(t, got[0].Reason)
	assert.Equal(t, string(store.ReasonOutsideShift), *got[0].Reason)
}

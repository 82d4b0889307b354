package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fleet-usage-backend/config"
	"fleet-usage-backend/internal/model"
)

// mockSender is a scriptable CommandSender: it fails the first failures
// calls, then succeeds.
type mockSender struct {
	mu       sync.Mutex
	failures int
	calls    []Command
}

func (m *mockSender) Send(ctx context.Context, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cmd)
	if len(m.calls) <= m.failures {
		return fmt.Errorf("gateway unreachable")
	}
	return nil
}

func (m *mockSender) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(&model.Assignment{}, &model.CommandLog{}))
	return db
}

func newTestPool(t *testing.T, db *gorm.DB, sender CommandSender, maxResends int) *WorkerPool {
	t.Helper()
	cfg := &config.DispatchConfig{
		WorkerPoolSize:    1,
		MaxResends:        maxResends,
		RetryDelaySeconds: 0, // retry immediately in tests
	}
	return NewWorkerPool(cfg, db, sender, zap.NewNop())
}

func TestCommandType(t *testing.T) {
	assert.Equal(t, model.CommandEngineResume, commandType(true))
	assert.Equal(t, model.CommandEngineStop, commandType(false))
}

func TestProcessSuccess(t *testing.T) {
	db := newTestDB(t)
	sender := &mockSender{}
	wp := newTestPool(t, db, sender, 3)

	wp.process(context.Background(), Job{DeviceID: 7, Allow: true, Reason: "within_shift"})

	assert.Equal(t, 1, sender.callCount())

	var row model.CommandLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, int64(7), row.DeviceID)
	assert.Equal(t, model.CommandEngineResume, row.Type)
	assert.Equal(t, model.CommandStatusSent, row.Status)
	assert.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.SentAt)
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	db := newTestDB(t)
	sender := &mockSender{failures: 2}
	wp := newTestPool(t, db, sender, 5)

	assignment := model.Assignment{DeviceID: 7, DriverID: 1, ShiftID: 1, Dates: []string{"2025-03-10"}}
	require.NoError(t, db.Create(&assignment).Error)

	wp.process(context.Background(), Job{DeviceID: 7, AssignmentID: &assignment.ID, Allow: false, Reason: "outside_shift"})

	assert.Equal(t, 3, sender.callCount())

	var row model.CommandLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, model.CommandStatusSent, row.Status)
	assert.Equal(t, 3, row.Attempts)

	var got model.Assignment
	require.NoError(t, db.First(&got, assignment.ID).Error)
	assert.Equal(t, 2, got.ResendCount, "retries are folded into the assignment's resend metadata")
	assert.NotNil(t, got.LastResendAt)
}

func TestProcessFailsAfterMaxResends(t *testing.T) {
	db := newTestDB(t)
	sender := &mockSender{failures: 100}
	wp := newTestPool(t, db, sender, 2)

	wp.process(context.Background(), Job{DeviceID: 7, Allow: false, Reason: "outside_shift"})

	assert.Equal(t, 2, sender.callCount())

	var row model.CommandLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, model.CommandStatusFailed, row.Status)
	assert.Equal(t, 2, row.Attempts)
	assert.Contains(t, row.LastError, "gateway unreachable")
}

func TestProcessStopsAtDeadline(t *testing.T) {
	db := newTestDB(t)
	sender := &mockSender{failures: 100}
	wp := newTestPool(t, db, sender, 100)

	wp.process(context.Background(), Job{
		DeviceID: 7,
		Allow:    false,
		Reason:   "outside_shift",
		Deadline: time.Now().Add(-time.Second),
	})

	// The deadline had already passed when the first attempt failed.
	assert.Equal(t, 1, sender.callCount())

	var row model.CommandLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, model.CommandStatusFailed, row.Status)
}

func TestProcessSkipsWhenCommandAlreadyPending(t *testing.T) {
	db := newTestDB(t)
	sender := &mockSender{}
	wp := newTestPool(t, db, sender, 3)

	pending := model.CommandLog{
		DeviceID: 7,
		Type:     model.CommandEngineResume,
		Status:   model.CommandStatusPending,
		QueuedAt: time.Now(),
	}
	require.NoError(t, db.Create(&pending).Error)

	wp.process(context.Background(), Job{DeviceID: 7, Allow: true, Reason: "within_shift"})

	assert.Zero(t, sender.callCount())

	var count int64
	db.Model(&model.CommandLog{}).Count(&count)
	assert.Equal(t, int64(1), count, "no second row is queued")
}

func TestProcessWaitsForNotBefore(t *testing.T) {
	db := newTestDB(t)
	sender := &mockSender{}
	wp := newTestPool(t, db, sender, 3)

	notBefore := time.Now().Add(50 * time.Millisecond)
	wp.process(context.Background(), Job{DeviceID: 7, Allow: true, Reason: "within_shift", NotBefore: notBefore})

	var row model.CommandLog
	require.NoError(t, db.First(&row).Error)
	require.NotNil(t, row.SentAt)
	assert.False(t, row.SentAt.Before(notBefore), "the command must not go out before its window opens")
}

func TestProcessAbortsNotBeforeWaitOnShutdown(t *testing.T) {
	db := newTestDB(t)
	sender := &mockSender{}
	wp := newTestPool(t, db, sender, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	wp.process(ctx, Job{DeviceID: 7, Allow: true, Reason: "within_shift", NotBefore: time.Now().Add(time.Hour)})

	assert.Zero(t, sender.callCount())

	var row model.CommandLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, model.CommandStatusPending, row.Status, "the queued row is left for inspection")
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	db := newTestDB(t)
	wp := newTestPool(t, db, &mockSender{}, 3)

	// Pool size 1 gives a buffer of 4; the fifth job is dropped rather than
	// blocking the evaluation loop.
	for i := 0; i < 5; i++ {
		wp.Dispatch(Job{DeviceID: int64(i)})
	}
	assert.Len(t, wp.Jobs(), 4)
}

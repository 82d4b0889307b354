package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"fleet-usage-backend/internal/model"
)

// Store defines the interface for all database operations owned by the
// usage-control core.
type Store interface {
	DB() *gorm.DB

	// Shift definitions.
	CreateShift(ctx context.Context, def *model.ShiftDefinition) error
	GetShift(ctx context.Context, id int64) (*model.ShiftDefinition, error)
	UpdateShift(ctx context.Context, id int64, patch ShiftPatch) (*model.ShiftDefinition, error)
	DeleteShift(ctx context.Context, id int64, force bool) error
	ListShifts(ctx context.Context, nameFilter string) ([]model.ShiftDefinition, error)

	// Assignments.
	Assign(ctx context.Context, deviceID, driverID, shiftID int64, dates []string) (*model.Assignment, error)
	Extend(ctx context.Context, assignmentID int64, newEndTime string, now time.Time) (*model.Assignment, error)
	RemoveAssignment(ctx context.Context, assignmentID int64) error
	ListAssignmentsForDevice(ctx context.Context, deviceID int64, includePast bool, asOf time.Time) ([]model.Assignment, error)

	// Devices under usage control, i.e. the evaluation set.
	ListControlledDevices(ctx context.Context) ([]model.Device, error)

	// Usage decisions.
	ApplyDecisions(ctx context.Context, now time.Time, decisions []UsageDecision) ([]DecisionFlip, error)
	CurrentDecision(ctx context.Context, deviceID int64) (*model.DecisionOpen, error)
	DecisionAt(ctx context.Context, deviceID int64, at time.Time) (*model.DecisionHistory, error)
	ListCurrentDecisions(ctx context.Context) ([]model.DecisionOpen, error)
}

// gormStore implements the Store interface using GORM. All date and
// time-of-day interpretation happens in loc, the canonical evaluation zone.
type gormStore struct {
	db  *gorm.DB
	loc *time.Location
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, loc *time.Location) Store {
	if loc == nil {
		loc = time.UTC
	}
	return &gormStore{db: db, loc: loc}
}

// DB exposes the underlying GORM handle for plain reads in the API layer.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// ListControlledDevices returns the devices the evaluation loop must decide.
func (s *gormStore) ListControlledDevices(ctx context.Context) ([]model.Device, error) {
	var devices []model.Device
	err := s.db.WithContext(ctx).Where("usage_control = ?", true).Order("id ASC").Find(&devices).Error
	return devices, err
}

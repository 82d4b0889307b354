package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleet-usage-backend/internal/model"
	"fleet-usage-backend/internal/schedule"
)

// lockForUpdate takes a row lock inside the current transaction so writers
// touching the same rows serialize instead of both passing a check-then-write.
// SQLite has no FOR UPDATE and serializes writers on its own, so the clause
// is skipped there.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// Assign creates a new device-driver-shift binding for the given calendar
// dates. The overlap check and the insert run in one transaction, with the
// device row locked as the per-device mutex, so two operators racing on the
// same device cannot both pass the overlap check.
func (s *gormStore) Assign(ctx context.Context, deviceID, driverID, shiftID int64, dates []string) (*model.Assignment, error) {
	if len(dates) == 0 {
		return nil, fmt.Errorf("%w: at least one date is required", ErrValidation)
	}
	for _, d := range dates {
		if _, err := schedule.ParseDate(d, s.loc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	dates = slices.Clone(dates)
	slices.Sort(dates)
	dates = slices.Compact(dates)

	var out *model.Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device model.Device
		if err := lockForUpdate(tx).First(&device, deviceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: device %d", ErrNotFound, deviceID)
			}
			return err
		}
		var driver model.Driver
		if err := tx.First(&driver, driverID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: driver %d", ErrNotFound, driverID)
			}
			return err
		}
		var def model.ShiftDefinition
		if err := tx.First(&def, shiftID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: shift %d", ErrNotFound, shiftID)
			}
			return err
		}

		if len(def.RecurrenceDays) > 0 {
			for _, ds := range dates {
				day, _ := schedule.ParseDate(ds, s.loc)
				if !slices.Contains(def.RecurrenceDays, int(day.Weekday())) {
					return fmt.Errorf("%w: date %s falls outside the shift's recurrence days", ErrValidation, ds)
				}
			}
		}

		var existing []model.Assignment
		if err := tx.Preload("Shift").Where("device_id = ?", deviceID).Find(&existing).Error; err != nil {
			return err
		}
		for i := range existing {
			other := &existing[i]
			if other.Shift == nil {
				continue
			}
			if s.windowsOverlap(&def, dates, other.Shift, other.Dates) {
				return fmt.Errorf("%w: device %d already has assignment %d overlapping the requested window",
					ErrConflict, deviceID, other.ID)
			}
		}

		a := &model.Assignment{
			DeviceID: deviceID,
			DriverID: driverID,
			ShiftID:  shiftID,
			Dates:    dates,
		}
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.loadAssignment(ctx, out.ID)
}

// windowsOverlap reports whether any occurrence window of (defA, datesA)
// intersects one of (defB, datesB). Windows are inclusive on both bounds, so
// touching endpoints count as overlap.
func (s *gormStore) windowsOverlap(defA *model.ShiftDefinition, datesA []string, defB *model.ShiftDefinition, datesB []string) bool {
	type window struct{ start, end time.Time }
	build := func(def *model.ShiftDefinition, dates []string) []window {
		out := make([]window, 0, len(dates))
		for _, ds := range dates {
			day, err := schedule.ParseDate(ds, s.loc)
			if err != nil {
				continue
			}
			start, end, err := schedule.Window(def, day)
			if err != nil {
				continue
			}
			out = append(out, window{start: start, end: end})
		}
		return out
	}
	for _, a := range build(defA, datesA) {
		for _, b := range build(defB, datesB) {
			if !a.start.After(b.end) && !b.start.After(a.end) {
				return true
			}
		}
	}
	return false
}

// Extend sets the one-shot absolute end-time override for the assignment's
// current occurrence. Repeat calls with the same value are idempotent; a
// different value after a previous extend, or extending an already expired
// occurrence, fails with ErrState. The assignment row is locked for the
// duration of the transaction so two racing extends with different values
// cannot both pass the IsExtended check.
func (s *gormStore) Extend(ctx context.Context, assignmentID int64, newEndTime string, now time.Time) (*model.Assignment, error) {
	if _, err := schedule.ParseTimeOfDay(newEndTime); err != nil {
		return nil, fmt.Errorf("%w: extend time: %v", ErrValidation, err)
	}

	var out *model.Assignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a model.Assignment
		if err := lockForUpdate(tx).First(&a, assignmentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: assignment %d", ErrNotFound, assignmentID)
			}
			return err
		}
		var def model.ShiftDefinition
		if err := tx.First(&def, a.ShiftID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: assignment %d has no shift definition", ErrState, assignmentID)
			}
			return err
		}
		a.Shift = &def

		ev := schedule.Evaluate(&a, a.Shift, now.In(s.loc))
		if ev.State == schedule.StateExpired {
			return fmt.Errorf("%w: assignment %d has already expired", ErrState, assignmentID)
		}

		if a.IsExtended {
			if a.ExtendTime == newEndTime {
				out = &a
				return nil
			}
			return fmt.Errorf("%w: assignment %d is already extended to %s", ErrState, assignmentID, a.ExtendTime)
		}

		ext, _ := schedule.ParseTimeOfDay(newEndTime)
		extEnd := ext.At(ev.WindowStart)
		if !extEnd.After(ev.WindowStart) {
			extEnd = extEnd.Add(24 * time.Hour)
		}
		if !extEnd.After(ev.WindowEnd) {
			return fmt.Errorf("%w: extend time %s does not lengthen the window ending %s",
				ErrValidation, newEndTime, ev.WindowEnd.Format("15:04"))
		}

		a.IsExtended = true
		a.ExtendTime = newEndTime
		if err := tx.Save(&a).Error; err != nil {
			return err
		}
		out = &a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveAssignment hard-deletes an assignment. Open decision state derived
// from it is recomputed on the next evaluation tick, not here.
func (s *gormStore) RemoveAssignment(ctx context.Context, assignmentID int64) error {
	res := s.db.WithContext(ctx).Delete(&model.Assignment{}, assignmentID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: assignment %d", ErrNotFound, assignmentID)
	}
	return nil
}

// ListAssignmentsForDevice returns the device's assignments ordered by their
// first date ascending. Unless includePast is set, assignments whose dates
// are all before asOf's calendar day are filtered out.
func (s *gormStore) ListAssignmentsForDevice(ctx context.Context, deviceID int64, includePast bool, asOf time.Time) ([]model.Assignment, error) {
	var all []model.Assignment
	err := s.db.WithContext(ctx).
		Preload("Shift").
		Preload("Driver").
		Where("device_id = ?", deviceID).
		Find(&all).Error
	if err != nil {
		return nil, err
	}

	today := asOf.In(s.loc).Format("2006-01-02")
	out := make([]model.Assignment, 0, len(all))
	for _, a := range all {
		if !includePast && !hasDateOnOrAfter(a.Dates, today) {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b model.Assignment) int {
		switch {
		case firstDate(a.Dates) < firstDate(b.Dates):
			return -1
		case firstDate(a.Dates) > firstDate(b.Dates):
			return 1
		default:
			return int(a.ID - b.ID)
		}
	})
	return out, nil
}

func (s *gormStore) loadAssignment(ctx context.Context, id int64) (*model.Assignment, error) {
	var a model.Assignment
	err := s.db.WithContext(ctx).
		Preload("Shift").
		Preload("Driver").
		Preload("Device").
		First(&a, id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func hasDateOnOrAfter(dates []string, day string) bool {
	for _, d := range dates {
		if d >= day {
			return true
		}
	}
	return false
}

func firstDate(dates []string) string {
	if len(dates) == 0 {
		return ""
	}
	return dates[0]
}

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"fleet-usage-backend/internal/model"
	"fleet-usage-backend/internal/schedule"
)

// ShiftPatch carries the mutable fields of a shift definition; nil fields
// are left unchanged.
type ShiftPatch struct {
	Name           *string `json:"name"`
	StartTime      *string `json:"start_time"`
	EndTime        *string `json:"end_time"`
	RecurrenceDays *[]int  `json:"recurrence_days"`
	GraceMinutes   *int    `json:"grace_minutes"`
	QueueStartsIn  *int    `json:"queue_starts_in"`
	QueueEndsIn    *int    `json:"queue_ends_in"`
}

func validateShift(def *model.ShiftDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: shift name is required", ErrValidation)
	}
	if _, err := schedule.ParseTimeOfDay(def.StartTime); err != nil {
		return fmt.Errorf("%w: start_time: %v", ErrValidation, err)
	}
	if _, err := schedule.ParseTimeOfDay(def.EndTime); err != nil {
		return fmt.Errorf("%w: end_time: %v", ErrValidation, err)
	}
	if def.GraceMinutes < 0 {
		return fmt.Errorf("%w: grace_minutes must be >= 0", ErrValidation)
	}
	if def.QueueStartsIn < 0 || def.QueueEndsIn < 0 {
		return fmt.Errorf("%w: queue offsets must be >= 0", ErrValidation)
	}
	for _, d := range def.RecurrenceDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: recurrence day %d out of range 0-6", ErrValidation, d)
		}
	}
	return nil
}

// CreateShift validates and persists a new shift definition.
func (s *gormStore) CreateShift(ctx context.Context, def *model.ShiftDefinition) error {
	if err := validateShift(def); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.ShiftDefinition{}).Where("name = ?", def.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: shift named %q already exists", ErrConflict, def.Name)
		}
		return tx.Create(def).Error
	})
}

// GetShift loads a shift definition by id.
func (s *gormStore) GetShift(ctx context.Context, id int64) (*model.ShiftDefinition, error) {
	var def model.ShiftDefinition
	if err := s.db.WithContext(ctx).First(&def, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: shift %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &def, nil
}

// UpdateShift applies the patch and revalidates the resulting definition.
func (s *gormStore) UpdateShift(ctx context.Context, id int64, patch ShiftPatch) (*model.ShiftDefinition, error) {
	var def model.ShiftDefinition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&def, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: shift %d", ErrNotFound, id)
			}
			return err
		}
		if patch.Name != nil {
			def.Name = *patch.Name
		}
		if patch.StartTime != nil {
			def.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			def.EndTime = *patch.EndTime
		}
		if patch.RecurrenceDays != nil {
			def.RecurrenceDays = *patch.RecurrenceDays
		}
		if patch.GraceMinutes != nil {
			def.GraceMinutes = *patch.GraceMinutes
		}
		if patch.QueueStartsIn != nil {
			def.QueueStartsIn = *patch.QueueStartsIn
		}
		if patch.QueueEndsIn != nil {
			def.QueueEndsIn = *patch.QueueEndsIn
		}
		if err := validateShift(&def); err != nil {
			return err
		}
		return tx.Save(&def).Error
	})
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// DeleteShift removes a shift definition. While assignments reference the
// shift the delete is rejected with ErrConflict; force cascades onto the
// referencing assignments instead.
func (s *gormStore) DeleteShift(ctx context.Context, id int64, force bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var def model.ShiftDefinition
		if err := tx.First(&def, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: shift %d", ErrNotFound, id)
			}
			return err
		}
		var refs int64
		if err := tx.Model(&model.Assignment{}).Where("shift_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			if !force {
				return fmt.Errorf("%w: shift %d is referenced by %d assignment(s)", ErrConflict, id, refs)
			}
			if err := tx.Where("shift_id = ?", id).Delete(&model.Assignment{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.ShiftDefinition{}, id).Error
	})
}

// ListShifts returns shift definitions, optionally filtered by a name
// substring, ordered by start time then name.
func (s *gormStore) ListShifts(ctx context.Context, nameFilter string) ([]model.ShiftDefinition, error) {
	var defs []model.ShiftDefinition
	q := s.db.WithContext(ctx).Order("start_time ASC, name ASC")
	if nameFilter != "" {
		q = q.Where("name LIKE ?", "%"+nameFilter+"%")
	}
	err := q.Find(&defs).Error
	return defs, err
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fleet-usage-backend/internal/model"
)

// ApplyDecisions reconciles freshly computed decisions against the open
// decision table. Changed decisions archive the superseded row into the
// history table; devices that left the evaluation set are archived and
// cleared. The returned flips are the devices whose allow bit changed
// (including devices decided for the first time).
func (s *gormStore) ApplyDecisions(ctx context.Context, now time.Time, decisions []UsageDecision) ([]DecisionFlip, error) {
	open, err := s.fetchAllOpenDecisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch open decision records: %w", err)
	}

	var flips []DecisionFlip
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range decisions {
			old, exists := open[d.DeviceID]
			if exists {
				if old.Allow != d.Allow || old.Reason != string(d.Reason) {
					if err := archiveDecision(tx, old, now); err != nil {
						return err
					}
					row := openRow(d, now)
					if err := tx.Save(&row).Error; err != nil {
						return fmt.Errorf("failed to update open decision for device %d: %w", d.DeviceID, err)
					}
					if old.Allow != d.Allow {
						flips = append(flips, flipFrom(d))
					}
				}
				delete(open, d.DeviceID)
			} else {
				row := openRow(d, now)
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("failed to create open decision for device %d: %w", d.DeviceID, err)
				}
				// First decision for this device still needs a command
				// to establish the desired state.
				flips = append(flips, flipFrom(d))
			}
		}

		// Devices that are no longer part of the evaluation set.
		for _, remaining := range open {
			if err := archiveDecision(tx, remaining, now); err != nil {
				return err
			}
			if err := tx.Delete(&model.DecisionOpen{}, remaining.DeviceID).Error; err != nil {
				return fmt.Errorf("failed to delete open decision for device %d: %w", remaining.DeviceID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flips, nil
}

// archiveDecision copies a superseded open decision into the history table.
// The recorded period runs from when the decision started holding to the
// observation that ended it.
func archiveDecision(tx *gorm.DB, old model.DecisionOpen, observedAt time.Time) error {
	hist := model.DecisionHistory{
		DeviceID:     old.DeviceID,
		ObservedAt:   observedAt,
		Allow:        old.Allow,
		Reason:       old.Reason,
		AssignmentID: old.AssignmentID,
		PeriodStart:  old.EvaluatedAt,
		PeriodEnd:    observedAt,
	}
	if err := tx.Create(&hist).Error; err != nil {
		return fmt.Errorf("failed to archive decision for device %d: %w", old.DeviceID, err)
	}
	return nil
}

func openRow(d UsageDecision, now time.Time) model.DecisionOpen {
	return model.DecisionOpen{
		DeviceID:     d.DeviceID,
		EvaluatedAt:  now,
		Allow:        d.Allow,
		Reason:       string(d.Reason),
		AssignmentID: d.AssignmentID,
		WindowEnd:    d.WindowEnd,
	}
}

func flipFrom(d UsageDecision) DecisionFlip {
	return DecisionFlip{
		DeviceID:     d.DeviceID,
		Allow:        d.Allow,
		Reason:       d.Reason,
		AssignmentID: d.AssignmentID,
	}
}

func (s *gormStore) fetchAllOpenDecisions(ctx context.Context) (map[int64]model.DecisionOpen, error) {
	var rows []model.DecisionOpen
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	m := make(map[int64]model.DecisionOpen, len(rows))
	for _, r := range rows {
		m[r.DeviceID] = r
	}
	return m, nil
}

// CurrentDecision returns the decision currently in force for the device, or
// ErrNotFound when the device has never been decided.
func (s *gormStore) CurrentDecision(ctx context.Context, deviceID int64) (*model.DecisionOpen, error) {
	var row model.DecisionOpen
	if err := s.db.WithContext(ctx).First(&row, deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no decision for device %d", ErrNotFound, deviceID)
		}
		return nil, err
	}
	return &row, nil
}

// DecisionAt returns the archived decision whose holding period covered the
// given instant.
func (s *gormStore) DecisionAt(ctx context.Context, deviceID int64, at time.Time) (*model.DecisionHistory, error) {
	var row model.DecisionHistory
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND period_start <= ? AND period_end > ?", deviceID, at, at).
		Order("observed_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no archived decision for device %d at %s", ErrNotFound, deviceID, at.Format(time.RFC3339))
		}
		return nil, err
	}
	return &row, nil
}

// ListCurrentDecisions returns the open decision rows for the whole fleet.
func (s *gormStore) ListCurrentDecisions(ctx context.Context) ([]model.DecisionOpen, error) {
	var rows []model.DecisionOpen
	err := s.db.WithContext(ctx).Order("device_id ASC").Find(&rows).Error
	return rows, err
}

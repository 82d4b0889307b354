package usage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fleet-usage-backend/config"
	"fleet-usage-backend/internal/dispatch"
	"fleet-usage-backend/internal/model"
	"fleet-usage-backend/internal/notification"
	"fleet-usage-backend/internal/schedule"
	"fleet-usage-backend/internal/store"
)

// Service runs the periodic usage evaluation: every tick it re-decides all
// controlled devices, persists decision transitions through the store, and
// hands flipped devices to the command dispatch and notification pools.
type Service struct {
	cfg        *config.Config
	store      store.Store
	ctrl       *Controller
	dispatcher *dispatch.WorkerPool
	notifier   *notification.WorkerPool
	logger     *zap.Logger
	loc        *time.Location
}

// NewService creates the evaluation service. The workers are started by Run.
func NewService(cfg *config.Config, s store.Store, dispatcher *dispatch.WorkerPool, notifier *notification.WorkerPool, logger *zap.Logger) *Service {
	loc, err := time.LoadLocation(cfg.Evaluator.Timezone)
	if err != nil {
		logger.Warn("invalid evaluator timezone, falling back to UTC",
			zap.String("timezone", cfg.Evaluator.Timezone), zap.Error(err))
		loc = time.UTC
	}
	return &Service{
		cfg:        cfg,
		store:      s,
		ctrl:       NewController(loc),
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		loc:        loc,
	}
}

// Location returns the canonical evaluation zone.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Run starts the evaluation loop. It owns no timers beyond the tick: each
// cycle is one synchronous pass over the fleet.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Evaluator.Enabled {
		s.logger.Info("usage evaluator is disabled, not starting")
		return
	}
	s.logger.Info("starting usage evaluation service",
		zap.Duration("interval", s.cfg.Evaluator.Interval),
		zap.String("timezone", s.cfg.Evaluator.Timezone))

	s.dispatcher.Start(ctx)
	s.notifier.Start(ctx)

	s.EvaluateOnce(ctx)

	timer := time.NewTimer(s.cfg.Evaluator.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("usage evaluation service shutting down")
			return
		case <-timer.C:
			s.EvaluateOnce(ctx)
			timer.Reset(s.cfg.Evaluator.Interval)
		}
	}
}

// EvaluateOnce performs a single evaluation pass at the current time.
func (s *Service) EvaluateOnce(ctx context.Context) {
	s.EvaluateAt(ctx, time.Now().In(s.loc))
}

// EvaluateAt performs a single evaluation pass at the given instant.
func (s *Service) EvaluateAt(ctx context.Context, now time.Time) {
	now = now.In(s.loc)

	devices, err := s.store.ListControlledDevices(ctx)
	if err != nil {
		s.logger.Error("failed to list controlled devices, skipping cycle", zap.Error(err))
		return
	}

	decisions := make([]store.UsageDecision, 0, len(devices))
	assignmentsByID := make(map[int64]*model.Assignment)
	assignmentsByDevice := make(map[int64][]model.Assignment, len(devices))
	for _, dev := range devices {
		assignments, err := s.store.ListAssignmentsForDevice(ctx, dev.ID, true, now)
		if err != nil {
			s.logger.Error("failed to load assignments, skipping cycle",
				zap.Int64("device_id", dev.ID), zap.Error(err))
			return
		}
		for i := range assignments {
			assignmentsByID[assignments[i].ID] = &assignments[i]
		}
		assignmentsByDevice[dev.ID] = assignments
		decisions = append(decisions, s.ctrl.Decide(dev.ID, assignments, now))
	}

	flips, err := s.store.ApplyDecisions(ctx, now, decisions)
	if err != nil {
		s.logger.Error("failed to apply decisions", zap.Error(err))
		return
	}

	for _, flip := range flips {
		job := dispatch.Job{
			DeviceID:     flip.DeviceID,
			AssignmentID: flip.AssignmentID,
			Allow:        flip.Allow,
			Reason:       string(flip.Reason),
			Deadline:     now.Add(time.Duration(s.cfg.Dispatch.DefaultQueueSeconds) * time.Second),
		}
		if flip.AssignmentID != nil {
			if a := assignmentsByID[*flip.AssignmentID]; a != nil && a.Shift != nil && a.Shift.QueueEndsIn > 0 {
				job.Deadline = now.Add(time.Duration(a.Shift.QueueEndsIn) * time.Second)
			}
		}
		s.dispatcher.Dispatch(job)
		s.notifier.Dispatch(notification.Notice{
			DeviceID: flip.DeviceID,
			Allow:    flip.Allow,
			Reason:   string(flip.Reason),
		})
	}

	s.preQueue(decisions, assignmentsByDevice, now)

	if len(flips) > 0 {
		s.logger.Info("evaluation cycle finished",
			zap.Int("devices", len(devices)), zap.Int("flips", len(flips)))
	}
}

// preQueue dispatches enable commands ahead of an upcoming window for shifts
// that declare a queue lead time, so the device is released the moment the
// window opens. The command log deduplicates repeated pre-queues across
// ticks.
func (s *Service) preQueue(decisions []store.UsageDecision, assignmentsByDevice map[int64][]model.Assignment, now time.Time) {
	for _, d := range decisions {
		if d.Allow {
			continue
		}
		for i := range assignmentsByDevice[d.DeviceID] {
			a := &assignmentsByDevice[d.DeviceID][i]
			if a.Shift == nil || a.Shift.QueueStartsIn <= 0 {
				continue
			}
			ev := schedule.Evaluate(a, a.Shift, now)
			if ev.State != schedule.StatePending {
				continue
			}
			lead := time.Duration(a.Shift.QueueStartsIn) * time.Second
			if ev.TimeToStart > lead {
				continue
			}
			id := a.ID
			deadline := ev.WindowStart.Add(time.Duration(a.Shift.QueueEndsIn) * time.Second)
			if a.Shift.QueueEndsIn <= 0 {
				deadline = ev.WindowStart.Add(time.Duration(s.cfg.Dispatch.DefaultQueueSeconds) * time.Second)
			}
			s.dispatcher.Dispatch(dispatch.Job{
				DeviceID:     d.DeviceID,
				AssignmentID: &id,
				Allow:        true,
				Reason:       string(store.ReasonWithinShift),
				NotBefore:    ev.WindowStart,
				Deadline:     deadline,
			})
		}
	}
}

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fleet-usage-backend/config"
	"fleet-usage-backend/internal/model"
)

// Command is the gateway-facing payload for one device command.
type Command struct {
	DeviceID int64             `json:"device_id"`
	Type     model.CommandType `json:"type"`
	Reason   string            `json:"reason"`
}

// CommandSender delivers one command to the external command gateway.
type CommandSender interface {
	Send(ctx context.Context, cmd Command) error
}

// GatewaySender posts commands to the configured HTTP command gateway.
type GatewaySender struct {
	client *resty.Client
	url    string
}

// NewGatewaySender builds the real sender from the dispatch configuration.
func NewGatewaySender(cfg *config.DispatchConfig) *GatewaySender {
	client := resty.New().
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	return &GatewaySender{client: client, url: cfg.GatewayURL}
}

// Send posts the command and treats any non-2xx response as a failure.
func (g *GatewaySender) Send(ctx context.Context, cmd Command) error {
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(cmd).
		Post(g.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("command gateway returned status %d", resp.StatusCode())
	}
	return nil
}

// Job is one queued command delivery. NotBefore delays pre-queued commands
// until their window opens; Deadline bounds resends (zero means the
// configured retry budget alone governs).
type Job struct {
	DeviceID     int64
	AssignmentID *int64
	Allow        bool
	Reason       string
	NotBefore    time.Time
	Deadline     time.Time
}

// WorkerPool manages a pool of workers delivering device commands.
type WorkerPool struct {
	size       int
	jobs       chan Job
	db         *gorm.DB
	sender     CommandSender
	logger     *zap.Logger
	maxResends int
	retryDelay time.Duration
}

// NewWorkerPool creates a new command dispatch pool.
func NewWorkerPool(cfg *config.DispatchConfig, db *gorm.DB, sender CommandSender, logger *zap.Logger) *WorkerPool {
	if sender == nil {
		sender = NewGatewaySender(cfg)
	}
	return &WorkerPool{
		size:       cfg.WorkerPoolSize,
		jobs:       make(chan Job, cfg.WorkerPoolSize*4),
		db:         db,
		sender:     sender,
		logger:     logger,
		maxResends: cfg.MaxResends,
		retryDelay: time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// Dispatch queues a job, dropping it when the queue is full so the
// evaluation loop never blocks on a slow gateway.
func (wp *WorkerPool) Dispatch(job Job) {
	select {
	case wp.jobs <- job:
	default:
		wp.logger.Warn("dispatch queue full, dropping command",
			zap.Int64("device_id", job.DeviceID), zap.Bool("allow", job.Allow))
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Info("dispatch worker started", zap.Int("worker", id))
	for {
		select {
		case job := <-wp.jobs:
			wp.process(ctx, job)
		case <-ctx.Done():
			wp.logger.Info("dispatch worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

func commandType(allow bool) model.CommandType {
	if allow {
		return model.CommandEngineResume
	}
	return model.CommandEngineStop
}

// process writes the command log row, waits out a pre-queue delay, then
// sends with bounded resends.
func (wp *WorkerPool) process(ctx context.Context, job Job) {
	cmdType := commandType(job.Allow)

	// A pre-queued command for the same device and type may already be
	// pending; queueing another would double-send.
	var pending int64
	if err := wp.db.WithContext(ctx).Model(&model.CommandLog{}).
		Where("device_id = ? AND type = ? AND status = ?", job.DeviceID, cmdType, model.CommandStatusPending).
		Count(&pending).Error; err != nil {
		wp.logger.Error("failed to check pending commands", zap.Int64("device_id", job.DeviceID), zap.Error(err))
	} else if pending > 0 {
		wp.logger.Debug("command already pending, skipping",
			zap.Int64("device_id", job.DeviceID), zap.String("type", string(cmdType)))
		return
	}

	row := model.CommandLog{
		DeviceID:     job.DeviceID,
		AssignmentID: job.AssignmentID,
		Type:         cmdType,
		Reason:       job.Reason,
		Status:       model.CommandStatusPending,
		QueuedAt:     time.Now(),
	}
	if err := wp.db.WithContext(ctx).Create(&row).Error; err != nil {
		wp.logger.Error("failed to record command", zap.Int64("device_id", job.DeviceID), zap.Error(err))
		return
	}

	if !job.NotBefore.IsZero() {
		if wait := time.Until(job.NotBefore); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}

	cmd := Command{DeviceID: job.DeviceID, Type: cmdType, Reason: job.Reason}
	for attempt := 1; ; attempt++ {
		err := wp.sender.Send(ctx, cmd)
		row.Attempts = attempt
		if err == nil {
			now := time.Now()
			row.Status = model.CommandStatusSent
			row.SentAt = &now
			row.LastError = ""
			if err := wp.db.WithContext(ctx).Save(&row).Error; err != nil {
				wp.logger.Error("failed to update command log", zap.Int64("device_id", job.DeviceID), zap.Error(err))
			}
			if attempt > 1 && job.AssignmentID != nil {
				wp.recordResends(ctx, *job.AssignmentID, attempt-1, now)
			}
			wp.logger.Info("command sent",
				zap.Int64("device_id", job.DeviceID),
				zap.String("type", string(cmdType)),
				zap.Int("attempts", attempt))
			return
		}

		row.LastError = err.Error()
		expired := !job.Deadline.IsZero() && time.Now().After(job.Deadline)
		if attempt >= wp.maxResends || expired {
			row.Status = model.CommandStatusFailed
			if err := wp.db.WithContext(ctx).Save(&row).Error; err != nil {
				wp.logger.Error("failed to update command log", zap.Int64("device_id", job.DeviceID), zap.Error(err))
			}
			wp.logger.Error("command delivery failed",
				zap.Int64("device_id", job.DeviceID),
				zap.String("type", string(cmdType)),
				zap.Int("attempts", attempt),
				zap.Bool("deadline_expired", expired),
				zap.Error(err))
			return
		}
		if err := wp.db.WithContext(ctx).Save(&row).Error; err != nil {
			wp.logger.Error("failed to update command log", zap.Int64("device_id", job.DeviceID), zap.Error(err))
		}

		timer := time.NewTimer(wp.retryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// recordResends folds delivery retries into the assignment's resend metadata.
func (wp *WorkerPool) recordResends(ctx context.Context, assignmentID int64, resends int, at time.Time) {
	err := wp.db.WithContext(ctx).Model(&model.Assignment{}).
		Where("id = ?", assignmentID).
		Updates(map[string]interface{}{
			"resend_count":   gorm.Expr("resend_count + ?", resends),
			"last_resend_at": at,
		}).Error
	if err != nil {
		wp.logger.Error("failed to record resend metadata", zap.Int64("assignment_id", assignmentID), zap.Error(err))
	}
}

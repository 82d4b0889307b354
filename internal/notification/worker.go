package notification

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fleet-usage-backend/internal/model"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Notice describes one decision flip to announce to subscribed operators.
type Notice struct {
	DeviceID int64
	Allow    bool
	Reason   string
}

// WorkerPool manages a pool of workers for sending decision-flip
// notifications.
type WorkerPool struct {
	size    int
	jobs    chan Notice
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	logger  *zap.Logger
}

// NewWorkerPool creates a new notification worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Notice, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Info("notification worker started", zap.Int("worker", id))
	for {
		select {
		case notice := <-wp.jobs:
			wp.sendNotificationsForDevice(ctx, notice)
		case <-ctx.Done():
			wp.logger.Info("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch sends a notice to the worker pool.
func (wp *WorkerPool) Dispatch(notice Notice) {
	wp.jobs <- notice
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Notice {
	return wp.jobs
}

// sendNotificationsForDevice fetches the device's subscribers and pushes the
// decision flip to each of them.
func (wp *WorkerPool) sendNotificationsForDevice(ctx context.Context, notice Notice) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_device_mapping sdm ON sdm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sdm.device_id = ?", notice.DeviceID).
		Find(&subscriptions).Error
	if err != nil {
		wp.logger.Error("failed to fetch subscriptions", zap.Int64("device_id", notice.DeviceID), zap.Error(err))
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	var device model.Device
	deviceLabel := fmt.Sprintf("%d", notice.DeviceID)
	if err := wp.db.WithContext(ctx).
		Select("name").
		First(&device, notice.DeviceID).Error; err != nil {
		wp.logger.Error("failed to fetch device", zap.Int64("device_id", notice.DeviceID), zap.Error(err))
	} else if device.Name != "" {
		deviceLabel = device.Name
	}

	verdict := "blocked"
	if notice.Allow {
		verdict = "allowed"
	}
	message := fmt.Sprintf("Device %s usage is now %s (%s)", deviceLabel, verdict, notice.Reason)

	wp.logger.Info("sending notifications",
		zap.Int64("device_id", notice.DeviceID),
		zap.Int("subscribers", len(subscriptions)))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Error("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == 410 {
		wp.logger.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Select("Devices").Delete(&sub).Error; err != nil {
			wp.logger.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}

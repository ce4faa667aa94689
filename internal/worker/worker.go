package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/models"

	"go.uber.org/zap"
)

// Sender delivers a notification through an external gateway.
// The logged implementation below stands in where no gateway is wired.
type Sender interface {
	SendSMS(ctx context.Context, mobile, code string, ttlMinutes int) error
	SendEmail(ctx context.Context, email, verifyURL string) error
}

// LogSender writes notifications to the log instead of a gateway
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) SendSMS(_ context.Context, mobile, code string, ttlMinutes int) error {
	s.Logger.Info("Sending SMS code",
		zap.String("mobile", mobile),
		zap.String("code", code),
		zap.Int("ttl_minutes", ttlMinutes))
	return nil
}

func (s *LogSender) SendEmail(_ context.Context, email, verifyURL string) error {
	s.Logger.Info("Sending verification email",
		zap.String("email", email),
		zap.String("verify_url", verifyURL))
	return nil
}

// NotificationWorker consumes notification events and hands them to a
// Sender. Delivery is best-effort; ordering and retries are whatever the
// queue gives us.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, sender Sender, logger *zap.Logger) *NotificationWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnSMSCode(func(ctx context.Context, event *models.SMSCodeEvent) error {
		return sender.SendSMS(ctx, event.Mobile, event.Code, event.TTLMinutes)
	})
	eventHandler.OnEmailVerify(func(ctx context.Context, event *models.EmailVerifyEvent) error {
		return sender.SendEmail(ctx, event.Email, event.VerifyURL)
	})
	eventHandler.OnOrderPlaced(func(_ context.Context, event *models.OrderPlacedEvent) error {
		logger.Info("Order placed",
			zap.String("order_id", event.OrderID),
			zap.Int64("user_id", event.UserID),
			zap.Int64("total_amount", event.TotalAmount))
		return nil
	})

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

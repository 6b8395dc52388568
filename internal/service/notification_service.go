package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/pkg/config"
	"github.com/noah-isme/krs-api/pkg/jobs"
)

// Notifier dispatches student notifications. Implementations must not block
// on delivery and must never report failure to the caller.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification)
}

// NotificationSender delivers a notification over one channel.
type NotificationSender interface {
	Name() string
	Send(ctx context.Context, notification models.Notification) error
}

// LogNotificationSender writes notifications to the structured log.
type LogNotificationSender struct {
	logger *zap.Logger
}

// NewLogNotificationSender constructs a log sender.
func NewLogNotificationSender(logger *zap.Logger) *LogNotificationSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationSender{logger: logger}
}

// Name implements NotificationSender.
func (s *LogNotificationSender) Name() string { return "log" }

// Send implements NotificationSender.
func (s *LogNotificationSender) Send(ctx context.Context, n models.Notification) error {
	s.logger.Info("student notification",
		zap.String("notification_id", n.ID),
		zap.String("kind", string(n.Kind)),
		zap.String("student_id", n.StudentID),
		zap.String("subject", n.Subject),
		zap.String("message", n.Message),
	)
	return nil
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotificationSender fans notifications out on a Redis pub/sub channel.
type RedisNotificationSender struct {
	client  redisPublisher
	channel string
}

// NewRedisNotificationSender constructs a pub/sub sender.
func NewRedisNotificationSender(client redisPublisher, channel string) *RedisNotificationSender {
	return &RedisNotificationSender{client: client, channel: channel}
}

// Name implements NotificationSender.
func (s *RedisNotificationSender) Name() string { return "redis" }

// Send implements NotificationSender.
func (s *RedisNotificationSender) Send(ctx context.Context, n models.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// NotificationService queues notifications and delivers them in the background,
// one job per sender so a failing channel is retried without repeating the others.
type NotificationService struct {
	queue   *jobs.Queue[models.Notification]
	senders map[string]NotificationSender
	order   []string
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService builds the service and its worker queue.
func NewNotificationService(cfg config.NotificationConfig, metrics *MetricsService, logger *zap.Logger, senders ...NotificationSender) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{
		senders: make(map[string]NotificationSender, len(senders)),
		metrics: metrics,
		logger:  logger,
	}
	for _, sender := range senders {
		if sender == nil {
			continue
		}
		if _, exists := svc.senders[sender.Name()]; !exists {
			svc.order = append(svc.order, sender.Name())
		}
		svc.senders[sender.Name()] = sender
	}
	svc.queue = jobs.NewQueue[models.Notification]("notifications", svc.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDiscard:  svc.abandon,
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop delivers what is already queued, giving up when ctx expires.
func (s *NotificationService) Stop(ctx context.Context) error {
	return s.queue.Shutdown(ctx)
}

// Notify implements Notifier.
func (s *NotificationService) Notify(ctx context.Context, n models.Notification) {
	if s == nil {
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	for _, name := range s.order {
		job := jobs.Job[models.Notification]{ID: n.ID, Type: name, Payload: n}
		if err := s.queue.TryEnqueue(job); err != nil {
			s.metrics.RecordNotification(name, NotificationDropped)
			s.logger.Warn("notification dropped",
				zap.String("sender", name),
				zap.String("student_id", n.StudentID),
				zap.String("kind", string(n.Kind)),
				zap.Error(err),
			)
		}
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job[models.Notification]) error {
	sender, ok := s.senders[job.Type]
	if !ok {
		return nil
	}
	if err := sender.Send(ctx, job.Payload); err != nil {
		s.metrics.RecordNotification(job.Type, NotificationFailed)
		return err
	}
	s.metrics.RecordNotification(job.Type, NotificationDelivered)
	return nil
}

func (s *NotificationService) abandon(job jobs.Job[any], err error) {
	s.metrics.RecordNotification(job.Type, NotificationAbandoned)
	n, _ := job.Payload.(models.Notification)
	s.logger.Error("notification abandoned",
		zap.String("sender", job.Type),
		zap.String("notification_id", n.ID),
		zap.String("student_id", n.StudentID),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/pkg/config"
)

type flakySender struct {
	name     string
	failures int

	mu       sync.Mutex
	attempts int
	received []models.Notification
}

func (s *flakySender) Name() string { return s.name }

func (s *flakySender) Send(_ context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("channel unavailable")
	}
	s.received = append(s.received, n)
	return nil
}

func (s *flakySender) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

type fakePublisher struct {
	channel string
	payload []byte
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channel = channel
	p.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func TestNotificationServiceDeliversToEverySender(t *testing.T) {
	healthy := &flakySender{name: "healthy"}
	flaky := &flakySender{name: "flaky", failures: 1}
	metrics := NewMetricsService()
	svc := NewNotificationService(config.NotificationConfig{Workers: 2, BufferSize: 8, MaxRetries: 2, RetryDelay: 10 * time.Millisecond}, metrics, nil, healthy, flaky)
	svc.Start(context.Background())
	defer func() { require.NoError(t, svc.Stop(context.Background())) }()

	svc.Notify(context.Background(), models.Notification{Kind: models.NotificationRegistered, StudentID: "stu-a"})

	require.Eventually(t, func() bool {
		return healthy.delivered() == 1 && flaky.delivered() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, healthy.attempts, "a failing sender is retried on its own")
	assert.NotEmpty(t, healthy.received[0].ID)
	assert.False(t, healthy.received[0].CreatedAt.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notifications.WithLabelValues("flaky", NotificationFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.notifications.WithLabelValues("flaky", NotificationDelivered)))
}

func TestNotificationServiceAbandonsAfterRetries(t *testing.T) {
	broken := &flakySender{name: "broken", failures: 100}
	metrics := NewMetricsService()
	svc := NewNotificationService(config.NotificationConfig{Workers: 1, BufferSize: 4, MaxRetries: 1, RetryDelay: 5 * time.Millisecond}, metrics, nil, broken)
	svc.Start(context.Background())
	defer func() { require.NoError(t, svc.Stop(context.Background())) }()

	svc.Notify(context.Background(), models.Notification{Kind: models.NotificationDropResult, StudentID: "stu-a"})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.notifications.WithLabelValues("broken", NotificationAbandoned)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.notifications.WithLabelValues("broken", NotificationFailed)))
}

func TestNotificationServiceNeverBlocksWhenStopped(t *testing.T) {
	sender := &flakySender{name: "log"}
	svc := NewNotificationService(config.NotificationConfig{Workers: 1, BufferSize: 1}, nil, nil, sender)

	done := make(chan struct{})
	go func() {
		svc.Notify(context.Background(), models.Notification{StudentID: "stu-a"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a queue that was never started")
	}

	var nilSvc *NotificationService
	nilSvc.Notify(context.Background(), models.Notification{})
}

func TestRedisNotificationSenderPublishesJSON(t *testing.T) {
	publisher := &fakePublisher{}
	sender := NewRedisNotificationSender(publisher, "krs.notifications")

	err := sender.Send(context.Background(), models.Notification{ID: "n-1", Kind: models.NotificationSwapRequested, StudentID: "stu-b"})
	require.NoError(t, err)
	assert.Equal(t, "redis", sender.Name())
	assert.Equal(t, "krs.notifications", publisher.channel)

	var decoded models.Notification
	require.NoError(t, json.Unmarshal(publisher.payload, &decoded))
	assert.Equal(t, models.NotificationSwapRequested, decoded.Kind)
	assert.Equal(t, "stu-b", decoded.StudentID)
}

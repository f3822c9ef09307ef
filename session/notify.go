package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier delivers fire-and-forget notifications to workers. Delivery
// is at-least-once; consumers are assumed idempotent.
type Notifier interface {
	Notify(ctx context.Context, workerIDs []string, payload map[string]any) error
}

// Notification is one delivered payload.
type Notification struct {
	WorkerID string         `json:"worker_id"`
	Payload  map[string]any `json:"payload"`
}

// ChannelNotifier is an in-process notifier backed by a buffered channel.
// When the buffer is full the notification is dropped; downstream
// consumers must tolerate redelivery and gaps.
type ChannelNotifier struct {
	ch     chan Notification
	logger *zap.Logger
}

// NewChannelNotifier creates an in-process notifier with the given buffer.
func NewChannelNotifier(buffer int, logger *zap.Logger) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 100
	}
	return &ChannelNotifier{
		ch:     make(chan Notification, buffer),
		logger: logger.With(zap.String("component", "channel_notifier")),
	}
}

// Notify fans the payload out to every worker.
func (n *ChannelNotifier) Notify(ctx context.Context, workerIDs []string, payload map[string]any) error {
	for _, id := range workerIDs {
		select {
		case n.ch <- Notification{WorkerID: id, Payload: payload}:
		case <-ctx.Done():
			return ctx.Err()
		default:
			n.logger.Warn("notification buffer full, dropping",
				zap.String("worker_id", id))
		}
	}
	return nil
}

// Notifications exposes the delivery channel for in-process consumers.
func (n *ChannelNotifier) Notifications() <-chan Notification {
	return n.ch
}

// RedisNotifier publishes notifications over redis pub/sub, one channel
// per worker, throttled by a shared rate limiter.
type RedisNotifier struct {
	client  *redis.Client
	prefix  string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRedisNotifier creates a redis pub/sub notifier. publishRate caps
// publishes per second (0 disables throttling).
func NewRedisNotifier(client *redis.Client, prefix string, publishRate float64, logger *zap.Logger) *RedisNotifier {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if publishRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(publishRate), int(publishRate)+1)
	}
	return &RedisNotifier{
		client:  client,
		prefix:  prefix,
		limiter: limiter,
		logger:  logger.With(zap.String("component", "redis_notifier")),
	}
}

// Notify publishes the payload to each worker's channel.
func (n *RedisNotifier) Notify(ctx context.Context, workerIDs []string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification payload: %w", err)
	}

	for _, id := range workerIDs {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		channel := fmt.Sprintf("%s:worker:%s", n.prefix, id)
		if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
			// At-least-once, fire-and-forget: log and keep fanning out.
			n.logger.Warn("notification publish failed",
				zap.String("worker_id", id),
				zap.Error(err),
			)
		}
	}
	return nil
}

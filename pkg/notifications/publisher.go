package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Publisher fans a created notification out to real-time subscribers.
// Publishing is best-effort, like audit writes: implementations must not
// fail the primary operation.
type Publisher interface {
	Publish(ctx context.Context, n *Notification)
}

// NopPublisher discards everything
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, *Notification) {}

// RedisPublisher publishes notifications as JSON to a per-user channel
type RedisPublisher struct {
	client *redis.Client
	prefix string
	log    *logrus.Logger
}

// NewRedisPublisher creates a publisher over the given Redis client
func NewRedisPublisher(client *redis.Client, log *logrus.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: "keystone:notifications", log: log}
}

// Channel returns the pub/sub channel name for a user
func (p *RedisPublisher) Channel(userID int64) string {
	return fmt.Sprintf("%s:user:%d", p.prefix, userID)
}

// Publish sends the notification to the owner's channel. Failures are
// logged and swallowed.
func (p *RedisPublisher) Publish(ctx context.Context, n *Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		p.log.WithError(err).Error("failed to encode notification for publish")
		return
	}
	if err := p.client.Publish(ctx, p.Channel(n.UserID), payload).Err(); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"notification_id": n.ID,
			"user_id":         n.UserID,
		}).Warn("failed to publish notification")
	}
}

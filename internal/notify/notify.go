// Package notify dispatches user notifications without ever blocking or
// failing the financial operation that triggered them.
package notify

import (
	"context"       // Context for Redis operations
	"encoding/json" // Event encoding
	"time"          // Publish timeout and timestamps

	"github.com/google/uuid"        // Event ids
	"github.com/redis/go-redis/v9"  // Redis client
	"github.com/shopspring/decimal" // Money formatting
	"github.com/sirupsen/logrus"    // Logging library
)

// Event types
const (
	EventLowBalance       = "LOW_BALANCE"
	EventDeliveryMissed   = "DELIVERY_MISSED"
	EventDeliveryDone     = "DELIVERY_COMPLETED"
	EventDeliverySkipped  = "DELIVERY_SKIPPED_NO_FUNDS"
	EventReferralRewarded = "REFERRAL_REWARDED"
	EventStreakRewarded   = "STREAK_REWARDED"
)

// Notifier is fire-and-forget: implementations swallow and log their failures
type Notifier interface {
	Notify(ctx context.Context, userID uint, eventType string, payload map[string]any)
}

// Event is the wire format published to subscribers (push/SMS senders)
type Event struct {
	ID        string         `json:"id"`         // Unique event id
	UserID    uint           `json:"user_id"`    // Recipient
	Type      string         `json:"type"`       // Event type
	Payload   map[string]any `json:"payload"`    // Event specific data
	CreatedAt time.Time      `json:"created_at"` // Emission time
}

// RedisNotifier publishes events on a Redis channel from a background goroutine
type RedisNotifier struct {
	rdb     *redis.Client // Redis client
	channel string        // Pub/sub channel
	timeout time.Duration // Upper bound for one publish
}

// NewRedisNotifier creates a notifier publishing on channel
func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel, timeout: 2 * time.Second}
}

// Notify returns immediately; the publish happens asynchronously
func (n *RedisNotifier) Notify(ctx context.Context, userID uint, eventType string, payload map[string]any) {
	ev := Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	go n.publish(context.WithoutCancel(ctx), ev)
}

// publish sends one event and logs its failure instead of returning it
func (n *RedisNotifier) publish(ctx context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	b, err := json.Marshal(ev)
	if err == nil {
		err = n.rdb.Publish(ctx, n.channel, b).Err()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":  ev.UserID,   // Recipient
			"event":    ev.Type,     // Event type
			"event_id": ev.ID,       // Event id
			"error":    err.Error(), // Error message
		}).Warn("Notification dropped")
	}
}

// Nop discards every notification
type Nop struct{}

// Notify does nothing
func (Nop) Notify(context.Context, uint, string, map[string]any) {}

// FormatAmount renders a minor-unit amount as a decimal string, e.g. 5000 -> "50.00 INR"
func FormatAmount(minor int64, currency string) string {
	return decimal.New(minor, -2).StringFixed(2) + " " + currency
}

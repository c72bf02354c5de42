// Package notifications delivers user notifications over Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind identifies what a notification is about.
type Kind string

const (
	KindRequestApproved    Kind = "request_approved"
	KindRequestRejected    Kind = "request_rejected"
	KindRevocationApproved Kind = "revocation_approved"
	KindRevocationRejected Kind = "revocation_rejected"
	KindSyncDeactivated    Kind = "sync_deactivated"
)

// Notification is the JSON payload published on a user's channel.
type Notification struct {
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	EntityID  int64     `json:"entity_id,omitempty"`
	Count     int64     `json:"count,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns every publish into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishUser sends a notification payload to a user's channel.
func (n *Notifier) PublishUser(
	ctx context.Context, userID uint, payload string,
) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// Notify encodes note and publishes it to the user's channel.
func (n *Notifier) Notify(ctx context.Context, userID uint, note Notification) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return n.PublishUser(ctx, userID, string(payload))
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}

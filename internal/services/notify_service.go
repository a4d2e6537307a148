package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/leadpay/backoffice/internal/models"
)

const (
	notificationQueue   = "notification_queue"
	balanceEventChannel = "balance_events"
)

// NotifyService fans out the best-effort side channels: the notification
// queue, the operator alert relay and the balance-changed stream. Nothing
// here may fail a committed financial mutation; errors are logged and
// swallowed. A nil Redis client degrades every method to a logged no-op.
type NotifyService struct {
	redis           *redis.Client
	operatorChannel string

	mu          sync.RWMutex
	subscribers []func(userID string)
}

func NewNotifyService(rdb *redis.Client, operatorChannel string) *NotifyService {
	return &NotifyService{redis: rdb, operatorChannel: operatorChannel}
}

// NotifyUser queues a notification for delivery by the collaborating
// dispatcher.
func (s *NotifyService) NotifyUser(n models.Notification) {
	if s.redis == nil {
		log.Printf("[NOTIFY] Redis unavailable, dropping notification for user %s", n.ToUserID)
		return
	}

	data, err := json.Marshal(n)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal notification: %v", err)
		return
	}

	if err := s.redis.RPush(context.Background(), notificationQueue, data).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to queue notification for user %s: %v", n.ToUserID, err)
	}
}

// RelayOperatorAlert pushes a message to the operator alert channel.
// Silently skipped when the channel is unconfigured.
func (s *NotifyService) RelayOperatorAlert(message string) {
	if s.redis == nil || s.operatorChannel == "" {
		return
	}
	if err := s.redis.RPush(context.Background(), s.operatorChannel, message).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to relay operator alert: %v", err)
	}
}

// SubscribeBalanceChanged registers an in-process observer for balance
// change events.
func (s *NotifyService) SubscribeBalanceChanged(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// PublishBalanceChanged announces that a user's balance moved. At-least-once
// and best-effort: subscribers may be absent and the Redis publish may fail
// without affecting the caller.
func (s *NotifyService) PublishBalanceChanged(userID string) {
	s.mu.RLock()
	subs := make([]func(string), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, fn := range subs {
		go fn(userID)
	}

	if s.redis == nil {
		return
	}
	if err := s.redis.Publish(context.Background(), balanceEventChannel, userID).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to publish balance event for user %s: %v", userID, err)
	}
}

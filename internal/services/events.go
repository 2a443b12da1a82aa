package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

type CashbackEvent struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	ReferenceID string    `json:"reference_id"`
	Amount      int64     `json:"amount"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventPublisher hands committed status changes to the external notification
// collaborator over a Redis list. Delivery is best effort after commit; the
// ledger is already durable by the time an event is queued.
type EventPublisher struct {
	redis *redis.Client
	queue string
}

func NewEventPublisher(redisClient *redis.Client, queue string) *EventPublisher {
	return &EventPublisher{
		redis: redisClient,
		queue: queue,
	}
}

func (p *EventPublisher) Publish(ctx context.Context, eventType, userID, referenceID string, amount int64, status string) {
	if p.redis == nil {
		return
	}
	data, err := json.Marshal(CashbackEvent{
		Type:        eventType,
		UserID:      userID,
		ReferenceID: referenceID,
		Amount:      amount,
		Status:      status,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		return
	}
	if err := p.redis.RPush(ctx, p.queue, data).Err(); err != nil {
		log.Printf("[EVENTS] Failed to queue %s event for %s: %v", eventType, referenceID, err)
	}
}

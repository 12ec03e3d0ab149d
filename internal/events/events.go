// Package events publishes review-request lifecycle events for downstream consumers
// such as owner notifications. Delivery is best-effort.
package events

import (
	"context"
	"encoding/json"
	"time"
)

const (
	ExchangeName = "reviewgate.events"

	RoutingReviewed      = "review_request.reviewed"
	RoutingFeedbackGiven = "review_request.feedback_given"
	RoutingFailed        = "review_request.failed"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// LifecycleEvent is the payload of every lifecycle routing key.
type LifecycleEvent struct {
	RequestID  string    `json:"requestId"`
	AccountID  string    `json:"accountId"`
	Status     string    `json:"status"`
	Rating     int       `json:"rating,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Emit marshals ev and publishes it under routingKey.
func Emit(ctx context.Context, p Publisher, routingKey string, ev LifecycleEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Publish(ctx, routingKey, b)
}

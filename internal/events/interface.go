package events

import "context"

// EventBus publishes events to filtered subscribers.
type EventBus interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Publish queues an event, honouring ctx while the buffer is full.
	Publish(ctx context.Context, event Event) error
	// PublishAsync queues an event or drops it when the buffer is full.
	PublishAsync(event Event) error

	Subscribe(ctx context.Context, filter EventFilter, handler EventHandler) (*Subscription, error)
	Unsubscribe(subscriptionID string) error
	GetSubscriptions() []*Subscription

	RecentEvents(filter EventFilter, limit int) []Event
	GetStats() EventStats
	Health() error
}

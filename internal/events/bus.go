package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/tunevault/internal/utils"
)

// eventBus implements the EventBus interface
type eventBus struct {
	config EventBusConfig
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	stopCh        chan struct{}
	wg            sync.WaitGroup
	dropped       atomic.Int64

	// sendMu guards the channel against close while publishers send.
	sendMu       sync.RWMutex
	eventChannel chan Event
	running      bool

	recentEvents []Event
	stats        EventStats
}

// NewEventBus creates a new event bus instance
func NewEventBus(config EventBusConfig, logger hclog.Logger) EventBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBusConfig().BufferSize
	}
	if config.RecentEvents <= 0 {
		config.RecentEvents = DefaultEventBusConfig().RecentEvents
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &eventBus{
		config:        config,
		logger:        logger,
		subscriptions: make(map[string]*Subscription),
		recentEvents:  make([]Event, 0, config.RecentEvents),
		stats:         EventStats{EventsByType: make(map[string]int64)},
	}
}

// Start starts the event bus
func (eb *eventBus) Start(ctx context.Context) error {
	eb.sendMu.Lock()
	defer eb.sendMu.Unlock()

	if eb.running {
		return fmt.Errorf("event bus is already running")
	}

	eb.running = true
	eb.stopCh = make(chan struct{})
	eb.eventChannel = make(chan Event, eb.config.BufferSize)

	eb.wg.Add(1)
	go eb.processEvents(ctx, eb.eventChannel, eb.stopCh)

	eb.logger.Info("event bus started", "buffer_size", eb.config.BufferSize)
	return nil
}

// Stop stops the event bus, delivering events that are already queued.
func (eb *eventBus) Stop(ctx context.Context) error {
	eb.sendMu.Lock()
	if !eb.running {
		eb.sendMu.Unlock()
		return nil
	}
	eb.running = false
	close(eb.eventChannel)
	eb.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus stopped")
		return nil
	case <-ctx.Done():
		close(eb.stopCh)
		eb.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

// Publish publishes an event to the event bus
func (eb *eventBus) Publish(ctx context.Context, event Event) error {
	event, err := eb.prepare(event)
	if err != nil {
		return err
	}

	eb.sendMu.RLock()
	defer eb.sendMu.RUnlock()
	if !eb.running {
		return fmt.Errorf("event bus is not running")
	}

	select {
	case eb.eventChannel <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAsync publishes an event without blocking
func (eb *eventBus) PublishAsync(event Event) error {
	event, err := eb.prepare(event)
	if err != nil {
		return err
	}

	eb.sendMu.RLock()
	defer eb.sendMu.RUnlock()
	if !eb.running {
		return fmt.Errorf("event bus is not running")
	}

	select {
	case eb.eventChannel <- event:
		return nil
	default:
		eb.logger.Warn("event channel full, dropping event", "event_type", event.Type, "target", event.Target)
		eb.dropped.Add(1)
		return fmt.Errorf("event channel full")
	}
}

// Subscribe subscribes to events matching the filter
func (eb *eventBus) Subscribe(ctx context.Context, filter EventFilter, handler EventHandler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscription := &Subscription{
		ID:         utils.GenerateUUID(),
		Filter:     filter,
		Handler:    handler,
		Subscriber: "system",
		Created:    time.Now(),
	}
	if len(filter.Targets) == 1 {
		subscription.Subscriber = "user:" + filter.Targets[0]
	}
	eb.subscriptions[subscription.ID] = subscription

	eb.logger.Debug("subscription created", "subscription_id", subscription.ID, "types", filter.Types)
	return subscription, nil
}

// Unsubscribe removes a subscription
func (eb *eventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, exists := eb.subscriptions[subscriptionID]; !exists {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(eb.subscriptions, subscriptionID)

	eb.logger.Debug("subscription removed", "subscription_id", subscriptionID)
	return nil
}

// GetSubscriptions returns all active subscriptions
func (eb *eventBus) GetSubscriptions() []*Subscription {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	subscriptions := make([]*Subscription, 0, len(eb.subscriptions))
	for _, sub := range eb.subscriptions {
		subscriptions = append(subscriptions, sub)
	}
	return subscriptions
}

// RecentEvents returns up to limit of the most recent events matching filter,
// oldest first.
func (eb *eventBus) RecentEvents(filter EventFilter, limit int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	filtered := FilterEvents(eb.recentEvents, filter)
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// GetStats returns event bus statistics
func (eb *eventBus) GetStats() EventStats {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	stats := eb.stats
	stats.EventsByType = make(map[string]int64, len(eb.stats.EventsByType))
	for k, v := range eb.stats.EventsByType {
		stats.EventsByType[k] = v
	}
	stats.ActiveSubscriptions = len(eb.subscriptions)
	stats.DroppedEvents = eb.dropped.Load()
	return stats
}

// Health returns the health status of the event bus
func (eb *eventBus) Health() error {
	eb.sendMu.RLock()
	defer eb.sendMu.RUnlock()

	if !eb.running {
		return fmt.Errorf("event bus is not running")
	}

	channelUsage := float64(len(eb.eventChannel)) / float64(cap(eb.eventChannel))
	if channelUsage > 0.9 {
		return fmt.Errorf("event channel is %d%% full", int(channelUsage*100))
	}
	return nil
}

func (eb *eventBus) prepare(event Event) (Event, error) {
	if event.Type == "" {
		return event, fmt.Errorf("invalid event: type is required")
	}
	if event.ID == "" {
		event.ID = utils.GenerateUUID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Source == "" {
		event.Source = "system"
	}
	return event, nil
}

func (eb *eventBus) processEvents(ctx context.Context, events <-chan Event, stopCh <-chan struct{}) {
	defer eb.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			eb.logger.Debug("event processor stopping due to context cancellation")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			eb.handleEvent(event)
		}
	}
}

func (eb *eventBus) handleEvent(event Event) {
	eb.mu.Lock()
	eb.recentEvents = append(eb.recentEvents, event)
	if len(eb.recentEvents) > eb.config.RecentEvents {
		eb.recentEvents = eb.recentEvents[1:]
	}
	eb.stats.TotalEvents++
	eb.stats.EventsByType[string(event.Type)]++

	var matching []*Subscription
	for _, sub := range eb.subscriptions {
		if MatchesFilter(event, sub.Filter) {
			now := time.Now()
			sub.LastTriggered = &now
			sub.TriggerCount++
			matching = append(matching, sub)
		}
	}
	eb.mu.Unlock()

	for _, sub := range matching {
		if err := eb.invoke(sub, event); err != nil {
			eb.mu.Lock()
			eb.stats.HandlerErrors++
			eb.mu.Unlock()
			eb.logger.Warn("event handler failed", "subscription_id", sub.ID, "event_type", event.Type, "error", err)
		}
	}
}

func (eb *eventBus) invoke(sub *Subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.Handler(event)
}

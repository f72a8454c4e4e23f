package bus

import "time"

// AnyType subscribes a handler to every event type of a topic.
const AnyType = "*"

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Handlers subscribe per topic and event type; the default topic is "".
// Delivery is synchronous in the publisher's goroutine, so handlers should be
// quick or hand work off. Handler errors are joined and returned from Publish.
type EventBus interface {
	// Publish delivers event to the subscribers of its type in the default topic.
	Publish(event Event) error
	// PublishToTopic delivers event to the subscribers of its type in topic,
	// and to the topic's AnyType subscribers.
	PublishToTopic(topic string, event Event) error

	// Subscribe registers handler for eventType in the default topic.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// SubscribeTopic registers handler for eventType (or AnyType) within topic.
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels sub. A nil subscription is ignored.
	Unsubscribe(sub Subscription) error

	// PublishAsync publishes from a new goroutine. The returned channel receives
	// the delivery error (or nil) and is then closed.
	PublishAsync(topic string, event Event) <-chan error

	// DropTopic removes every subscription of topic.
	DropTopic(topic string)
	// GetMetrics returns a snapshot of the delivery counters.
	GetMetrics() EventBusMetrics
}

// Event is an immutable message transported by the bus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
	Metadata() map[string]any
}

type (
	// EventHandler is invoked once per delivered event.
	EventHandler func(event Event) error
)

// Subscription is a registered handler. Cancel is safe to call more than once.
type Subscription interface {
	ID() string
	Topic() string
	EventType() string
	IsActive() bool
	Cancel() error
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
	Topics            uint64
}

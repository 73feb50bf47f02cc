package bus

import (
	"context"
	"time"
)

// Bus is the message bus facade combining all sub-interfaces.
type Bus interface {
	Pinger
	Publisher
	Subscriber
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks bus connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Message is a single entry delivered from a topic.
type Message struct {
	ID      string // transport-assigned entry id
	Topic   string
	Key     string
	Payload []byte
}

// Publisher appends messages to a topic.
type Publisher interface {
	// Publish returns once the transport has accepted the message.
	// The returned string is the transport-assigned entry id.
	Publish(ctx context.Context, topic, key string, payload []byte) (string, error)
}

// Subscriber opens subscriptions on a topic.
type Subscriber interface {
	// Subscribe delivers every message appended to topic after the call returns.
	// A non-nil error means the subscription could not be established.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is a cancellable stream of messages.
type Subscription interface {
	// Messages is closed when delivery stops (Close, ctx cancellation or transport failure).
	Messages() <-chan Message
	// Err reports the transport failure that stopped delivery, nil otherwise.
	Err() error
	// Close stops delivery and releases the underlying resources. Safe to call more than once.
	Close() error
}
